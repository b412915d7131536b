package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// Source kinds understood by the source reader factory.
const (
	SourceKindCSV    = "csv"
	SourceKindJSON   = "json"
	SourceKindXLSX   = "xlsx"
	SourceKindSheets = "sheets"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Database   DatabaseConfig
	Source     SourceConfig
	Sheets     SheetsConfig
	Scheduling SchedulingConfig
	Monitor    MonitorConfig
	Notify     NotifyConfig
	MongoDB    MongoDBConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string
	ServiceName string
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	Timeout      time.Duration
}

// SourceConfig describes where lab readings are loaded from.
type SourceConfig struct {
	Kind  string
	Path  string
	Sheet string
	Watch bool
}

// SheetsConfig contains configuration required to interact with Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// SchedulingConfig holds the cron expressions of the independent pipeline stages.
type SchedulingConfig struct {
	IngestCron     string
	MonitorCron    string
	IngestTimeout  time.Duration
	MonitorTimeout time.Duration
	Timezone       string
}

// MonitorConfig holds the alert rule thresholds.
type MonitorConfig struct {
	WindowDays              int
	ExpectedEquipment       []string
	CriticalYield           float64
	MediumYield             float64
	CriticalRepeatRate      float64
	MediumRepeatRate        float64
	MinSamples              int
	ShiftImbalanceThreshold float64
}

// NotifyConfig routes alerts to channels and carries each channel's settings.
type NotifyConfig struct {
	EscalationChannels []string
	StandardChannels   []string
	ChatWebhookURL     string
	WhatsApp           WhatsAppConfig
	Email              EmailConfig
	Redis              RedisConfig
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	Recipient     string
}

// Enabled reports whether enough settings are present to send messages.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != "" && c.Recipient != ""
}

// EmailConfig holds SMTP settings for the escalation mailbox.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Enabled reports whether enough settings are present to send mail.
func (c EmailConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

// RedisConfig holds the alert stream settings.
type RedisConfig struct {
	Addr     string
	Password string
	Stream   string
}

// Enabled reports whether the stream channel can be built.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// MongoDBConfig holds settings for the optional alert archive.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// Enabled reports whether the alert archive should be connected.
func (c MongoDBConfig) Enabled() bool {
	return c.URI != ""
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	var parseErrs []error
	p := parser{errs: &parseErrs}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Log: LogConfig{
			Level:       getenvWithDefault("LOG_LEVEL", "info"),
			ServiceName: getenvWithDefault("SERVICE_NAME", "labpulse"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: p.int("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: p.int("DB_MAX_IDLE_CONNS", 5),
			Timeout:      p.duration("STORE_TIMEOUT", 10*time.Second),
		},
		Source: SourceConfig{
			Kind:  strings.ToLower(os.Getenv("SOURCE_KIND")),
			Path:  os.Getenv("SOURCE_PATH"),
			Sheet: os.Getenv("SOURCE_SHEET"),
			Watch: p.bool("SOURCE_WATCH", false),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
		},
		Scheduling: SchedulingConfig{
			IngestCron:     getenvWithDefault("INGEST_CRON_SCHEDULE", "0 * * * *"),
			MonitorCron:    getenvWithDefault("MONITOR_CRON_SCHEDULE", "*/5 * * * *"),
			IngestTimeout:  p.duration("INGEST_TIMEOUT", 5*time.Minute),
			MonitorTimeout: p.duration("MONITOR_TIMEOUT", time.Minute),
			Timezone:       getenvWithDefault("TIMEZONE", "UTC"),
		},
		Monitor: MonitorConfig{
			WindowDays:              p.int("MONITOR_WINDOW_DAYS", 1),
			ExpectedEquipment:       getenvList("MONITOR_EXPECTED_EQUIPMENT", []string{"ph_meter", "spectrophotometer", "centrifuge", "hematology_analyzer"}),
			CriticalYield:           p.float("MONITOR_CRITICAL_YIELD", 60),
			MediumYield:             p.float("MONITOR_MEDIUM_YIELD", 75),
			CriticalRepeatRate:      p.float("MONITOR_CRITICAL_REPEAT_RATE", 0.30),
			MediumRepeatRate:        p.float("MONITOR_MEDIUM_REPEAT_RATE", 0.20),
			MinSamples:              p.int("MONITOR_MIN_SAMPLES", 50),
			ShiftImbalanceThreshold: p.float("MONITOR_SHIFT_IMBALANCE_THRESHOLD", 0.40),
		},
		Notify: NotifyConfig{
			EscalationChannels: getenvList("NOTIFY_ESCALATION_CHANNELS", []string{"email", "whatsapp", "stream", "log"}),
			StandardChannels:   getenvList("NOTIFY_STANDARD_CHANNELS", []string{"webhook", "stream", "log"}),
			ChatWebhookURL:     os.Getenv("CHAT_WEBHOOK_URL"),
			WhatsApp: WhatsAppConfig{
				AccessToken:   os.Getenv("WHATSAPP_TOKEN"),
				PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
				BaseURL:       getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
				APIVersion:    getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
				Recipient:     os.Getenv("WHATSAPP_RECIPIENT"),
			},
			Email: EmailConfig{
				Host:     os.Getenv("SMTP_HOST"),
				Port:     p.int("SMTP_PORT", 587),
				Username: os.Getenv("SMTP_USERNAME"),
				Password: os.Getenv("SMTP_PASSWORD"),
				From:     os.Getenv("ALERT_EMAIL_FROM"),
				To:       getenvList("ALERT_EMAIL_TO", nil),
			},
			Redis: RedisConfig{
				Addr:     os.Getenv("REDIS_ADDR"),
				Password: os.Getenv("REDIS_PASSWORD"),
				Stream:   getenvWithDefault("REDIS_STREAM", "labpulse:alerts"),
			},
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "labpulse"),
		},
	}

	if len(parseErrs) > 0 {
		return nil, errors.Join(parseErrs...)
	}

	if cfg.Source.Kind == "" {
		cfg.Source.Kind = kindFromPath(cfg.Source.Path)
	}
	cfg.Monitor.ExpectedEquipment = canonicalEquipment(cfg.Monitor.ExpectedEquipment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	if c.Database.URL == "" {
		return errors.New("DATABASE_URL must be provided")
	}

	if c.Database.Timeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}

	switch c.Source.Kind {
	case SourceKindCSV, SourceKindJSON, SourceKindXLSX:
		if c.Source.Path == "" {
			return errors.New("SOURCE_PATH must be provided")
		}
	case SourceKindSheets:
		switch {
		case c.Sheets.CredentialsPath == "":
			return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH must be provided for sheets sources")
		case c.Sheets.SpreadsheetID == "":
			return errors.New("GOOGLE_SHEET_DATABASE_ID must be provided for sheets sources")
		case c.Source.Sheet == "":
			return errors.New("SOURCE_SHEET must name the sheet range for sheets sources")
		}
	case "":
		return errors.New("SOURCE_KIND or a SOURCE_PATH with a known extension must be provided")
	default:
		return fmt.Errorf("unsupported SOURCE_KIND %q", c.Source.Kind)
	}

	if c.Scheduling.IngestCron == "" {
		return errors.New("INGEST_CRON_SCHEDULE must be provided")
	}

	if c.Scheduling.MonitorCron == "" {
		return errors.New("MONITOR_CRON_SCHEDULE must be provided")
	}

	if c.Scheduling.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}

	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Scheduling.Timezone, err)
	}

	m := c.Monitor
	switch {
	case m.WindowDays < 0:
		return errors.New("MONITOR_WINDOW_DAYS must not be negative")
	case m.CriticalYield >= m.MediumYield:
		return errors.New("MONITOR_CRITICAL_YIELD must be lower than MONITOR_MEDIUM_YIELD")
	case m.MediumRepeatRate > m.CriticalRepeatRate:
		return errors.New("MONITOR_MEDIUM_REPEAT_RATE must not exceed MONITOR_CRITICAL_REPEAT_RATE")
	case m.ShiftImbalanceThreshold <= 0 || m.ShiftImbalanceThreshold > 1:
		return errors.New("MONITOR_SHIFT_IMBALANCE_THRESHOLD must be within (0, 1]")
	case len(m.ExpectedEquipment) == 0:
		return errors.New("MONITOR_EXPECTED_EQUIPMENT must list at least one instrument")
	}
	for _, name := range m.ExpectedEquipment {
		if _, err := models.ParseEquipment(name); err != nil {
			return fmt.Errorf("MONITOR_EXPECTED_EQUIPMENT: %w", err)
		}
	}

	if len(c.Notify.EscalationChannels) == 0 && len(c.Notify.StandardChannels) == 0 {
		return errors.New("at least one notification channel must be routed")
	}

	return nil
}

// canonicalEquipment rewrites instrument names to the identifiers stored with
// each record. Unknown names are kept so Validate can report them.
func canonicalEquipment(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if e, err := models.ParseEquipment(name); err == nil {
			name = string(e)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func kindFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return SourceKindCSV
	case ".json":
		return SourceKindJSON
	case ".xlsx", ".xlsm":
		return SourceKindXLSX
	default:
		return ""
	}
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parser collects typed parsing failures so Load can report them together.
type parser struct {
	errs *[]error
}

func (p parser) int(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return fallback
	}
	return parsed
}

func (p parser) float(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a number: %w", key, err))
		return fallback
	}
	return parsed
}

func (p parser) duration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return fallback
	}
	return parsed
}

func (p parser) bool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return fallback
	}
	return parsed
}
