package notify

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/pkg/clients/whatsapp"
)

// Channels is the set of channels built from configuration.
type Channels struct {
	Escalation []Channel
	Standard   []Channel

	redis *redis.Client
}

// Close releases connections held by the channels.
func (c *Channels) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// BuildChannels instantiates the channels named by the routing lists. A
// channel without the settings it needs is skipped with a warning, as is an
// unknown name.
func BuildChannels(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (*Channels, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	out := &Channels{}
	built := make(map[string]Channel)

	build := func(name string) Channel {
		var ch Channel
		switch name {
		case "log":
			ch = NewLogChannel(logger.Named("alerts"))
		case "webhook":
			if cfg.ChatWebhookURL == "" {
				logger.Warn("webhook channel requested but CHAT_WEBHOOK_URL is empty, skipping")
				return nil
			}
			ch = NewWebhookChannel(cfg.ChatWebhookURL)
		case "whatsapp":
			if !cfg.WhatsApp.Enabled() {
				logger.Warn("whatsapp channel requested but WhatsApp settings are incomplete, skipping")
				return nil
			}
			ch = NewWhatsAppChannel(whatsapp.NewClient(cfg.WhatsApp), cfg.WhatsApp.Recipient)
		case "email":
			if !cfg.Email.Enabled() {
				logger.Warn("email channel requested but SMTP settings are incomplete, skipping")
				return nil
			}
			ch = NewEmailChannel(cfg.Email)
		case "stream":
			if !cfg.Redis.Enabled() {
				logger.Warn("stream channel requested but REDIS_ADDR is empty, skipping")
				return nil
			}
			if out.redis == nil {
				out.redis = redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
				})
				if err := out.redis.Ping(ctx).Err(); err != nil {
					logger.Warn("redis unreachable at startup, stream deliveries will be retried per alert", zap.Error(err))
				}
			}
			ch = NewStreamChannel(out.redis, cfg.Redis.Stream)
		default:
			logger.Warn("unknown notification channel, skipping", zap.String("channel", name))
			return nil
		}

		return ch
	}

	get := func(name string) Channel {
		ch, ok := built[name]
		if !ok {
			ch = build(name)
			built[name] = ch
		}
		return ch
	}

	for _, name := range cfg.EscalationChannels {
		if ch := get(name); ch != nil {
			out.Escalation = append(out.Escalation, ch)
		}
	}
	for _, name := range cfg.StandardChannels {
		if ch := get(name); ch != nil {
			out.Standard = append(out.Standard, ch)
		}
	}

	if len(out.Escalation) == 0 && len(out.Standard) == 0 {
		return out, errors.New("no notification channel could be configured")
	}
	return out, nil
}
