package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
	"github.com/mamadbah2/labpulse/internal/repository/postgres"
)

// Ingester runs one processor batch on demand.
type Ingester interface {
	Ingest(ctx context.Context) (*models.BatchSummary, error)
}

// CycleRunner runs one monitor cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*models.CycleResult, error)
}

// Store is the read side of the durable store used by the handlers.
type Store interface {
	Ping(ctx context.Context) error
	GetDailyStatistics(ctx context.Context, date time.Time) (*models.DailyStatistics, error)
}

// Summarizer computes filtered metric breakdowns.
type Summarizer interface {
	Summary(ctx context.Context, filter models.RecordFilter) (*models.DataSummary, error)
}

// AlertLister lists archived alerts.
type AlertLister interface {
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// PipelineHandler exposes the pipeline stages over HTTP.
type PipelineHandler struct {
	ingester  Ingester
	monitor   CycleRunner
	store     Store
	summaries Summarizer
	alerts    AlertLister
	logger    *zap.Logger
}

// NewPipelineHandler constructs the HTTP handler adapter. alerts may be nil
// when no archive is configured.
func NewPipelineHandler(ingester Ingester, monitor CycleRunner, store Store, summaries Summarizer, alerts AlertLister, logger *zap.Logger) *PipelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineHandler{
		ingester:  ingester,
		monitor:   monitor,
		store:     store,
		summaries: summaries,
		alerts:    alerts,
		logger:    logger,
	}
}

// Health reports whether the durable store answers.
func (h *PipelineHandler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ingest runs one batch now and returns its summary.
func (h *PipelineHandler) Ingest(c *gin.Context) {
	summary, err := h.ingester.Ingest(c.Request.Context())
	if err != nil {
		h.logger.Error("manual ingestion failed", zap.Error(err))
		c.JSON(statusFor(err), summary)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RunMonitor runs one monitor cycle now and returns its result.
func (h *PipelineHandler) RunMonitor(c *gin.Context) {
	result, err := h.monitor.RunCycle(c.Request.Context())
	if err != nil {
		h.logger.Error("manual monitor cycle failed", zap.Error(err))
		c.JSON(statusFor(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Statistics returns the daily statistics of the :date path parameter.
func (h *PipelineHandler) Statistics(c *gin.Context) {
	date, err := time.ParseInLocation(models.DateLayout, c.Param("date"), time.UTC)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted as YYYY-MM-DD"})
		return
	}

	stats, err := h.store.GetDailyStatistics(c.Request.Context(), date)
	if errors.Is(err, postgres.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no statistics for " + c.Param("date")})
		return
	}
	if err != nil {
		h.logger.Error("failed to load statistics", zap.String("date", c.Param("date")), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Summary returns per-equipment and per-shift statistics and outliers for the
// records matching the optional start_date, end_date and equipment query
// parameters.
func (h *PipelineHandler) Summary(c *gin.Context) {
	var filter models.RecordFilter

	for _, bound := range []struct {
		param string
		dst   *time.Time
	}{
		{"start_date", &filter.From},
		{"end_date", &filter.To},
	} {
		raw := c.Query(bound.param)
		if raw == "" {
			continue
		}
		date, err := time.ParseInLocation(models.DateLayout, raw, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": bound.param + " must be formatted as YYYY-MM-DD"})
			return
		}
		*bound.dst = date
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must not be before start_date"})
		return
	}

	if raw := c.Query("equipment"); raw != "" {
		equipment, err := models.ParseEquipment(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Equipment = equipment
	}

	summary, err := h.summaries.Summary(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to build data summary", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "failed to build data summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Alerts lists the most recent archived alerts.
func (h *PipelineHandler) Alerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert archive is not configured"})
		return
	}

	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAlertLimit)
	}

	alerts, err := h.alerts.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrStorageTimeout), errors.Is(err, models.ErrIngestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
