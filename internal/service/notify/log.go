package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// LogChannel writes alerts to the structured log. It never fails.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a channel on logger.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Name implements Channel.
func (c *LogChannel) Name() string { return "log" }

// Send implements Channel.
func (c *LogChannel) Send(_ context.Context, alert models.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("rule", string(alert.Rule)),
		zap.String("message", alert.Message),
		zap.Float64("avg_yield", alert.Snapshot.AvgYield),
		zap.Float64("repeat_rate", alert.Snapshot.RepeatRate),
	}
	if alert.Equipment != "" {
		fields = append(fields, zap.String("equipment", string(alert.Equipment)))
	}

	switch alert.Severity {
	case models.SeverityCritical:
		c.logger.Error("lab alert", fields...)
	default:
		c.logger.Warn("lab alert", fields...)
	}
	return nil
}
