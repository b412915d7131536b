// Package notify routes raised alerts to delivery channels by severity.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// Channel is an opaque sink for alert messages.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert models.Alert) error
}

// Notifier delivers Critical alerts through the escalation channels and every
// other severity through the standard channels.
type Notifier struct {
	escalation []Channel
	standard   []Channel
	logger     *zap.Logger
}

// NewNotifier creates a Notifier with the given routes.
func NewNotifier(escalation, standard []Channel, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		escalation: escalation,
		standard:   standard,
		logger:     logger,
	}
}

// Route returns the channels an alert of severity is sent to.
func (n *Notifier) Route(severity models.Severity) []Channel {
	if severity == models.SeverityCritical {
		return n.escalation
	}
	return n.standard
}

// Dispatch sends every alert to every channel of its route. Each attempt
// produces one Delivery; failures are logged and never abort the remaining
// sends.
func (n *Notifier) Dispatch(ctx context.Context, alerts []models.Alert) []models.Delivery {
	var deliveries []models.Delivery
	for _, alert := range alerts {
		channels := n.Route(alert.Severity)
		if len(channels) == 0 {
			n.logger.Warn("no channel configured for severity",
				zap.String("alert_id", alert.ID),
				zap.String("severity", string(alert.Severity)),
			)
			continue
		}

		for _, ch := range channels {
			delivery := models.Delivery{AlertID: alert.ID, Channel: ch.Name()}
			if err := ch.Send(ctx, alert); err != nil {
				err = fmt.Errorf("%w: %s: %w", models.ErrNotificationDelivery, ch.Name(), err)
				delivery.Error = err.Error()
				n.logger.Warn("alert delivery failed",
					zap.String("alert_id", alert.ID),
					zap.String("channel", ch.Name()),
					zap.Error(err),
				)
			} else {
				delivery.Delivered = true
				n.logger.Debug("alert delivered",
					zap.String("alert_id", alert.ID),
					zap.String("channel", ch.Name()),
				)
			}
			deliveries = append(deliveries, delivery)
		}
	}
	return deliveries
}

// FormatMessage renders the human readable text shared by chat style channels.
func FormatMessage(alert models.Alert) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Message)
}
