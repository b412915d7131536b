package notify

import (
	"context"

	"github.com/mamadbah2/labpulse/internal/domain/models"
	"github.com/mamadbah2/labpulse/pkg/clients/whatsapp"
)

// WhatsAppChannel texts alerts to the on-call phone.
type WhatsAppChannel struct {
	client    whatsapp.Client
	recipient string
}

// NewWhatsAppChannel creates a channel sending to recipient.
func NewWhatsAppChannel(client whatsapp.Client, recipient string) *WhatsAppChannel {
	return &WhatsAppChannel{client: client, recipient: recipient}
}

// Name implements Channel.
func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Send implements Channel.
func (c *WhatsAppChannel) Send(ctx context.Context, alert models.Alert) error {
	_, err := c.client.SendTextMessage(ctx, whatsapp.SendTextMessageRequest{
		To:   c.recipient,
		Body: FormatMessage(alert),
	})
	return err
}
