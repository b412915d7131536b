package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// WebhookChannel posts alerts to a Slack-compatible incoming webhook.
type WebhookChannel struct {
	client *resty.Client
	url    string
}

// NewWebhookChannel creates a channel posting to url.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		client: resty.New().SetTimeout(10 * time.Second),
		url:    url,
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, alert models.Alert) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": FormatMessage(alert)}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
