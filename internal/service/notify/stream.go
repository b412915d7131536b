package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// StreamChannel appends alerts to a Redis stream for downstream consumers.
type StreamChannel struct {
	client *redis.Client
	stream string
}

// NewStreamChannel creates a channel writing to stream.
func NewStreamChannel(client *redis.Client, stream string) *StreamChannel {
	return &StreamChannel{client: client, stream: stream}
}

// Name implements Channel.
func (c *StreamChannel) Name() string { return "stream" }

// Send implements Channel.
func (c *StreamChannel) Send(ctx context.Context, alert models.Alert) error {
	snapshot, err := json.Marshal(alert.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]any{
			"alert_id":  alert.ID,
			"severity":  string(alert.Severity),
			"rule":      string(alert.Rule),
			"equipment": string(alert.Equipment),
			"message":   alert.Message,
			"snapshot":  string(snapshot),
			"raised_at": alert.RaisedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", c.stream, err)
	}
	return nil
}
