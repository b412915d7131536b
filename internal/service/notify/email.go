package notify

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel mails alerts to the lab supervisors over SMTP.
type EmailChannel struct {
	sender mailSender
	from   string
	to     []string
}

// NewEmailChannel creates a channel from SMTP settings.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.To,
	}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Send implements Channel. The SMTP dialer has no context support, so ctx is
// only checked before dialing.
func (c *EmailChannel) Send(ctx context.Context, alert models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sender.DialAndSend(c.message(alert)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (c *EmailChannel) message(alert models.Alert) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", c.to...)
	m.SetHeader("Subject", fmt.Sprintf("[labpulse][%s] %s", strings.ToUpper(string(alert.Severity)), alert.Rule))
	m.SetBody("text/plain", emailBody(alert))
	return m
}

func emailBody(alert models.Alert) string {
	s := alert.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "Raised at:      %s\n", alert.RaisedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Window start:   %s\n", s.WindowStart.Format(models.DateLayout))
	fmt.Fprintf(&b, "Records:        %d\n", s.TotalRecords)
	fmt.Fprintf(&b, "Average yield:  %.1f%%\n", s.AvgYield)
	fmt.Fprintf(&b, "Repeat rate:    %.1f%%\n", s.RepeatRate*100)
	fmt.Fprintf(&b, "Samples:        %d\n", s.TotalSamples)
	if len(s.MissingEquipment) > 0 {
		names := make([]string, len(s.MissingEquipment))
		for i, e := range s.MissingEquipment {
			names[i] = e.DisplayName()
		}
		fmt.Fprintf(&b, "Silent equipment: %s\n", strings.Join(names, ", "))
	}
	return b.String()
}
