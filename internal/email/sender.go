// Package email delivers operator alerts by e-mail.
package email

import (
	"context"

	"booking_sync_backend/platform/config"
)

// Sender delivers one plain-text message.
type Sender interface {
	SendAlert(ctx context.Context, toEmail, subject, body string) error
}

// NoopSender is used when SMTP is not configured.
type NoopSender struct{}

func (NoopSender) SendAlert(context.Context, string, string, string) error { return nil }

// NewSender returns NoopSender when SMTP is disabled.
func NewSender(cfg config.SMTPConfig) (Sender, error) {
	if !cfg.IsSMTPEnabled() {
		return NoopSender{}, nil
	}
	return NewSMTP(cfg)
}
