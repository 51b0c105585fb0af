package email

import (
	"context"
	"testing"

	"booking_sync_backend/platform/apperr"
)

type smtpConfig struct {
	host string
	from string
}

func (c smtpConfig) GetSMTPHost() string         { return c.host }
func (c smtpConfig) GetSMTPPort() int            { return 587 }
func (c smtpConfig) GetSMTPUsername() string     { return "bot" }
func (c smtpConfig) GetSMTPPassword() string     { return "secret" }
func (c smtpConfig) GetEmailFromName() string    { return "Booking Sync" }
func (c smtpConfig) GetEmailFromAddress() string { return c.from }
func (c smtpConfig) IsSMTPEnabled() bool         { return c.host != "" && c.from != "" }

func TestNewSenderDisabled(t *testing.T) {
	s, err := NewSender(smtpConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(NoopSender); !ok {
		t.Fatalf("expected NoopSender, got %T", s)
	}
	if err := s.SendAlert(context.Background(), "ops@example.com", "x", "y"); err != nil {
		t.Fatalf("noop sender returned %v", err)
	}
}

func TestNewSenderEnabled(t *testing.T) {
	s, err := NewSender(smtpConfig{host: "smtp.example.com", from: "bot@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*SMTP); !ok {
		t.Fatalf("expected *SMTP, got %T", s)
	}
}

func TestComposeRejectsBadRecipient(t *testing.T) {
	s, err := NewSMTP(smtpConfig{host: "smtp.example.com", from: "bot@example.com"})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	if _, err := s.compose("ops@example.com", SubjectMissingHandle, "body"); err != nil {
		t.Fatalf("compose: %v", err)
	}

	err = s.SendAlert(context.Background(), "not an address", "x", "y")
	if !apperr.IsDataError(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}
