package email

import (
	"context"
	"fmt"
	"time"

	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

const smtpTimeout = 15 * time.Second

// SMTP sends alerts through one reusable go-mail client; each SendAlert
// dials, sends and hangs up.
type SMTP struct {
	client   *gomail.Client
	from     string
	fromName string
}

// NewSMTP prepares the client without dialing.
func NewSMTP(cfg config.SMTPConfig) (*SMTP, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.GetSMTPPort()),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(smtpTimeout),
	}
	if user := cfg.GetSMTPUsername(); user != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(user),
			gomail.WithPassword(cfg.GetSMTPPassword()),
		)
	}
	client, err := gomail.NewClient(cfg.GetSMTPHost(), opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTP{client: client, from: cfg.GetEmailFromAddress(), fromName: cfg.GetEmailFromName()}, nil
}

func (s *SMTP) compose(to, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "smtp: bad sender address", err)
	}
	if err := msg.To(to); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "smtp: bad recipient address", err)
	}
	msg.Subject(subject)
	msg.SetMessageID()
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

func (s *SMTP) SendAlert(ctx context.Context, to, subject, body string) error {
	msg, err := s.compose(to, subject, body)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return apperr.Unavailable("smtp: send failed", err)
	}
	return nil
}
