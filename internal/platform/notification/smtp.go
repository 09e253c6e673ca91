package notification

import (
	"context"
	"fmt"
	"io"

	"github.com/go-gomail/gomail"
	"github.com/rs/zerolog"
)

// SMTPConfig configures the SMTP email sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender sends email through an SMTP relay.
type SMTPSender struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
	}
}

func (s *SMTPSender) buildMessage(email Email) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	if email.ToName != "" {
		m.SetAddressHeader("To", email.To, email.ToName)
	} else {
		m.SetHeader("To", email.To)
	}
	m.SetHeader("Subject", email.Subject)
	m.SetBody("text/plain", email.Body)

	for _, a := range email.Attachments {
		data := a.Data
		m.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}
	return m
}

// SendEmail implements EmailSender.
func (s *SMTPSender) SendEmail(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.buildMessage(email)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogEmailSender writes emails to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s LogEmailSender) SendEmail(_ context.Context, email Email) error {
	names := make([]string, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		names = append(names, a.Name)
	}
	s.Logger.Info().
		Str("to", email.To).
		Str("subject", email.Subject).
		Strs("attachments", names).
		Msg("email (not sent, SMTP disabled)")
	return nil
}
