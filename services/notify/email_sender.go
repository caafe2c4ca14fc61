package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	gomail "gopkg.in/mail.v2"

	"stock_alerts_backend/config"
)

// EmailSender delivers messages via SMTP
type EmailSender struct {
	cfg  config.SMTPConfig
	send func(*gomail.Message) error
	log  logrus.FieldLogger
}

// NewEmailSender creates a sender. Without an SMTP server or from address it
// logs a warning once and every Send is a no-op.
func NewEmailSender(cfg config.SMTPConfig, log logrus.FieldLogger) *EmailSender {
	s := &EmailSender{cfg: cfg, log: log.WithField("component", "email")}
	if !cfg.Enabled() {
		s.log.Warn("SMTP_SERVER or EMAIL_FROM not set, email notifications disabled")
		return s
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = 10 * time.Second
	s.send = func(m *gomail.Message) error { return dialer.DialAndSend(m) }
	return s
}

func (s *EmailSender) Channel() string { return "email" }

// Send delivers an email with HTML body and plain text fallback
func (s *EmailSender) Send(ctx context.Context, to Recipient, msg *RenderedMessage) error {
	if s.send == nil {
		return nil
	}
	if to.Email == "" {
		return errors.New("recipient has no email address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	if to.Name != "" {
		m.SetAddressHeader("To", to.Email, to.Name)
	} else {
		m.SetHeader("To", to.Email)
	}
	m.SetHeader("Subject", msg.Subject)

	if msg.HTML != "" && msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else if msg.HTML != "" {
		m.SetBody("text/html", msg.HTML)
	} else {
		m.SetBody("text/plain", msg.Text)
	}

	if err := s.send(m); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"to": to.Email, "subject": msg.Subject}).Debug("Email sent")
	return nil
}
