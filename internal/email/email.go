// Package email delivers plain-text notification mails over SMTP.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/stromtracker/meterbot/pkg/config"
)

// Sender delivers one mail to one recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type smtpSender struct {
	cfg config.SMTPConfig
	log *slog.Logger

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender builds a Sender against the configured relay.
func NewSMTPSender(cfg config.SMTPConfig, log *slog.Logger) Sender {
	if log == nil {
		log = slog.Default()
	}

	return &smtpSender{cfg: cfg, log: log, send: smtp.SendMail}
}

func (s *smtpSender) Send(ctx context.Context, to, subject, body string) error {
	if !s.cfg.Enabled {
		s.log.Info("smtp disabled, mail skipped", slog.String("to", to))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := buildMessage(s.cfg.From, to, subject, body)

	if err := s.send(s.cfg.SMTPAddr(), auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}

	s.log.Info("mail sent", slog.String("to", to), slog.String("subject", subject))

	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
