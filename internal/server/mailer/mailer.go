// Package mailer delivers transactional email (one-time passcodes).
package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/paykeeper/internal/logging"
)

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// From may include a display name: "PayKeeper <no-reply@example.com>".
	From string
}

type SMTPSender struct {
	config SMTPConfig
	auth   smtp.Auth
}

// sendMail is a seam for tests.
var sendMail = smtp.SendMail

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}
	return &SMTPSender{config: config, auth: auth}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	envelopeFrom := s.config.From
	if addr, err := mail.ParseAddress(s.config.From); err == nil {
		envelopeFrom = addr.Address
	}

	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	msg := buildMessage(s.config.From, to, subject, body)

	if err := sendMail(addr, s.auth, envelopeFrom, []string{sanitizeHeader(to)}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	lines := []string{
		"From: " + sanitizeHeader(from),
		"To: " + sanitizeHeader(to),
		"Subject: " + sanitizeHeader(subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// LogSender writes messages to the log instead of sending them. Used in
// development when no SMTP host is configured.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info(ctx, "email not sent (dev mode)", "to", to, "subject", subject, "body", body)
	return nil
}
