// Package mail delivers verification and password reset emails.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"

	"github.com/lborres/templatex/core"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	// From defaults to Username.
	From string
}

func (c SMTPConfig) IsConfigured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// SMTP sends HTML mail with PLAIN auth.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ core.Mailer = (*SMTP)(nil)

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail}
}

var messageTemplate = template.Must(template.New("message").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h1 style="color: #0066cc;">TemplateX</h1>
        <p>{{.Body}}</p>
        {{if .Link}}<p><a href="{{.Link}}">{{.Link}}</a></p>{{end}}
        <p style="color: #888; font-size: 12px;">If you did not request this, ignore this email.</p>
    </div>
</body>
</html>`))

// Send ignores ctx; net/smtp has no context support.
func (s *SMTP) Send(ctx context.Context, msg core.Message) error {
	raw, err := s.build(msg)
	if err != nil {
		return err
	}

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	if err := s.send(addr, auth, s.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *SMTP) build(msg core.Message) ([]byte, error) {
	var body bytes.Buffer
	if err := messageTemplate.Execute(&body, msg); err != nil {
		return nil, fmt.Errorf("failed to execute email template: %w", err)
	}

	return []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		s.cfg.From,
		msg.To,
		msg.Subject,
		body.String(),
	)), nil
}

// Log writes messages to the logger instead of sending them. Used when no
// SMTP server is configured.
type Log struct {
	logger *slog.Logger
}

var _ core.Mailer = (*Log)(nil)

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, msg core.Message) error {
	l.logger.InfoContext(ctx, "email not sent, no SMTP server configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("link", msg.Link),
	)
	return nil
}
