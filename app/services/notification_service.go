// Package services provides external service integrations and technical concerns like mail, tokens and tasks
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/Kagutsuchi/config"
	"go.uber.org/zap"
)

// Mail is an outgoing message
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail. Callers treat delivery as best effort.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer records messages in the log instead of delivering them
type LogMailer struct {
	from   string
	logger *zap.Logger
}

// NewLogMailer creates a mailer that logs every message
func NewLogMailer(cfg config.EmailConfig, logger *zap.Logger) *LogMailer {
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	return &LogMailer{from: from, logger: logger.Named("mailer")}
}

func (m *LogMailer) Send(ctx context.Context, mail Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.Contains(mail.To, "@") {
		return fmt.Errorf("invalid recipient %q", mail.To)
	}
	m.logger.Info("Mail queued",
		zap.String("from", m.from),
		zap.String("to", mail.To),
		zap.String("subject", mail.Subject),
		zap.Int("body_bytes", len(mail.Body)),
	)
	return nil
}

// SubmissionConfirmation builds the confirmation mail sent after intake
func SubmissionConfirmation(to, formName string) Mail {
	return Mail{
		To:      to,
		Subject: "We received your application",
		Body:    fmt.Sprintf("Thank you for signing up through %s. We will get back to you soon.", formName),
	}
}
