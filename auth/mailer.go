package auth

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/globals"
)

// A Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer only logs the reset links, for development setups without a mail server.
type LogMailer struct {
	logger hclog.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{logger: globals.AppLogger.Named("mailer")}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	m.logger.Info("password reset requested", "email", email, "link", link)
	return nil
}
