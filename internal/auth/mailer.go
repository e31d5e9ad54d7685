package auth

import (
	"context"
	"log/slog"
)

// Mailer delivers the email-verification link sent on sign-up.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
}

// LogMailer writes the link to the log instead of sending mail. It is what
// local development runs with: copy the link from the server output.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendVerification(ctx context.Context, email, link string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification email", "to", email, "link", link)
	return nil
}
