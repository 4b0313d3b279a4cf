package identity

import (
	"context"
	"time"

	"github.com/smith3v/flashdeck/pkg/logger"
)

// Notifier delivers password reset tokens to the account owner.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string, expires time.Time) error
}

// LogNotifier writes reset tokens to the log. It stands in for a mailer in
// development setups.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(_ context.Context, email, token string, expires time.Time) error {
	logger.Info("password reset token issued", "email", email, "token", token, "expires_at", expires)
	return nil
}
