package mailer

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher delivers short-lived codes to an account's email address.
// The plaintext code passes through here and is never persisted.
type Dispatcher interface {
	SendCode(ctx context.Context, email, code, purpose string, ttl time.Duration) error
}

// LogDispatcher writes codes to the log instead of sending mail. Dev only;
// a real SMTP or provider-backed dispatcher replaces it in production.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) SendCode(ctx context.Context, email, code, purpose string, ttl time.Duration) error {
	d.Logger.Info("email code dispatched",
		"email", email,
		"code", code,
		"purpose", purpose,
		"ttl", ttl,
	)
	return nil
}
