package service

import (
	"context"
	"errors"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/pkg/idx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// casRetryBudget bounds how often a compare-and-set update is retried after
// losing a race. Exhausting it surfaces as ErrConflictRetryExhausted rather
// than looping forever under pathological contention.
const casRetryBudget = 3

// ErrConflictRetryExhausted means an optimistic update kept losing to
// concurrent writers. The caller can simply retry the whole operation.
var ErrConflictRetryExhausted = errors.New("conflict_retry_exhausted")

// casRetry runs fn up to casRetryBudget times while it keeps failing with
// store.ErrVersionConflict. fn must reload the row on every attempt.
func casRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for range casRetryBudget {
		err = fn(ctx)
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
	return ErrConflictRetryExhausted
}

// appendAudit writes an audit row. Audit failures are logged and swallowed:
// a full audit table must never block a login.
func appendAudit(ctx context.Context, s store.Store, accountID, actor, action, detail string) {
	entry := domain.AuditEntry{
		ID:        idx.New().String(),
		AccountID: accountID,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.AuditLog().AppendAudit(ctx, entry); err != nil {
		slogx.FromContext(ctx).Error("failed to append audit entry",
			"action", action, "account_id", accountID, "error", err)
	}
}

// ActorSystem marks audit entries produced by internal transitions rather
// than a human caller.
const ActorSystem = "system"
