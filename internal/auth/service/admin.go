package service

import (
	"context"
	"fmt"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/store"
)

// AdminService covers break-glass operations. Every call is attributed to
// the acting admin and lands in the audit log; there is no way to flip
// security state without a trace.
type AdminService struct {
	Store store.Store
}

// ForceUnlock clears the lock and the failure counter immediately instead
// of waiting out the lock window.
func (s *AdminService) ForceUnlock(ctx context.Context, actorID, accountID, reason string) error {
	err := casRetry(ctx, func(ctx context.Context) error {
		account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.LockedUntil == nil && account.LoginAttempts == 0 {
			return nil
		}
		account.LockedUntil = nil
		account.LoginAttempts = 0
		return s.Store.Accounts().UpdateAccountCAS(ctx, account, account.Version)
	})
	if err != nil {
		return err
	}

	appendAudit(ctx, s.Store, accountID, actorID, domain.AuditAdminForceUnlock, reason)
	return nil
}

// ForceDisableMFA tears down MFA on behalf of a user who exhausted the
// self-service recovery paths. Secret, replay marker and recovery codes all
// go; the user re-enrolls from scratch.
func (s *AdminService) ForceDisableMFA(ctx context.Context, actorID, accountID, reason string) error {
	err := casRetry(ctx, func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(tx store.Tx) error {
			account, err := tx.Accounts().GetAccountByID(ctx, accountID)
			if err != nil {
				return err
			}
			if err := tx.RecoveryCodes().DeleteAccountRecoveryCodes(ctx, accountID); err != nil {
				return fmt.Errorf("failed to delete recovery codes: %w", err)
			}
			account.MFAState = domain.MFADisabled
			account.MFASecret = nil
			account.LastMFAStep = nil
			return tx.Accounts().UpdateAccountCAS(ctx, account, account.Version)
		})
	})
	if err != nil {
		return err
	}

	appendAudit(ctx, s.Store, accountID, actorID, domain.AuditAdminMFADisabled, reason)
	return nil
}

// SetActive suspends or reinstates an account. Suspended accounts fail
// every authentication path until reinstated.
func (s *AdminService) SetActive(ctx context.Context, actorID, accountID string, active bool, reason string) error {
	err := casRetry(ctx, func(ctx context.Context) error {
		account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Active == active {
			return nil
		}
		account.Active = active
		return s.Store.Accounts().UpdateAccountCAS(ctx, account, account.Version)
	})
	if err != nil {
		return err
	}

	detail := fmt.Sprintf("active=%t", active)
	if reason != "" {
		detail += " " + reason
	}
	appendAudit(ctx, s.Store, accountID, actorID, domain.AuditAdminSetActive, detail)
	return nil
}

// ListAudit returns the newest audit entries for an account.
func (s *AdminService) ListAudit(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	return s.Store.AuditLog().ListAccountAudit(ctx, accountID, limit)
}
