package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stafflane/stafflane/internal/auth/captcha"
	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/mailer"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/pkg/cryptox"
	"github.com/stafflane/stafflane/pkg/idx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

const (
	// DefaultEmailCodeTTL is how long an emailed code stays redeemable.
	DefaultEmailCodeTTL = 10 * time.Minute

	// DefaultResendInterval throttles how often a fresh code can be
	// requested for the same account and purpose.
	DefaultResendInterval = time.Minute

	// emailCodeDigits is the length of the numeric code the user retypes.
	emailCodeDigits = 6

	// maxEmailCodeAttempts caps wrong guesses against a single code.
	maxEmailCodeAttempts = 5
)

var (
	ErrCodeExpired   = errors.New("code_expired")
	ErrCodeMismatch  = errors.New("code_mismatch")
	ErrRateLimited   = errors.New("rate_limited")
	ErrCaptchaFailed = errors.New("captcha_failed")
)

type RecoveryService struct {
	Store   store.Store
	Mailer  mailer.Dispatcher
	Captcha captcha.Verifier

	CodeTTL        time.Duration
	ResendInterval time.Duration
}

func (s *RecoveryService) codeTTL() time.Duration {
	if s.CodeTTL <= 0 {
		return DefaultEmailCodeTTL
	}
	return s.CodeTTL
}

func (s *RecoveryService) resendInterval() time.Duration {
	if s.ResendInterval <= 0 {
		return DefaultResendInterval
	}
	return s.ResendInterval
}

// RequestEmailCode mints a short numeric code and dispatches it to the
// account's email address. Unknown addresses succeed silently so the
// endpoint cannot be used to enumerate accounts.
func (s *RecoveryService) RequestEmailCode(ctx context.Context, email, purpose string) error {
	l := slogx.FromContext(ctx)

	if purpose != domain.EmailCodePurposeLogin && purpose != domain.EmailCodePurposeMFAReset {
		return fmt.Errorf("unknown email code purpose %q", purpose)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	account, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Info("email code requested for unknown address")
			return nil
		}
		return err
	}
	if !account.Active {
		return ErrAccountInactive
	}

	lastSent, err := s.Store.EmailCodes().LatestEmailCodeSentAt(ctx, account.ID, purpose)
	if err != nil {
		return err
	}
	if lastSent != nil && time.Since(*lastSent) < s.resendInterval() {
		return ErrRateLimited
	}

	code, err := cryptox.GenerateNumericCode(emailCodeDigits)
	if err != nil {
		return fmt.Errorf("failed to generate email code: %w", err)
	}

	now := time.Now().UTC()
	record := domain.EmailCode{
		ID:              idx.New().String(),
		AccountID:       account.ID,
		CodeFingerprint: cryptox.FingerprintToken(code),
		Purpose:         purpose,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.codeTTL()),
	}
	if err := s.Store.EmailCodes().CreateEmailCode(ctx, record); err != nil {
		return fmt.Errorf("failed to store email code: %w", err)
	}

	if err := s.Mailer.SendCode(ctx, account.Email, code, purpose, s.codeTTL()); err != nil {
		return fmt.Errorf("failed to dispatch email code: %w", err)
	}

	appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditEmailCodeSent, purpose)
	return nil
}

// ResetMFAWithCaptcha tears down a lost authenticator. The caller has to
// pass a CAPTCHA and redeem an emailed code for the mfa_reset purpose, then
// the secret, the last-step marker and all recovery codes are wiped. The
// account logs in with password only until it re-enrolls.
func (s *RecoveryService) ResetMFAWithCaptcha(ctx context.Context, email, captchaToken, remoteIP, code string) error {
	if err := s.Captcha.Verify(ctx, captchaToken, remoteIP); err != nil {
		if errors.Is(err, captcha.ErrFailed) {
			return ErrCaptchaFailed
		}
		return err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	account, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same shape as a wrong code; no account enumeration.
			return ErrCodeExpired
		}
		return err
	}

	if err := verifyEmailCode(ctx, s.Store, account.ID, domain.EmailCodePurposeMFAReset, code); err != nil {
		return err
	}

	err = casRetry(ctx, func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(tx store.Tx) error {
			fresh, err := tx.Accounts().GetAccountByID(ctx, account.ID)
			if err != nil {
				return err
			}
			if err := tx.RecoveryCodes().DeleteAccountRecoveryCodes(ctx, account.ID); err != nil {
				return fmt.Errorf("failed to delete recovery codes: %w", err)
			}
			fresh.MFAState = domain.MFADisabled
			fresh.MFASecret = nil
			fresh.LastMFAStep = nil
			return tx.Accounts().UpdateAccountCAS(ctx, fresh, fresh.Version)
		})
	})
	if err != nil {
		return err
	}

	appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditMFAReset, "captcha recovery")
	return nil
}

// verifyEmailCode redeems the active code for an account and purpose.
// Consumption is guarded at the store layer so a code can only ever be
// redeemed once, even by concurrent callers.
func verifyEmailCode(ctx context.Context, st store.Store, accountID, purpose, code string) error {
	active, err := st.EmailCodes().GetActiveEmailCode(ctx, accountID, purpose)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCodeExpired
		}
		return err
	}
	if active.Attempts >= maxEmailCodeAttempts {
		return ErrTooManyAttempts
	}

	fingerprint := cryptox.FingerprintToken(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(fingerprint), []byte(active.CodeFingerprint)) != 1 {
		updated, err := st.EmailCodes().IncrementEmailCodeAttempts(ctx, active.ID)
		if err != nil {
			return err
		}
		if updated.Attempts >= maxEmailCodeAttempts {
			return ErrTooManyAttempts
		}
		return ErrCodeMismatch
	}

	if err := st.EmailCodes().MarkEmailCodeConsumed(ctx, active.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCodeExpired // lost a race with a concurrent redemption
		}
		return err
	}
	return nil
}
