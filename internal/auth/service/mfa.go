package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/pkg/cryptox"
	"github.com/stafflane/stafflane/pkg/idx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30 // seconds per TOTP time step
	totpSecretSize = cryptox.TokenSize160

	recoveryCodeCount = 10                   // codes minted per enrollment
	recoveryCodeBytes = cryptox.TokenSize128 // 128-bit entropy per code
)

var (
	ErrInvalidMFACode      = errors.New("invalid_mfa_code")
	ErrMFANotActive        = errors.New("mfa_not_active")
	ErrMFAAlreadyActive    = errors.New("mfa_already_active")
	ErrMFANotEnrolled      = errors.New("mfa_not_enrolled")
	ErrRecoveryCodeInvalid = errors.New("invalid_recovery_code")
)

type MFAService struct {
	Store  store.Store
	Issuer string // issuer name shown in authenticator apps
}

// BeginEnrollment provisions a TOTP secret for the account and returns the
// material for the authenticator app. The account stays in the pending state
// and login is not gated until the secret is confirmed. Re-calling while
// pending rotates the secret.
func (s *MFAService) BeginEnrollment(ctx context.Context, accountID string) (domain.EnrollmentResponse, error) {
	var resp domain.EnrollmentResponse

	err := casRetry(ctx, func(ctx context.Context) error {
		account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.MFAState == domain.MFAActive {
			return ErrMFAAlreadyActive
		}

		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      s.Issuer,
			AccountName: account.Email,
			Period:      totpPeriod,
			SecretSize:  totpSecretSize,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			return fmt.Errorf("failed to generate TOTP key: %w", err)
		}

		secret := key.Secret()
		account.MFASecret = &secret
		account.MFAState = domain.MFAPending
		account.LastMFAStep = nil
		if err := s.Store.Accounts().UpdateAccountCAS(ctx, account, account.Version); err != nil {
			return err
		}

		resp = domain.EnrollmentResponse{
			Secret:     secret,
			OTPAuthURL: key.URL(),
			Issuer:     s.Issuer,
			Account:    account.Email,
		}
		return nil
	})
	if err != nil {
		return domain.EnrollmentResponse{}, err
	}

	appendAudit(ctx, s.Store, accountID, accountID, domain.AuditMFAEnrollStarted, "")
	return resp, nil
}

// ConfirmEnrollment proves the authenticator holds the pending secret and
// activates MFA. Recovery codes are minted in the same transaction and
// returned in plaintext exactly once.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, accountID, code string) (domain.RecoveryCodeBatch, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return domain.RecoveryCodeBatch{}, err
	}
	if account.MFAState == domain.MFAActive {
		return domain.RecoveryCodeBatch{}, ErrMFAAlreadyActive
	}
	if account.MFAState != domain.MFAPending || account.MFASecret == nil {
		return domain.RecoveryCodeBatch{}, ErrMFANotEnrolled
	}

	step, ok := totpMatchStep(*account.MFASecret, code, time.Now())
	if !ok {
		return domain.RecoveryCodeBatch{}, ErrInvalidMFACode
	}

	codes := make([]string, recoveryCodeCount)
	for i := range recoveryCodeCount {
		c, err := cryptox.GenerateToken(recoveryCodeBytes)
		if err != nil {
			return domain.RecoveryCodeBatch{}, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		codes[i] = c
	}

	now := time.Now().UTC()
	err = casRetry(ctx, func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(tx store.Tx) error {
			fresh, err := tx.Accounts().GetAccountByID(ctx, accountID)
			if err != nil {
				return err
			}
			if fresh.MFAState != domain.MFAPending || fresh.MFASecret == nil {
				return ErrMFANotEnrolled
			}

			if err := tx.RecoveryCodes().DeleteAccountRecoveryCodes(ctx, accountID); err != nil {
				return fmt.Errorf("failed to clear old recovery codes: %w", err)
			}
			for _, c := range codes {
				rc := domain.RecoveryCode{
					ID:          idx.New().String(),
					AccountID:   accountID,
					Fingerprint: cryptox.FingerprintToken(c),
					CreatedAt:   now,
				}
				if err := tx.RecoveryCodes().CreateRecoveryCode(ctx, rc); err != nil {
					return fmt.Errorf("failed to store recovery code: %w", err)
				}
			}

			fresh.MFAState = domain.MFAActive
			fresh.LastMFAStep = &step
			return tx.Accounts().UpdateAccountCAS(ctx, fresh, fresh.Version)
		})
	})
	if err != nil {
		return domain.RecoveryCodeBatch{}, err
	}

	appendAudit(ctx, s.Store, accountID, accountID, domain.AuditMFAEnrollComplete, "")
	return domain.RecoveryCodeBatch{Codes: codes}, nil
}

// RegenerateRecoveryCodes replaces the remaining codes after re-proving
// possession of the authenticator.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, accountID, code string) (domain.RecoveryCodeBatch, error) {
	if err := s.requireActiveCode(ctx, accountID, code); err != nil {
		return domain.RecoveryCodeBatch{}, err
	}

	codes := make([]string, recoveryCodeCount)
	for i := range recoveryCodeCount {
		c, err := cryptox.GenerateToken(recoveryCodeBytes)
		if err != nil {
			return domain.RecoveryCodeBatch{}, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		codes[i] = c
	}

	now := time.Now().UTC()
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RecoveryCodes().DeleteAccountRecoveryCodes(ctx, accountID); err != nil {
			return fmt.Errorf("failed to delete old recovery codes: %w", err)
		}
		for _, c := range codes {
			rc := domain.RecoveryCode{
				ID:          idx.New().String(),
				AccountID:   accountID,
				Fingerprint: cryptox.FingerprintToken(c),
				CreatedAt:   now,
			}
			if err := tx.RecoveryCodes().CreateRecoveryCode(ctx, rc); err != nil {
				return fmt.Errorf("failed to store recovery code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.RecoveryCodeBatch{}, err
	}

	return domain.RecoveryCodeBatch{Codes: codes}, nil
}

// Disable tears down MFA after re-proving possession of the authenticator.
// Accounts that lost the authenticator go through the recovery flows instead.
func (s *MFAService) Disable(ctx context.Context, accountID, code string) error {
	if err := s.requireActiveCode(ctx, accountID, code); err != nil {
		return err
	}

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

	appendAudit(ctx, s.Store, accountID, accountID, domain.AuditMFAReset, "self service")
	return nil
}

// requireActiveCode checks that MFA is active and the presented code is
// valid and not a replay, persisting the accepted step.
func (s *MFAService) requireActiveCode(ctx context.Context, accountID, code string) error {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFAState != domain.MFAActive || account.MFASecret == nil {
		return ErrMFANotActive
	}

	step, ok := totpMatchStep(*account.MFASecret, code, time.Now())
	if !ok || (account.LastMFAStep != nil && step <= *account.LastMFAStep) {
		return ErrInvalidMFACode
	}

	return casRetry(ctx, func(ctx context.Context) error {
		fresh, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if fresh.LastMFAStep != nil && step <= *fresh.LastMFAStep {
			return ErrInvalidMFACode
		}
		fresh.LastMFAStep = &step
		return s.Store.Accounts().UpdateAccountCAS(ctx, fresh, fresh.Version)
	})
}

// totpMatchStep validates a code against the secret, allowing one time step
// of clock skew either side. It returns the exact step that matched so
// callers can reject replays of the same code.
func totpMatchStep(secret, code string, now time.Time) (int64, bool) {
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
	step := now.Unix() / totpPeriod
	for _, offset := range []int64{0, -1, 1} {
		at := time.Unix((step+offset)*totpPeriod, 0)
		ok, err := totp.ValidateCustom(code, secret, at, opts)
		if err == nil && ok {
			return step + offset, true
		}
	}
	return 0, false
}
