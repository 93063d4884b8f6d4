package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/pkg/cryptox"
	"github.com/stafflane/stafflane/pkg/idx"
	"github.com/stafflane/stafflane/pkg/jwtx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

const (
	// DefaultLockThreshold is the number of consecutive failed password
	// attempts before the account locks.
	DefaultLockThreshold = 5

	// DefaultLockDuration is how long a locked account stays locked.
	DefaultLockDuration = 15 * time.Minute

	// DefaultChallengeTTL is how long a password-verified login may wait
	// for its second factor.
	DefaultChallengeTTL = 5 * time.Minute

	// MaxChallengeAttempts is the maximum number of failed second-factor
	// attempts allowed per challenge.
	MaxChallengeAttempts = 5
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountLocked      = errors.New("account_locked")
	ErrAccountInactive    = errors.New("account_inactive")
	ErrInvalidChallenge   = errors.New("invalid_challenge")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
)

// AccountLockedError rejects an attempt on a locked account and carries
// when the lock expires, so callers can tell the user how long to wait.
// errors.Is against ErrAccountLocked keeps working.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string { return ErrAccountLocked.Error() }

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// dummyVerifyHash is burned against when the email doesn't resolve, so a
// miss costs the same as a wrong password and timing can't enumerate
// accounts.
var dummyVerifyHash = sync.OnceValue(func() string {
	h, err := cryptox.HashPassword(jwtx.NewJTI())
	if err != nil {
		return ""
	}
	return h
})

type LoginService struct {
	Store  store.Store
	Tokens *TokenService

	LockThreshold int
	LockDuration  time.Duration
	ChallengeTTL  time.Duration

	// BypassCode, when non-empty, is accepted in place of a TOTP code.
	// Only the dev environment ever sets it; production config refuses to.
	BypassCode string
}

func (s *LoginService) lockThreshold() int {
	if s.LockThreshold <= 0 {
		return DefaultLockThreshold
	}
	return s.LockThreshold
}

func (s *LoginService) lockDuration() time.Duration {
	if s.LockDuration <= 0 {
		return DefaultLockDuration
	}
	return s.LockDuration
}

func (s *LoginService) challengeTTL() time.Duration {
	if s.ChallengeTTL <= 0 {
		return DefaultChallengeTTL
	}
	return s.ChallengeTTL
}

// PasswordLogin verifies the first factor. Accounts without active MFA get a
// session straight away; the rest get a challenge token to redeem with a
// second factor. Exactly one of the returns is populated on success.
func (s *LoginService) PasswordLogin(ctx context.Context, email, password string) (*domain.TokenResponse, *domain.ChallengeResponse, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = cryptox.VerifyPassword(password, dummyVerifyHash())
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if !account.Active {
		return nil, nil, ErrAccountInactive
	}
	if account.Locked(now) {
		l.Info("login attempt on locked account", "account_id", account.ID)
		return nil, nil, &AccountLockedError{Until: *account.LockedUntil}
	}

	if err := cryptox.VerifyPassword(password, account.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, nil, fmt.Errorf("failed to verify password: %w", err)
		}
		lockedUntil, err := s.recordFailure(ctx, account.ID)
		if err != nil {
			return nil, nil, err
		}
		if lockedUntil != nil {
			return nil, nil, &AccountLockedError{Until: *lockedUntil}
		}
		return nil, nil, ErrInvalidCredentials
	}

	// Password accepted: clear the failure counter and any expired lock.
	if err := s.recordSuccess(ctx, account.ID); err != nil {
		return nil, nil, err
	}

	if account.MFARequired() {
		challenge, err := s.createChallenge(ctx, account.ID, now)
		if err != nil {
			return nil, nil, err
		}
		return nil, &challenge, nil
	}

	appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditLoginSuccess, "password")
	token, err := s.Tokens.IssueSession(ctx, account, []string{jwtx.AMRPassword})
	if err != nil {
		return nil, nil, err
	}
	return &token, nil, nil
}

// recordFailure bumps the failure counter under CAS and locks the account
// once the threshold is crossed. Returns the unlock time when this failure
// locked it, nil otherwise.
func (s *LoginService) recordFailure(ctx context.Context, accountID string) (lockedUntil *time.Time, err error) {
	err = casRetry(ctx, func(ctx context.Context) error {
		account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		lockedUntil = nil

		// An expired lock means the previous window is over; this failure
		// starts a fresh count.
		if account.LockedUntil != nil && !now.Before(*account.LockedUntil) {
			account.LockedUntil = nil
			account.LoginAttempts = 0
		}

		account.LoginAttempts++
		if account.LoginAttempts >= s.lockThreshold() {
			until := now.Add(s.lockDuration())
			account.LockedUntil = &until
			lockedUntil = &until
		}

		if err := s.Store.Accounts().UpdateAccountCAS(ctx, account, account.Version); err != nil {
			return err
		}

		appendAudit(ctx, s.Store, accountID, ActorSystem, domain.AuditLoginFailure,
			fmt.Sprintf("attempt %d", account.LoginAttempts))
		if lockedUntil != nil {
			appendAudit(ctx, s.Store, accountID, ActorSystem, domain.AuditAccountLocked,
				fmt.Sprintf("after %d failed attempts", account.LoginAttempts))
		}
		return nil
	})
	return lockedUntil, err
}

// recordSuccess resets the failure counter after a correct password.
func (s *LoginService) recordSuccess(ctx context.Context, accountID string) error {
	return casRetry(ctx, func(ctx context.Context) error {
		account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.LoginAttempts == 0 && account.LockedUntil == nil {
			return nil
		}
		account.LoginAttempts = 0
		account.LockedUntil = nil
		return s.Store.Accounts().UpdateAccountCAS(ctx, account, account.Version)
	})
}

func (s *LoginService) createChallenge(ctx context.Context, accountID string, now time.Time) (domain.ChallengeResponse, error) {
	challenge := domain.LoginChallenge{
		ID:        idx.New().String(),
		AccountID: accountID,
		AMR:       []string{jwtx.AMRPassword},
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL()),
	}
	if err := s.Store.Challenges().CreateChallenge(ctx, challenge); err != nil {
		return domain.ChallengeResponse{}, fmt.Errorf("failed to create login challenge: %w", err)
	}
	return domain.ChallengeResponse{
		MFARequired:    true,
		ChallengeToken: challenge.ID,
		Methods:        []string{"totp", "recovery_code", "email_code"},
	}, nil
}

// loadChallenge fetches and sanity-checks a pending challenge plus its account.
func (s *LoginService) loadChallenge(ctx context.Context, token string) (domain.LoginChallenge, domain.Account, error) {
	challenge, err := s.Store.Challenges().GetChallenge(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginChallenge{}, domain.Account{}, ErrInvalidChallenge
		}
		return domain.LoginChallenge{}, domain.Account{}, err
	}
	if challenge.Attempts >= MaxChallengeAttempts {
		_ = s.Store.Challenges().DeleteChallenge(ctx, token)
		return domain.LoginChallenge{}, domain.Account{}, ErrTooManyAttempts
	}

	account, err := s.Store.Accounts().GetAccountByID(ctx, challenge.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginChallenge{}, domain.Account{}, ErrInvalidChallenge
		}
		return domain.LoginChallenge{}, domain.Account{}, err
	}
	if !account.Active {
		return domain.LoginChallenge{}, domain.Account{}, ErrAccountInactive
	}
	return challenge, account, nil
}

// failChallenge records a failed second-factor attempt and reports whether
// the challenge is now burned.
func (s *LoginService) failChallenge(ctx context.Context, token string) error {
	challenge, err := s.Store.Challenges().IncrementChallengeAttempts(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidChallenge
		}
		return err
	}
	if challenge.Attempts >= MaxChallengeAttempts {
		_ = s.Store.Challenges().DeleteChallenge(ctx, token)
		return ErrTooManyAttempts
	}
	return nil
}

// finishChallenge redeems the challenge and issues the session.
func (s *LoginService) finishChallenge(ctx context.Context, challenge domain.LoginChallenge, account domain.Account, amr []string, method string) (*domain.TokenResponse, error) {
	if err := s.Store.Challenges().DeleteChallenge(ctx, challenge.ID); err != nil {
		return nil, err
	}
	appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditLoginSuccess, method)

	token, err := s.Tokens.IssueSession(ctx, account, amr)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// CompleteTOTP redeems a challenge with an authenticator code. Each code is
// accepted at most once: the time step it matched is persisted and anything
// at or below it is rejected as a replay.
func (s *LoginService) CompleteTOTP(ctx context.Context, challengeToken, code string) (*domain.TokenResponse, error) {
	challenge, account, err := s.loadChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	if s.BypassCode != "" && code == s.BypassCode {
		slogx.FromContext(ctx).Warn("mfa bypass code used", "account_id", account.ID)
		appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditMFABypassUsed, "")
		return s.finishChallenge(ctx, challenge, account,
			append(challenge.AMR, jwtx.AMROTP), "totp_bypass")
	}

	if account.MFAState != domain.MFAActive || account.MFASecret == nil {
		return nil, ErrMFANotActive
	}

	step, ok := totpMatchStep(*account.MFASecret, code, time.Now())
	if !ok || (account.LastMFAStep != nil && step <= *account.LastMFAStep) {
		if err := s.failChallenge(ctx, challengeToken); err != nil {
			return nil, err
		}
		return nil, ErrInvalidMFACode
	}

	err = casRetry(ctx, func(ctx context.Context) error {
		fresh, err := s.Store.Accounts().GetAccountByID(ctx, account.ID)
		if err != nil {
			return err
		}
		if fresh.LastMFAStep != nil && step <= *fresh.LastMFAStep {
			return ErrInvalidMFACode // another login just used this code
		}
		fresh.LastMFAStep = &step
		return s.Store.Accounts().UpdateAccountCAS(ctx, fresh, fresh.Version)
	})
	if err != nil {
		return nil, err
	}

	return s.finishChallenge(ctx, challenge, account,
		append(challenge.AMR, jwtx.AMROTP), "totp")
}

// CompleteRecoveryCode redeems a challenge with a single-use recovery code.
func (s *LoginService) CompleteRecoveryCode(ctx context.Context, challengeToken, code string) (*domain.TokenResponse, error) {
	challenge, account, err := s.loadChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	fingerprint := cryptox.FingerprintToken(strings.TrimSpace(code))

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		rc, err := tx.RecoveryCodes().GetUnusedRecoveryCode(ctx, account.ID, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRecoveryCodeInvalid
			}
			return err
		}
		// MarkRecoveryCodeUsed fails for an already-used row, so two
		// concurrent redemptions of the same code cannot both pass.
		if err := tx.RecoveryCodes().MarkRecoveryCodeUsed(ctx, rc.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRecoveryCodeInvalid
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRecoveryCodeInvalid) {
			if ferr := s.failChallenge(ctx, challengeToken); ferr != nil {
				return nil, ferr
			}
		}
		return nil, err
	}

	remaining, err := s.Store.RecoveryCodes().CountUnusedRecoveryCodes(ctx, account.ID)
	if err == nil && remaining <= 2 {
		slogx.FromContext(ctx).Warn("account is low on recovery codes",
			"account_id", account.ID, "remaining", remaining)
	}

	appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditRecoveryCodeUsed,
		fmt.Sprintf("%d remaining", remaining))
	return s.finishChallenge(ctx, challenge, account,
		append(challenge.AMR, jwtx.AMRRecovery), "recovery_code")
}

// CompleteEmailCode redeems a challenge with a code delivered to the
// account's email address.
func (s *LoginService) CompleteEmailCode(ctx context.Context, challengeToken, code string) (*domain.TokenResponse, error) {
	challenge, account, err := s.loadChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	if err := verifyEmailCode(ctx, s.Store, account.ID, domain.EmailCodePurposeLogin, code); err != nil {
		if errors.Is(err, ErrCodeMismatch) || errors.Is(err, ErrCodeExpired) {
			if ferr := s.failChallenge(ctx, challengeToken); ferr != nil {
				return nil, ferr
			}
		}
		return nil, err
	}

	appendAudit(ctx, s.Store, account.ID, account.ID, domain.AuditEmailCodeVerified,
		domain.EmailCodePurposeLogin)
	return s.finishChallenge(ctx, challenge, account,
		append(challenge.AMR, jwtx.AMROTP), "email_code")
}
