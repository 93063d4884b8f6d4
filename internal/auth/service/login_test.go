package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordLoginIssuesSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	createAccount(t, st, "alice@example.com", "s3cret-password", "")

	token, challenge, err := svc.PasswordLogin(ctx, "alice@example.com", "s3cret-password")
	require.NoError(t, err)
	require.Nil(t, challenge)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(60), token.ExpiresIn)
}

func TestPasswordLoginEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	createAccount(t, st, "bob@example.com", "s3cret-password", "")

	token, _, err := svc.PasswordLogin(ctx, "Bob@Example.COM", "s3cret-password")
	require.NoError(t, err)
	require.NotNil(t, token)
}

func TestPasswordLoginUniformFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	createAccount(t, st, "carol@example.com", "s3cret-password", "")

	// Wrong password and unknown account look identical to the caller.
	_, _, err := svc.PasswordLogin(ctx, "carol@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.PasswordLogin(ctx, "nobody@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordLoginInactiveAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	account := createAccount(t, st, "dave@example.com", "s3cret-password", "")
	account.Active = false
	require.NoError(t, st.Accounts().UpdateAccountCAS(ctx, account, account.Version))

	_, _, err := svc.PasswordLogin(ctx, "dave@example.com", "s3cret-password")
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	account := createAccount(t, st, "erin@example.com", "s3cret-password", "")

	for i := 0; i < DefaultLockThreshold-1; i++ {
		_, _, err := svc.PasswordLogin(ctx, "erin@example.com", "wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials, "failure %d should not lock yet", i+1)
	}

	// The attempt that crosses the threshold reports the lock and carries
	// the unlock time for the caller to surface.
	_, _, err := svc.PasswordLogin(ctx, "erin@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrAccountLocked)

	var lockErr *AccountLockedError
	require.ErrorAs(t, err, &lockErr)
	assert.WithinDuration(t, time.Now().Add(DefaultLockDuration), lockErr.Until, 5*time.Second)

	// Even the correct password is refused while locked, with the same
	// unlock time the locking failure stored.
	_, _, err = svc.PasswordLogin(ctx, "erin@example.com", "s3cret-password")
	require.ErrorIs(t, err, ErrAccountLocked)

	stored, err2 := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err2)
	assert.Equal(t, DefaultLockThreshold, stored.LoginAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.True(t, stored.LockedUntil.After(time.Now()))

	lockErr = nil
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, stored.LockedUntil.Unix(), lockErr.Until.Unix())
}

func TestLockExpiresLazily(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)
	svc.LockDuration = 20 * time.Millisecond

	account := createAccount(t, st, "frank@example.com", "s3cret-password", "")

	for i := 0; i < DefaultLockThreshold; i++ {
		_, _, _ = svc.PasswordLogin(ctx, "frank@example.com", "wrong-password")
	}
	_, _, err := svc.PasswordLogin(ctx, "frank@example.com", "s3cret-password")
	require.ErrorIs(t, err, ErrAccountLocked)

	// No admin intervention; the lock simply times out.
	time.Sleep(30 * time.Millisecond)

	token, _, err := svc.PasswordLogin(ctx, "frank@example.com", "s3cret-password")
	require.NoError(t, err)
	require.NotNil(t, token)

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	account := createAccount(t, st, "grace@example.com", "s3cret-password", "")

	for i := 0; i < 3; i++ {
		_, _, _ = svc.PasswordLogin(ctx, "grace@example.com", "wrong-password")
	}

	_, _, err := svc.PasswordLogin(ctx, "grace@example.com", "s3cret-password")
	require.NoError(t, err)

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
}

func TestConcurrentFailuresNeverLoseCounts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)
	svc.LockThreshold = 100 // keep the account unlocked for the whole test

	account := createAccount(t, st, "henry@example.com", "s3cret-password", "")

	const workers = 8
	results := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, results[i] = svc.PasswordLogin(ctx, "henry@example.com", "wrong-password")
		}()
	}
	wg.Wait()

	// Every attempt either recorded exactly one failure or gave up with
	// a conflict after the retry budget. Nothing is silently dropped.
	recorded := 0
	for _, err := range results {
		switch {
		case err == nil:
			t.Fatal("wrong password must never succeed")
		case errors.Is(err, ErrInvalidCredentials):
			recorded++
		case errors.Is(err, ErrConflictRetryExhausted):
			// counted nothing, by contract
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.NotZero(t, recorded)

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, recorded, stored.LoginAttempts)
}

func TestMFALoginRequiresChallenge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "ivy@example.com"})
	require.NoError(t, err)
	createAccount(t, st, "ivy@example.com", "s3cret-password", key.Secret())

	token, challenge, err := svc.PasswordLogin(ctx, "ivy@example.com", "s3cret-password")
	require.NoError(t, err)
	require.Nil(t, token, "no session before the second factor")
	require.NotNil(t, challenge)
	assert.True(t, challenge.MFARequired)
	assert.NotEmpty(t, challenge.ChallengeToken)
	assert.Contains(t, challenge.Methods, "totp")

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	session, err := svc.CompleteTOTP(ctx, challenge.ChallengeToken, code)
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)

	// The challenge is single use.
	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, code)
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestCompleteTOTPRejectsReplay(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "judy@example.com"})
	require.NoError(t, err)
	createAccount(t, st, "judy@example.com", "s3cret-password", key.Secret())

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	_, challenge, err := svc.PasswordLogin(ctx, "judy@example.com", "s3cret-password")
	require.NoError(t, err)
	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, code)
	require.NoError(t, err)

	// Same code against a fresh challenge is a replay.
	_, challenge, err = svc.PasswordLogin(ctx, "judy@example.com", "s3cret-password")
	require.NoError(t, err)
	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, code)
	require.ErrorIs(t, err, ErrInvalidMFACode)
}

func TestCompleteTOTPAcceptsAdjacentStep(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "kim@example.com"})
	require.NoError(t, err)
	createAccount(t, st, "kim@example.com", "s3cret-password", key.Secret())

	// A code from the previous time step still passes, within skew.
	code, err := totp.GenerateCode(key.Secret(), time.Now().Add(-totpPeriod*time.Second))
	require.NoError(t, err)

	_, challenge, err := svc.PasswordLogin(ctx, "kim@example.com", "s3cret-password")
	require.NoError(t, err)
	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, code)
	require.NoError(t, err)
}

func TestChallengeAttemptsAreCapped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "liam@example.com"})
	require.NoError(t, err)
	createAccount(t, st, "liam@example.com", "s3cret-password", key.Secret())

	_, challenge, err := svc.PasswordLogin(ctx, "liam@example.com", "s3cret-password")
	require.NoError(t, err)

	for i := 0; i < MaxChallengeAttempts-1; i++ {
		_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, "000000")
		require.ErrorIs(t, err, ErrInvalidMFACode)
	}

	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, "000000")
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// The burned challenge is gone; even a valid code cannot redeem it.
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, code)
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestBypassCodeOnlyWorksWhenConfigured(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "mia@example.com"})
	require.NoError(t, err)
	createAccount(t, st, "mia@example.com", "s3cret-password", key.Secret())

	// Without a configured bypass the magic value is just a wrong code.
	svc := newTestLogin(t, st)
	_, challenge, err := svc.PasswordLogin(ctx, "mia@example.com", "s3cret-password")
	require.NoError(t, err)
	_, err = svc.CompleteTOTP(ctx, challenge.ChallengeToken, "letmein-dev")
	require.ErrorIs(t, err, ErrInvalidMFACode)

	// With it configured (dev only), the bypass redeems the challenge.
	svc.BypassCode = "letmein-dev"
	_, challenge, err = svc.PasswordLogin(ctx, "mia@example.com", "s3cret-password")
	require.NoError(t, err)
	session, err := svc.CompleteTOTP(ctx, challenge.ChallengeToken, "letmein-dev")
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)

	// The bypass leaves a trace in the audit log.
	account, err := st.Accounts().GetAccountByEmail(ctx, "mia@example.com")
	require.NoError(t, err)
	entries, err := st.AuditLog().ListAccountAudit(ctx, account.ID, 50)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Action == domain.AuditMFABypassUsed {
			found = true
		}
	}
	assert.True(t, found, "bypass use must be audited")
}

func TestCompleteRecoveryCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestLogin(t, st)
	mfaSvc := &MFAService{Store: st, Issuer: "test"}

	account := createAccount(t, st, "nina@example.com", "s3cret-password", "")

	// Enroll properly so real recovery codes exist.
	enroll, err := mfaSvc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	batch, err := mfaSvc.ConfirmEnrollment(ctx, account.ID, code)
	require.NoError(t, err)
	require.Len(t, batch.Codes, recoveryCodeCount)

	recovery := batch.Codes[0]

	_, challenge, err := svc.PasswordLogin(ctx, "nina@example.com", "s3cret-password")
	require.NoError(t, err)
	session, err := svc.CompleteRecoveryCode(ctx, challenge.ChallengeToken, recovery)
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)

	// The same code is burned forever.
	_, challenge, err = svc.PasswordLogin(ctx, "nina@example.com", "s3cret-password")
	require.NoError(t, err)
	_, err = svc.CompleteRecoveryCode(ctx, challenge.ChallengeToken, recovery)
	require.ErrorIs(t, err, ErrRecoveryCodeInvalid)

	remaining, err := st.RecoveryCodes().CountUnusedRecoveryCodes(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, recoveryCodeCount-1, remaining)
}
