package service

import (
	"context"
	"testing"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentDoesNotGateLoginUntilConfirmed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	account := createAccount(t, st, "olga@example.com", "s3cret-password", "")

	enroll, err := svc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, enroll.Secret)
	assert.Contains(t, enroll.OTPAuthURL, "otpauth://")
	assert.Equal(t, "olga@example.com", enroll.Account)

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFAPending, stored.MFAState)

	// A pending secret never blocks a password login.
	token, challenge, err := login.PasswordLogin(ctx, "olga@example.com", "s3cret-password")
	require.NoError(t, err)
	require.Nil(t, challenge)
	require.NotNil(t, token)
}

func TestConfirmEnrollmentActivatesAndMintsRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	account := createAccount(t, st, "pete@example.com", "s3cret-password", "")

	enroll, err := svc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)

	// A wrong code must not activate anything.
	_, err = svc.ConfirmEnrollment(ctx, account.ID, "000000")
	require.ErrorIs(t, err, ErrInvalidMFACode)
	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFAPending, stored.MFAState)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	batch, err := svc.ConfirmEnrollment(ctx, account.ID, code)
	require.NoError(t, err)
	require.Len(t, batch.Codes, recoveryCodeCount)

	stored, err = st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFAActive, stored.MFAState)
	require.NotNil(t, stored.LastMFAStep, "the confirm code itself must not be replayable")

	n, err := st.RecoveryCodes().CountUnusedRecoveryCodes(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, recoveryCodeCount, n)

	// From here on, login demands the second factor.
	token, challenge, err := login.PasswordLogin(ctx, "pete@example.com", "s3cret-password")
	require.NoError(t, err)
	require.Nil(t, token)
	require.NotNil(t, challenge)
}

func TestConfirmEnrollmentRequiresPendingSecret(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	account := createAccount(t, st, "quinn@example.com", "s3cret-password", "")

	_, err := svc.ConfirmEnrollment(ctx, account.ID, "123456")
	require.ErrorIs(t, err, ErrMFANotEnrolled)
}

func TestBeginEnrollmentRejectsActiveMFA(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "ruth@example.com"})
	require.NoError(t, err)
	account := createAccount(t, st, "ruth@example.com", "s3cret-password", key.Secret())

	_, err = svc.BeginEnrollment(ctx, account.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyActive)
}

func TestReEnrollmentRotatesPendingSecret(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	account := createAccount(t, st, "sam@example.com", "s3cret-password", "")

	first, err := svc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	second, err := svc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the latest secret confirms.
	staleCode, err := totp.GenerateCode(first.Secret, time.Now())
	require.NoError(t, err)
	_, err = svc.ConfirmEnrollment(ctx, account.ID, staleCode)
	require.ErrorIs(t, err, ErrInvalidMFACode)

	code, err := totp.GenerateCode(second.Secret, time.Now())
	require.NoError(t, err)
	_, err = svc.ConfirmEnrollment(ctx, account.ID, code)
	require.NoError(t, err)
}

func TestRegenerateRecoveryCodesReplacesBatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	account := createAccount(t, st, "tina@example.com", "s3cret-password", "")
	enroll, err := svc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	old, err := svc.ConfirmEnrollment(ctx, account.ID, code)
	require.NoError(t, err)

	// Need a fresh step: the confirm step was just consumed.
	code, err = totp.GenerateCode(enroll.Secret, time.Now().Add(totpPeriod*time.Second))
	require.NoError(t, err)
	fresh, err := svc.RegenerateRecoveryCodes(ctx, account.ID, code)
	require.NoError(t, err)
	require.Len(t, fresh.Codes, recoveryCodeCount)
	assert.NotEqual(t, old.Codes, fresh.Codes)
}

func TestDisableClearsSecretAndCodes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &MFAService{Store: st, Issuer: "Stafflane"}

	account := createAccount(t, st, "uma@example.com", "s3cret-password", "")
	enroll, err := svc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	_, err = svc.ConfirmEnrollment(ctx, account.ID, code)
	require.NoError(t, err)

	code, err = totp.GenerateCode(enroll.Secret, time.Now().Add(totpPeriod*time.Second))
	require.NoError(t, err)
	require.NoError(t, svc.Disable(ctx, account.ID, code))

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFADisabled, stored.MFAState)
	assert.Nil(t, stored.MFASecret)
	assert.Nil(t, stored.LastMFAStep)

	n, err := st.RecoveryCodes().CountUnusedRecoveryCodes(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	token, challenge, err := login.PasswordLogin(ctx, "uma@example.com", "s3cret-password")
	require.NoError(t, err)
	require.Nil(t, challenge)
	require.NotNil(t, token)
}

func TestTotpMatchStepSkew(t *testing.T) {
	t.Parallel()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "skew@example.com"})
	require.NoError(t, err)

	now := time.Unix(1_700_000_015, 0) // mid-step, away from boundaries
	step := now.Unix() / totpPeriod

	t.Run("current step matches", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret(), now)
		require.NoError(t, err)
		got, ok := totpMatchStep(key.Secret(), code, now)
		require.True(t, ok)
		assert.Equal(t, step, got)
	})

	t.Run("previous step matches within skew", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret(), now.Add(-totpPeriod*time.Second))
		require.NoError(t, err)
		got, ok := totpMatchStep(key.Secret(), code, now)
		require.True(t, ok)
		assert.Equal(t, step-1, got)
	})

	t.Run("next step matches within skew", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret(), now.Add(totpPeriod*time.Second))
		require.NoError(t, err)
		got, ok := totpMatchStep(key.Secret(), code, now)
		require.True(t, ok)
		assert.Equal(t, step+1, got)
	})

	t.Run("two steps away is rejected", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret(), now.Add(2*totpPeriod*time.Second))
		require.NoError(t, err)
		_, ok := totpMatchStep(key.Secret(), code, now)
		require.False(t, ok)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, ok := totpMatchStep(key.Secret(), "", now)
		require.False(t, ok)
		_, ok = totpMatchStep(key.Secret(), "12345", now)
		require.False(t, ok)
	})
}
