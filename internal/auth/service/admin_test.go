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

func auditActions(t *testing.T, svc *AdminService, accountID string) []string {
	t.Helper()
	entries, err := svc.ListAudit(context.Background(), accountID, 100)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestForceUnlockClearsLockImmediately(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &AdminService{Store: st}

	admin := createAccount(t, st, "admin@example.com", "s3cret-password", "")
	account := createAccount(t, st, "worker@example.com", "s3cret-password", "")

	for i := 0; i < DefaultLockThreshold; i++ {
		_, _, _ = login.PasswordLogin(ctx, "worker@example.com", "wrong-password")
	}
	_, _, err := login.PasswordLogin(ctx, "worker@example.com", "s3cret-password")
	require.ErrorIs(t, err, ErrAccountLocked)

	require.NoError(t, svc.ForceUnlock(ctx, admin.ID, account.ID, "verified by phone"))

	token, _, err := login.PasswordLogin(ctx, "worker@example.com", "s3cret-password")
	require.NoError(t, err)
	require.NotNil(t, token)

	actions := auditActions(t, svc, account.ID)
	assert.Contains(t, actions, domain.AuditAdminForceUnlock)
}

func TestForceDisableMFA(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &AdminService{Store: st}
	mfaSvc := &MFAService{Store: st, Issuer: "Stafflane"}

	admin := createAccount(t, st, "admin@example.com", "s3cret-password", "")
	account := createAccount(t, st, "worker@example.com", "s3cret-password", "")

	enroll, err := mfaSvc.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	_, err = mfaSvc.ConfirmEnrollment(ctx, account.ID, code)
	require.NoError(t, err)

	require.NoError(t, svc.ForceDisableMFA(ctx, admin.ID, account.ID, "lost phone, identity checked"))

	stored, err := st.Accounts().GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFADisabled, stored.MFAState)
	assert.Nil(t, stored.MFASecret)
	assert.Nil(t, stored.LastMFAStep)

	n, err := st.RecoveryCodes().CountUnusedRecoveryCodes(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	token, challenge, err := login.PasswordLogin(ctx, "worker@example.com", "s3cret-password")
	require.NoError(t, err)
	require.Nil(t, challenge)
	require.NotNil(t, token)

	actions := auditActions(t, svc, account.ID)
	assert.Contains(t, actions, domain.AuditAdminMFADisabled)
}

func TestSetActiveSuspendsAndReinstates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &AdminService{Store: st}

	admin := createAccount(t, st, "admin@example.com", "s3cret-password", "")
	account := createAccount(t, st, "worker@example.com", "s3cret-password", "")

	require.NoError(t, svc.SetActive(ctx, admin.ID, account.ID, false, "offboarding"))
	_, _, err := login.PasswordLogin(ctx, "worker@example.com", "s3cret-password")
	require.ErrorIs(t, err, ErrAccountInactive)

	require.NoError(t, svc.SetActive(ctx, admin.ID, account.ID, true, "rehired"))
	token, _, err := login.PasswordLogin(ctx, "worker@example.com", "s3cret-password")
	require.NoError(t, err)
	require.NotNil(t, token)

	actions := auditActions(t, svc, account.ID)
	assert.Contains(t, actions, domain.AuditAdminSetActive)
}

func TestAccountServiceCreate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &AccountService{Store: st}

	account, err := svc.Create(ctx, "New.Hire@Example.com", "long-enough-pw", domain.RoleWorker)
	require.NoError(t, err)
	assert.Equal(t, "new.hire@example.com", account.Email)
	assert.Equal(t, domain.MFADisabled, account.MFAState)
	assert.True(t, account.Active)

	_, err = svc.Create(ctx, "new.hire@example.com", "long-enough-pw", domain.RoleWorker)
	require.ErrorIs(t, err, ErrEmailInUse)

	_, err = svc.Create(ctx, "short@example.com", "tiny", domain.RoleWorker)
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Create(ctx, "role@example.com", "long-enough-pw", "superuser")
	require.ErrorIs(t, err, ErrUnknownRole)

	_, err = svc.Create(ctx, "not-an-email", "long-enough-pw", domain.RoleWorker)
	require.ErrorIs(t, err, ErrInvalidEmail)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	login := newTestLogin(t, st)
	svc := &AccountService{Store: st}

	account := createAccount(t, st, "rotate@example.com", "old-password-1", "")

	require.ErrorIs(t,
		svc.ChangePassword(ctx, account.ID, "not-the-old-one", "new-password-1"),
		ErrWrongPassword)

	require.NoError(t, svc.ChangePassword(ctx, account.ID, "old-password-1", "new-password-1"))

	_, _, err := login.PasswordLogin(ctx, "rotate@example.com", "old-password-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	token, _, err := login.PasswordLogin(ctx, "rotate@example.com", "new-password-1")
	require.NoError(t, err)
	require.NotNil(t, token)
}
