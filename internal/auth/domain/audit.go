package domain

import "time"

// Audit actions. Security-relevant transitions get a row; routine reads do not.
const (
	AuditLoginSuccess      = "login.success"
	AuditLoginFailure      = "login.failure"
	AuditAccountLocked     = "account.locked"
	AuditAccountUnlocked   = "account.unlocked"
	AuditMFAEnrollStarted  = "mfa.enroll_started"
	AuditMFAEnrollComplete = "mfa.enroll_complete"
	AuditMFAReset          = "mfa.reset"
	AuditMFABypassUsed     = "mfa.bypass_used"
	AuditRecoveryCodeUsed  = "mfa.recovery_code_used"
	AuditEmailCodeSent     = "recovery.email_code_sent"
	AuditEmailCodeVerified = "recovery.email_code_verified"
	AuditAdminForceUnlock  = "admin.force_unlock"
	AuditAdminMFADisabled  = "admin.mfa_disabled"
	AuditAdminSetActive    = "admin.set_active"
)

// AuditEntry records who did what to which account. Actor is the account id
// of the caller, or "system" for internal transitions like lockouts.
type AuditEntry struct {
	ID        string
	AccountID string
	Actor     string
	Action    string
	Detail    string // free-form context, e.g. the reason an admin supplied
	CreatedAt time.Time
}
