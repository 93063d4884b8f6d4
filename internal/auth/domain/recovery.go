package domain

import "time"

// Email code purposes.
const (
	// EmailCodePurposeLogin satisfies the second factor of a login.
	EmailCodePurposeLogin = "login"
	// EmailCodePurposeMFAReset authorises tearing down a lost authenticator.
	EmailCodePurposeMFAReset = "mfa_reset"
)

// EmailCode is a short numeric code delivered out of band. Only the SHA-256
// fingerprint is stored; the plaintext leaves the process via the mailer and
// is never persisted.
type EmailCode struct {
	ID              string
	AccountID       string
	CodeFingerprint string
	Purpose         string
	Attempts        int
	ConsumedAt      *time.Time
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Usable reports whether the code can still be presented.
func (e EmailCode) Usable(now time.Time) bool {
	return e.ConsumedAt == nil && now.Before(e.ExpiresAt)
}

// RecoveryCode is a single-use fallback credential minted at MFA enrollment.
// Stored fingerprinted, same as email codes.
type RecoveryCode struct {
	ID          string
	AccountID   string
	Fingerprint string
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// RecoveryCodeBatch is returned once, at mint time, with the plaintext codes.
type RecoveryCodeBatch struct {
	Codes []string `json:"recovery_codes"`
}
