package domain

import "time"

// MFAState tracks where an account sits in the enrollment lifecycle.
type MFAState string

const (
	// MFADisabled means no secret is provisioned.
	MFADisabled MFAState = "disabled"
	// MFAPending means a secret exists but has not been confirmed with a
	// valid code yet. Pending secrets never gate login.
	MFAPending MFAState = "pending"
	// MFAActive means the secret was confirmed and login requires a code.
	MFAActive MFAState = "active"
)

// Account roles.
const (
	RoleWorker  = "worker"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type Account struct {
	ID           string
	Email        string
	PasswordHash string // argon2 encoded
	Role         string
	Active       bool

	MFAState    MFAState
	MFASecret   *string // TOTP secret (nullable, base32 encoded)
	LastMFAStep *int64  // last accepted TOTP time step, for replay rejection

	LoginAttempts int        // consecutive failed password attempts
	LockedUntil   *time.Time // set once attempts cross the threshold

	// Version is bumped on every write and checked on compare-and-set
	// updates so concurrent logins cannot clobber each other's counters.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account is locked at the given instant.
// An expired lock counts as unlocked; the row is cleaned up lazily on the
// next successful state transition.
func (a Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// MFARequired reports whether a login must complete an MFA step.
func (a Account) MFARequired() bool {
	return a.MFAState == MFAActive
}
