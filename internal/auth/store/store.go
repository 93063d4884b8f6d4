package store

import (
	"context"
	"errors"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrVersionConflict means a compare-and-set update lost the race:
	// the row's version moved on since it was read. Callers reload and retry.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and to actively stop people from accidentally nesting
// transactions.
type Store interface {
	Accounts() Accounts
	Challenges() Challenges
	EmailCodes() EmailCodes
	RecoveryCodes() RecoveryCodes
	AuditLog() AuditLog

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetAccountByID returns an account by id.
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByEmail is used during password login. Email lookup is
	// case-insensitive.
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// CreateAccount inserts a new account (id is provided by app via ULID).
	CreateAccount(ctx context.Context, a domain.Account) error

	// UpdateAccountCAS writes the full mutable state of an account, guarded
	// by the version the caller read. Returns ErrVersionConflict when the
	// stored version no longer matches; the write then had no effect.
	// On success the stored version is expectedVersion+1.
	UpdateAccountCAS(ctx context.Context, a domain.Account, expectedVersion int64) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	// Not CAS-guarded: password changes do not race the login counters.
	UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error

	// DeleteAccount cascades to challenges, codes and audit rows (per schema).
	DeleteAccount(ctx context.Context, accountID string) error

	// IsEmpty returns true if there are no accounts.
	IsEmpty(ctx context.Context) (bool, error)
}

type Challenges interface {
	// CreateChallenge stores a pending second-factor challenge.
	CreateChallenge(ctx context.Context, c domain.LoginChallenge) error

	// GetChallenge retrieves a challenge by its token (only if not expired).
	GetChallenge(ctx context.Context, token string) (domain.LoginChallenge, error)

	// IncrementChallengeAttempts bumps the failed attempt counter and
	// returns the updated challenge.
	IncrementChallengeAttempts(ctx context.Context, token string) (domain.LoginChallenge, error)

	// DeleteChallenge removes a challenge once redeemed or abandoned.
	DeleteChallenge(ctx context.Context, token string) error

	// DeleteExpiredChallenges removes all expired challenges (housekeeping).
	DeleteExpiredChallenges(ctx context.Context) error
}

type EmailCodes interface {
	// CreateEmailCode stores a fingerprinted email code.
	CreateEmailCode(ctx context.Context, c domain.EmailCode) error

	// GetActiveEmailCode returns the newest unconsumed, unexpired code for
	// an account and purpose.
	GetActiveEmailCode(ctx context.Context, accountID, purpose string) (domain.EmailCode, error)

	// IncrementEmailCodeAttempts bumps the failed attempt counter and
	// returns the updated code.
	IncrementEmailCodeAttempts(ctx context.Context, id string) (domain.EmailCode, error)

	// MarkEmailCodeConsumed sets consumed_at so the code cannot be replayed.
	MarkEmailCodeConsumed(ctx context.Context, id string) error

	// LatestEmailCodeSentAt returns the created_at of the most recent code
	// for an account and purpose, consumed or not. Used for resend throttling.
	LatestEmailCodeSentAt(ctx context.Context, accountID, purpose string) (sentAt *time.Time, err error)

	// DeleteExpiredEmailCodes is housekeeping.
	DeleteExpiredEmailCodes(ctx context.Context) error
}

type RecoveryCodes interface {
	// CreateRecoveryCode stores a recovery code fingerprint for an account.
	CreateRecoveryCode(ctx context.Context, c domain.RecoveryCode) error

	// GetUnusedRecoveryCode looks up an unused code by fingerprint.
	GetUnusedRecoveryCode(ctx context.Context, accountID, fingerprint string) (domain.RecoveryCode, error)

	// MarkRecoveryCodeUsed consumes a specific code. Returns ErrNotFound if
	// the code was already used, so concurrent redeemers cannot both win.
	MarkRecoveryCodeUsed(ctx context.Context, id string) error

	// DeleteAccountRecoveryCodes removes all codes for an account, used when
	// MFA is reset or re-enrolled.
	DeleteAccountRecoveryCodes(ctx context.Context, accountID string) error

	// CountUnusedRecoveryCodes returns how many codes remain.
	CountUnusedRecoveryCodes(ctx context.Context, accountID string) (int, error)
}

type AuditLog interface {
	// AppendAudit writes an audit entry. Append-only; there is no update.
	AppendAudit(ctx context.Context, e domain.AuditEntry) error

	// ListAccountAudit returns the newest entries for an account, capped.
	ListAccountAudit(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error)
}
