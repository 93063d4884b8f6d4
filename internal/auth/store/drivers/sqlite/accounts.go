package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/store"
)

type accountsRepo struct {
	q dbtx
}

const accountColumns = `id, email, password_hash, role, active,
	mfa_state, mfa_secret, last_mfa_step,
	login_attempts, locked_until, version, created_at, updated_at`

func (r *accountsRepo) scanAccount(row *sql.Row) (domain.Account, error) {
	var (
		a           domain.Account
		mfaSecret   sql.NullString
		lastStep    sql.NullInt64
		lockedUntil sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.Active,
		&a.MFAState, &mfaSecret, &lastStep,
		&a.LoginAttempts, &lockedUntil, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.MFASecret = mapNullStringPtr(mfaSecret)
	a.LastMFAStep = mapNullInt64Ptr(lastStep)
	a.LockedUntil = mapNullTimePtr(lockedUntil)
	return a, nil
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return r.scanAccount(row)
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ? COLLATE NOCASE`,
		strings.ToLower(email))
	return r.scanAccount(row)
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, role, active,
			mfa_state, mfa_secret, last_mfa_step,
			login_attempts, locked_until, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.ID, strings.ToLower(a.Email), a.PasswordHash, a.Role, a.Active,
		a.MFAState, mapOptionalString(a.MFASecret), mapOptionalInt64(a.LastMFAStep),
		a.LoginAttempts, mapOptionalTime(a.LockedUntil), now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

// UpdateAccountCAS writes the mutable account state guarded by the version
// the caller read. A zero-row update means someone else won the race.
func (r *accountsRepo) UpdateAccountCAS(ctx context.Context, a domain.Account, expectedVersion int64) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE accounts SET
			active = ?,
			mfa_state = ?,
			mfa_secret = ?,
			last_mfa_step = ?,
			login_attempts = ?,
			locked_until = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		a.Active,
		a.MFAState,
		mapOptionalString(a.MFASecret),
		mapOptionalInt64(a.LastMFAStep),
		a.LoginAttempts,
		mapOptionalTime(a.LockedUntil),
		time.Now().UTC(),
		a.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := r.q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, a.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}
	return nil
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, time.Now().UTC(), accountID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *accountsRepo) DeleteAccount(ctx context.Context, accountID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *accountsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
