package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
)

type recoveryCodesRepo struct {
	q dbtx
}

func (r *recoveryCodesRepo) CreateRecoveryCode(ctx context.Context, c domain.RecoveryCode) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO recovery_codes (id, account_id, fingerprint, used_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Fingerprint, mapOptionalTime(c.UsedAt), c.CreatedAt,
	)
	return err
}

func (r *recoveryCodesRepo) GetUnusedRecoveryCode(ctx context.Context, accountID, fingerprint string) (domain.RecoveryCode, error) {
	var (
		c    domain.RecoveryCode
		used sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, fingerprint, used_at, created_at
		FROM recovery_codes
		WHERE account_id = ? AND fingerprint = ? AND used_at IS NULL`,
		accountID, fingerprint,
	).Scan(&c.ID, &c.AccountID, &c.Fingerprint, &used, &c.CreatedAt)
	if err != nil {
		return domain.RecoveryCode{}, mapNotFound(err)
	}
	c.UsedAt = mapNullTimePtr(used)
	return c, nil
}

// MarkRecoveryCodeUsed only flips a still-unused row. Concurrent redeemers
// of the same code race on this update and exactly one wins.
func (r *recoveryCodesRepo) MarkRecoveryCodeUsed(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE recovery_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *recoveryCodesRepo) DeleteAccountRecoveryCodes(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM recovery_codes WHERE account_id = ?`, accountID)
	return err
}

func (r *recoveryCodesRepo) CountUnusedRecoveryCodes(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recovery_codes
		WHERE account_id = ? AND used_at IS NULL`,
		accountID,
	).Scan(&n)
	return n, err
}
