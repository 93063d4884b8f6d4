package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
)

type emailCodesRepo struct {
	q dbtx
}

func (r *emailCodesRepo) CreateEmailCode(ctx context.Context, c domain.EmailCode) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO email_codes (
			id, account_id, code_fingerprint, purpose, attempts,
			consumed_at, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.CodeFingerprint, c.Purpose, c.Attempts,
		mapOptionalTime(c.ConsumedAt), c.CreatedAt, c.ExpiresAt,
	)
	return err
}

func (r *emailCodesRepo) scanEmailCode(row *sql.Row) (domain.EmailCode, error) {
	var (
		c        domain.EmailCode
		consumed sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.AccountID, &c.CodeFingerprint, &c.Purpose, &c.Attempts,
		&consumed, &c.CreatedAt, &c.ExpiresAt,
	)
	if err != nil {
		return domain.EmailCode{}, mapNotFound(err)
	}
	c.ConsumedAt = mapNullTimePtr(consumed)
	return c, nil
}

func (r *emailCodesRepo) GetActiveEmailCode(ctx context.Context, accountID, purpose string) (domain.EmailCode, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, code_fingerprint, purpose, attempts,
		       consumed_at, created_at, expires_at
		FROM email_codes
		WHERE account_id = ? AND purpose = ?
		  AND consumed_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1`,
		accountID, purpose, time.Now().UTC(),
	)
	return r.scanEmailCode(row)
}

func (r *emailCodesRepo) IncrementEmailCodeAttempts(ctx context.Context, id string) (domain.EmailCode, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE email_codes SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return domain.EmailCode{}, err
	}
	if err := requireRow(res); err != nil {
		return domain.EmailCode{}, err
	}
	row := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, code_fingerprint, purpose, attempts,
		       consumed_at, created_at, expires_at
		FROM email_codes WHERE id = ?`, id)
	return r.scanEmailCode(row)
}

// MarkEmailCodeConsumed only succeeds for a still-unconsumed row, so two
// concurrent verifications cannot both redeem the same code.
func (r *emailCodesRepo) MarkEmailCodeConsumed(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE email_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *emailCodesRepo) LatestEmailCodeSentAt(ctx context.Context, accountID, purpose string) (*time.Time, error) {
	var sentAt time.Time
	err := r.q.QueryRowContext(ctx, `
		SELECT created_at FROM email_codes
		WHERE account_id = ? AND purpose = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		accountID, purpose,
	).Scan(&sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sentAt, nil
}

func (r *emailCodesRepo) DeleteExpiredEmailCodes(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM email_codes WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
