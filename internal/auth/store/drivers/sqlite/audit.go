package sqlite

import (
	"context"

	"github.com/stafflane/stafflane/internal/auth/domain"
)

type auditRepo struct {
	q dbtx
}

func (r *auditRepo) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, account_id, actor, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Actor, e.Action, e.Detail, e.CreatedAt,
	)
	return err
}

func (r *auditRepo) ListAccountAudit(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, account_id, actor, action, detail, created_at
		FROM audit_log
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Actor, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
