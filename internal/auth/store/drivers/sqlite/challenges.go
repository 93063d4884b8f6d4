package sqlite

import (
	"context"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
)

type challengesRepo struct {
	q dbtx
}

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.LoginChallenge) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO login_challenges (id, account_id, amr, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, joinAMR(c.AMR), c.Attempts, c.CreatedAt, c.ExpiresAt,
	)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, token string) (domain.LoginChallenge, error) {
	var (
		c   domain.LoginChallenge
		amr string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, amr, attempts, created_at, expires_at
		FROM login_challenges
		WHERE id = ? AND expires_at > ?`,
		token, time.Now().UTC(),
	).Scan(&c.ID, &c.AccountID, &amr, &c.Attempts, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return domain.LoginChallenge{}, mapNotFound(err)
	}
	c.AMR = splitAMR(amr)
	return c, nil
}

func (r *challengesRepo) IncrementChallengeAttempts(ctx context.Context, token string) (domain.LoginChallenge, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE login_challenges SET attempts = attempts + 1 WHERE id = ?`, token)
	if err != nil {
		return domain.LoginChallenge{}, err
	}
	if err := requireRow(res); err != nil {
		return domain.LoginChallenge{}, err
	}
	return r.GetChallenge(ctx, token)
}

func (r *challengesRepo) DeleteChallenge(ctx context.Context, token string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM login_challenges WHERE id = ?`, token)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM login_challenges WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
