package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/game-service/internal/core/domain"
)

// PgxSessionRepository is the Postgres backed domain.SessionRepository.
type PgxSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a session repository over pool.
func NewSessionRepository(pool *pgxpool.Pool) *PgxSessionRepository {
	return &PgxSessionRepository{pool: pool}
}

func (r *PgxSessionRepository) Create(ctx context.Context, userID int, token string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (user_id, token, expires_at) VALUES ($1, $2, $3)`,
		userID, token, expiresAt.UTC(),
	)
	return mapUniqueViolation(err)
}

// GetUserByToken returns (nil, nil) when no session carries token.
func (r *PgxSessionRepository) GetUserByToken(ctx context.Context, token string) (*domain.SessionRow, error) {
	const query = `
		SELECT s.user_id, u.username, u.email, u.created_at, s.expires_at
		FROM sessions AS s
		INNER JOIN users AS u ON u.id = s.user_id
		WHERE s.token = $1`

	var row domain.SessionRow
	err := r.pool.QueryRow(ctx, query, token).Scan(&row.UserID, &row.Username, &row.Email, &row.UserCreatedAt, &row.ExpiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &row, nil
}

func (r *PgxSessionRepository) Delete(ctx context.Context, token string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgxSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
