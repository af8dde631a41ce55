package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/game-service/internal/core/domain"
)

// PgxUserRepository implements domain.UserRepository using pgxpool.
type PgxUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PgxUserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PgxUserRepository {
	return &PgxUserRepository{pool: pool}
}

// GetByEmail returns the user registered with the given email.
// Returns (nil, nil) when no user is found.
func (r *PgxUserRepository) GetByEmail(ctx context.Context, email string) (*domain.UserRow, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	var row domain.UserRow
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&row.ID, &row.Username, &row.Email, &row.PasswordHash, &row.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &row, nil
}

// ExistsByEmail returns true when a user with the given email exists.
func (r *PgxUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts a new user and returns the stored row.
func (r *PgxUserRepository) Create(ctx context.Context, username, email, passwordHash string) (*domain.UserRow, error) {
	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, username, email, password_hash, created_at
	`

	var row domain.UserRow
	err := r.pool.QueryRow(ctx, query, username, email, passwordHash).Scan(
		&row.ID, &row.Username, &row.Email, &row.PasswordHash, &row.CreatedAt,
	)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}

	return &row, nil
}

// List returns all users ordered by ID.
func (r *PgxUserRepository) List(ctx context.Context) ([]domain.UserRow, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UserRow, error) {
		var u domain.UserRow
		err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
		return u, err
	})
}

// UpdateLastLogin sets the last_login timestamp to now for the given user.
func (r *PgxUserRepository) UpdateLastLogin(ctx context.Context, userID int) error {
	query := `UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}
