package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/game-service/internal/core/domain"
)

// gameColumns is the column list every game query scans with scanGame.
const gameColumns = `id, storage_id, name, entry_path, COALESCE(image_path, ''), view_count, created_at`

// PgxGameRepository implements domain.GameRepository using pgxpool.
// Name lookups compare lower(btrim(name)), which the games_name_key unique
// index also covers.
type PgxGameRepository struct {
	pool *pgxpool.Pool
}

// NewGameRepository creates a new PgxGameRepository.
func NewGameRepository(pool *pgxpool.Pool) *PgxGameRepository {
	return &PgxGameRepository{pool: pool}
}

func scanGame(row pgx.Row) (*domain.GameRow, error) {
	var g domain.GameRow
	err := row.Scan(&g.ID, &g.StorageID, &g.Name, &g.EntryPath, &g.ImagePath, &g.ViewCount, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// Insert stores a new game. The unique index on the normalized name is the
// only arbiter between concurrent inserts of the same name.
func (r *PgxGameRepository) Insert(ctx context.Context, game domain.GameRow) (*domain.GameRow, error) {
	query := `
		INSERT INTO games (storage_id, name, entry_path, image_path)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING ` + gameColumns

	row, err := scanGame(r.pool.QueryRow(ctx, query, game.StorageID, game.Name, game.EntryPath, game.ImagePath))
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return row, nil
}

// GetByName returns (nil, nil) when no game matches.
func (r *PgxGameRepository) GetByName(ctx context.Context, name string) (*domain.GameRow, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE lower(btrim(name)) = lower(btrim($1))`
	return scanGame(r.pool.QueryRow(ctx, query, name))
}

// List returns every game, most viewed first, then oldest first.
func (r *PgxGameRepository) List(ctx context.Context) ([]domain.GameRow, error) {
	query := `SELECT ` + gameColumns + ` FROM games ORDER BY view_count DESC, created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GameRow, error) {
		g, err := scanGame(row)
		if err != nil {
			return domain.GameRow{}, err
		}
		return *g, nil
	})
}

// IncrementViews adds one in a single UPDATE so concurrent increments never
// lose updates.
func (r *PgxGameRepository) IncrementViews(ctx context.Context, name string) (*domain.GameRow, error) {
	query := `
		UPDATE games SET view_count = view_count + 1
		WHERE lower(btrim(name)) = lower(btrim($1))
		RETURNING ` + gameColumns
	return scanGame(r.pool.QueryRow(ctx, query, name))
}

// Delete removes the game inside a transaction. beforeCommit runs after the
// row is deleted but before the transaction commits; an error from it rolls
// the deletion back.
func (r *PgxGameRepository) Delete(ctx context.Context, name string, beforeCommit func(*domain.GameRow) error) (*domain.GameRow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `DELETE FROM games WHERE lower(btrim(name)) = lower(btrim($1)) RETURNING ` + gameColumns
	row, err := scanGame(tx.QueryRow(ctx, query, name))
	if err != nil || row == nil {
		return nil, err
	}

	if beforeCommit != nil {
		if err := beforeCommit(row); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return row, nil
}
