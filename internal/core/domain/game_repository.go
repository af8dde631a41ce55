package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateKey is returned by repositories when an insert violates a
// uniqueness constraint (game name, user email).
var ErrDuplicateKey = errors.New("duplicate key")

// GameRow is a catalog record. StorageID names the game's directory in the
// archive store; EntryPath and ImagePath are relative to that directory.
type GameRow struct {
	ID        int64
	StorageID string
	Name      string
	EntryPath string
	ImagePath string
	ViewCount int64
	CreatedAt time.Time
}

// GameRepository is the persistent game catalog. Names are matched
// case-insensitively after trimming surrounding whitespace.
type GameRepository interface {
	// Insert stores a new record and returns it with ID, ViewCount and
	// CreatedAt populated. Returns ErrDuplicateKey when the name is taken.
	Insert(ctx context.Context, game GameRow) (*GameRow, error)

	// GetByName returns (nil, nil) when no record matches.
	GetByName(ctx context.Context, name string) (*GameRow, error)

	// List returns every record, most viewed first.
	List(ctx context.Context) ([]GameRow, error)

	// IncrementViews atomically adds one to the view count and returns the
	// updated record, or (nil, nil) when no record matches.
	IncrementViews(ctx context.Context, name string) (*GameRow, error)

	// Delete removes the record matching name and returns it, or (nil, nil)
	// when none matches. beforeCommit runs while the deletion is still
	// pending; if it returns an error the record is kept.
	Delete(ctx context.Context, name string, beforeCommit func(*GameRow) error) (*GameRow, error)
}
