package domain

import (
	"context"
	"time"
)

// SessionRow is a login session joined with the account that owns it.
type SessionRow struct {
	UserID        int
	Username      string
	Email         string
	UserCreatedAt time.Time
	ExpiresAt     time.Time
}

// SessionRepository stores bearer tokens issued at login.
type SessionRepository interface {
	Create(ctx context.Context, userID int, token string, expiresAt time.Time) error

	// GetUserByToken returns (nil, nil) for an unknown token. Expired
	// sessions are still returned; callers decide what expiry means.
	GetUserByToken(ctx context.Context, token string) (*SessionRow, error)

	// Delete removes one session and reports whether it existed.
	Delete(ctx context.Context, token string) (bool, error)

	// DeleteExpired removes every session that expired before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
