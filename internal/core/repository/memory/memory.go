// Package memory provides in-process implementations of the domain
// repositories. They back DB_DRIVER=memory and the logic-layer tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/duynhne/game-service/internal/core/domain"
)

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GameRepository is a mutex-guarded domain.GameRepository.
type GameRepository struct {
	mu     sync.Mutex
	nextID int64
	games  map[string]*domain.GameRow
}

// NewGameRepository returns an empty GameRepository.
func NewGameRepository() *GameRepository {
	return &GameRepository{games: make(map[string]*domain.GameRow)}
}

func (r *GameRepository) Insert(ctx context.Context, game domain.GameRow) (*domain.GameRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(game.Name)
	if _, ok := r.games[key]; ok {
		return nil, fmt.Errorf("game %q: %w", game.Name, domain.ErrDuplicateKey)
	}
	for _, g := range r.games {
		if g.StorageID == game.StorageID {
			return nil, fmt.Errorf("storage id %q: %w", game.StorageID, domain.ErrDuplicateKey)
		}
	}

	r.nextID++
	game.ID = r.nextID
	game.ViewCount = 0
	game.CreatedAt = time.Now().UTC()
	r.games[key] = &game

	out := game
	return &out, nil
}

func (r *GameRepository) GetByName(ctx context.Context, name string) (*domain.GameRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.games[nameKey(name)]
	if !ok {
		return nil, nil
	}
	out := *g
	return &out, nil
}

func (r *GameRepository) List(ctx context.Context) ([]domain.GameRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]domain.GameRow, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, *g)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ViewCount != out[j].ViewCount {
			return out[i].ViewCount > out[j].ViewCount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *GameRepository) IncrementViews(ctx context.Context, name string) (*domain.GameRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.games[nameKey(name)]
	if !ok {
		return nil, nil
	}
	g.ViewCount++
	out := *g
	return &out, nil
}

// Delete holds the lock while beforeCommit runs, so no other operation
// observes the record half-deleted.
func (r *GameRepository) Delete(ctx context.Context, name string, beforeCommit func(*domain.GameRow) error) (*domain.GameRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(name)
	g, ok := r.games[key]
	if !ok {
		return nil, nil
	}
	out := *g
	if beforeCommit != nil {
		if err := beforeCommit(&out); err != nil {
			return nil, err
		}
	}
	delete(r.games, key)
	return &out, nil
}

// UserRepository is a mutex-guarded domain.UserRepository.
type UserRepository struct {
	mu     sync.Mutex
	nextID int
	users  []domain.UserRow
}

// NewUserRepository returns an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.UserRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, err := r.GetByEmail(ctx, email)
	return u != nil, err
}

func (r *UserRepository) Create(ctx context.Context, username, email, passwordHash string) (*domain.UserRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			return nil, fmt.Errorf("email %q: %w", email, domain.ErrDuplicateKey)
		}
	}
	r.nextID++
	row := domain.UserRow{
		ID:           r.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.users = append(r.users, row)
	return &row, nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.UserRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UserRow(nil), r.users...), nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID int) error {
	return ctx.Err()
}

// SessionRepository is a mutex-guarded domain.SessionRepository that
// resolves session owners through a UserRepository.
type SessionRepository struct {
	users    *UserRepository
	mu       sync.Mutex
	sessions map[string]session
}

type session struct {
	userID    int
	expiresAt time.Time
}

// NewSessionRepository returns an empty SessionRepository.
func NewSessionRepository(users *UserRepository) *SessionRepository {
	return &SessionRepository{users: users, sessions: make(map[string]session)}
}

func (r *SessionRepository) Create(ctx context.Context, userID int, token string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[token]; ok {
		return fmt.Errorf("session token: %w", domain.ErrDuplicateKey)
	}
	r.sessions[token] = session{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *SessionRepository) GetUserByToken(ctx context.Context, token string) (*domain.SessionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	s, ok := r.sessions[token]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	r.users.mu.Lock()
	defer r.users.mu.Unlock()
	for _, u := range r.users.users {
		if u.ID == s.userID {
			return &domain.SessionRow{
				UserID:        u.ID,
				Username:      u.Username,
				Email:         u.Email,
				UserCreatedAt: u.CreatedAt,
				ExpiresAt:     s.expiresAt,
			}, nil
		}
	}
	return nil, nil
}

func (r *SessionRepository) Delete(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[token]
	delete(r.sessions, token)
	return ok, nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, s := range r.sessions {
		if s.expiresAt.Before(now) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

var (
	_ domain.GameRepository    = (*GameRepository)(nil)
	_ domain.UserRepository    = (*UserRepository)(nil)
	_ domain.SessionRepository = (*SessionRepository)(nil)
)
