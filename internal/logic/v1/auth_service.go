package v1

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/duynhne/game-service/internal/core/domain"
	"github.com/duynhne/game-service/middleware"
	pkgzerolog "github.com/duynhne/game-service/pkg/logger/zerolog"
)

// AuthService implements account and session business rules.
// It depends on repository interfaces (injected via constructor) and
// MUST NOT access the database or SQL directly.
type AuthService struct {
	users      domain.UserRepository
	sessions   domain.SessionRepository
	sessionTTL time.Duration
}

// NewAuthService creates a new AuthService. Sessions issued at login live
// for sessionTTL.
func NewAuthService(users domain.UserRepository, sessions domain.SessionRepository, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		sessionTTL: sessionTTL,
	}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy spends the same bcrypt work as a real comparison so unknown
// emails cannot be told apart by response time.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func toUser(row domain.UserRow) domain.User {
	return domain.User{
		ID:        strconv.Itoa(row.ID),
		Username:  row.Username,
		Email:     row.Email,
		CreatedAt: row.CreatedAt,
	}
}

// ListUsers returns every registered user without credentials.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.list_users", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	rows, err := s.users.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list users: %w", err)
	}

	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, toUser(row))
	}
	span.SetAttributes(attribute.Int("users.count", len(users)))
	return users, nil
}

// Register creates an account with a bcrypt password hash.
func (s *AuthService) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	ctx, span := middleware.StartSpan(ctx, "auth.register", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("username", username),
	))
	defer span.End()

	if username == "" || email == "" || req.Password == "" {
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, fmt.Errorf("register: username, email and password are required: %w", ErrInvalidInput)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, fmt.Errorf("register user %q: %w", username, ErrUserExists)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	row, err := s.users.Create(ctx, username, email, string(passwordHash))
	if errors.Is(err, domain.ErrDuplicateKey) {
		// Lost a race with a concurrent registration of the same email.
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, fmt.Errorf("register user %q: %w", username, ErrUserExists)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user := toUser(*row)
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.Bool("registration.success", true),
	)
	span.AddEvent("user.registered")
	return &user, nil
}

// Login verifies the email and password and opens a session.
// A failure to persist the session does not fail the login; the response
// then carries no token.
func (s *AuthService) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	email := strings.TrimSpace(req.Email)

	ctx, span := middleware.StartSpan(ctx, "auth.login", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if email == "" || req.Password == "" {
		span.SetAttributes(attribute.Bool("auth.success", false))
		return nil, fmt.Errorf("login: email and password are required: %w", ErrInvalidCredentials)
	}

	row, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	if row == nil {
		compareDummy(req.Password)
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		return nil, fmt.Errorf("authenticate %q: %w", email, ErrUserNotFound)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(req.Password)); err != nil {
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		return nil, fmt.Errorf("authenticate %q: %w", email, ErrInvalidCredentials)
	}

	logger := pkgzerolog.FromContext(ctx)

	// Update last_login timestamp (best-effort, don't fail login)
	if updateErr := s.users.UpdateLastLogin(ctx, row.ID); updateErr != nil {
		span.RecordError(fmt.Errorf("update last_login: %w", updateErr))
		logger.Warn().Err(updateErr).Int("user_id", row.ID).Msg("Failed to update last login")
	}

	response := &domain.LoginResponse{User: toUser(*row)}

	token, err := newSessionToken()
	if err == nil {
		expiresAt := time.Now().Add(s.sessionTTL).UTC()
		err = s.sessions.Create(ctx, row.ID, token, expiresAt)
		if err == nil {
			response.Token = token
			response.ExpiresAt = &expiresAt
		}
	}
	if err != nil {
		span.RecordError(fmt.Errorf("create session: %w", err))
		logger.Warn().Err(err).Int("user_id", row.ID).Msg("Failed to create session")
	}

	span.SetAttributes(
		attribute.String("user.id", response.ID),
		attribute.Bool("auth.success", true),
	)
	span.AddEvent("user.authenticated")
	return response, nil
}

// GetUserByToken resolves a session token to its user.
func (s *AuthService) GetUserByToken(ctx context.Context, token string) (*domain.User, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.get_user_by_token", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if token == "" {
		return nil, fmt.Errorf("lookup session: %w", ErrUnauthorized)
	}

	row, err := s.sessions.GetUserByToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query session: %w", err)
	}
	if row == nil {
		span.SetAttributes(attribute.Bool("session.valid", false))
		return nil, fmt.Errorf("lookup session: %w", ErrSessionNotFound)
	}

	if time.Now().After(row.ExpiresAt) {
		span.SetAttributes(attribute.Bool("session.valid", false))
		return nil, fmt.Errorf("session expired at %v: %w", row.ExpiresAt, ErrSessionExpired)
	}

	user := &domain.User{
		ID:        strconv.Itoa(row.UserID),
		Username:  row.Username,
		Email:     row.Email,
		CreatedAt: row.UserCreatedAt,
	}
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.Bool("session.valid", true),
	)
	return user, nil
}

// newSessionToken returns 256 random bits, base64url encoded.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Logout revokes the session identified by token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	ctx, span := middleware.StartSpan(ctx, "auth.logout", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if token == "" {
		return fmt.Errorf("logout: %w", ErrUnauthorized)
	}

	deleted, err := s.sessions.Delete(ctx, token)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return fmt.Errorf("logout: %w", ErrSessionNotFound)
	}
	return nil
}

// PruneSessions deletes sessions that have already expired.
func (s *AuthService) PruneSessions(ctx context.Context) (int64, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.prune_sessions", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	n, err := s.sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	span.SetAttributes(attribute.Int64("sessions.pruned", n))
	if n > 0 {
		pkgzerolog.FromContext(ctx).Info().Int64("count", n).Msg("Expired sessions pruned")
	}
	return n, nil
}
