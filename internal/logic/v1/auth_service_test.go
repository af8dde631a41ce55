package v1

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/game-service/internal/core/domain"
	"github.com/duynhne/game-service/internal/core/repository/memory"
)

func newAuthService(ttl time.Duration) *AuthService {
	users := memory.NewUserRepository()
	return NewAuthService(users, memory.NewSessionRepository(users), ttl)
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(time.Hour)

	user, err := svc.Register(ctx, domain.RegisterRequest{Username: " ada ", Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	resp, err := svc.Login(ctx, domain.LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.ID)
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.ExpiresAt)

	me, err := svc.GetUserByToken(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", me.Email)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ada", users[0].Username)
}

func TestAuthService_LoginFailures(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(time.Hour)
	_, err := svc.Register(ctx, domain.RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  domain.LoginRequest
		want error
	}{
		{"wrong password", domain.LoginRequest{Email: "ada@example.com", Password: "nope"}, ErrInvalidCredentials},
		{"unknown email", domain.LoginRequest{Email: "bob@example.com", Password: "s3cret"}, ErrUserNotFound},
		{"missing email", domain.LoginRequest{Password: "s3cret"}, ErrInvalidCredentials},
		{"missing password", domain.LoginRequest{Email: "ada@example.com"}, ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Login(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, resp)
		})
	}
}

func TestAuthService_RegisterFailures(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(time.Hour)

	_, err := svc.Register(ctx, domain.RegisterRequest{Username: "  ", Email: "ada@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Register(ctx, domain.RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "x"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, domain.RegisterRequest{Username: "other", Email: "ada@example.com", Password: "y"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthService_Sessions(t *testing.T) {
	ctx := context.Background()

	svc := newAuthService(time.Hour)
	_, err := svc.GetUserByToken(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.GetUserByToken(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired := newAuthService(-time.Minute)
	_, err = expired.Register(ctx, domain.RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "x"})
	require.NoError(t, err)
	resp, err := expired.Login(ctx, domain.LoginRequest{Email: "ada@example.com", Password: "x"})
	require.NoError(t, err)

	_, err = expired.GetUserByToken(ctx, resp.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestAuthService_LogoutAndPrune(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(time.Hour)

	_, err := svc.Register(ctx, domain.RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "x"})
	require.NoError(t, err)
	resp, err := svc.Login(ctx, domain.LoginRequest{Email: "ada@example.com", Password: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, resp.Token))
	_, err = svc.GetUserByToken(ctx, resp.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Logout(ctx, resp.Token), ErrSessionNotFound)
	assert.ErrorIs(t, svc.Logout(ctx, ""), ErrUnauthorized)

	expired := newAuthService(-time.Minute)
	_, err = expired.Register(ctx, domain.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "y"})
	require.NoError(t, err)
	_, err = expired.Login(ctx, domain.LoginRequest{Email: "bob@example.com", Password: "y"})
	require.NoError(t, err)

	n, err := expired.PruneSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewSessionToken(t *testing.T) {
	a, err := newSessionToken()
	require.NoError(t, err)
	b, err := newSessionToken()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}
