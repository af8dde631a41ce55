package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/duynhne/game-service/config"
	database "github.com/duynhne/game-service/internal/core"
	"github.com/duynhne/game-service/internal/core/domain"
)

// setupPostgres starts a Postgres container, applies the schema and returns
// a pool. Tests are skipped in short mode or when no container runtime is
// available.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "games",
			"POSTGRES_PASSWORD": "games",
			"POSTGRES_DB":       "games",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := database.Connect(ctx, config.DatabaseConfig{
		Host:           host,
		Port:           port.Port(),
		User:           "games",
		Password:       "games",
		Name:           "games",
		SSLMode:        "disable",
		MaxConnections: 20,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	// Applying twice must be harmless.
	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func TestPostgres(t *testing.T) {
	pool := setupPostgres(t)

	t.Run("GameNameUniqueness", func(t *testing.T) {
		ctx := context.Background()
		games := NewGameRepository(pool)

		g, err := games.Insert(ctx, domain.GameRow{StorageID: "s1", Name: "Space Race", EntryPath: "index.html"})
		require.NoError(t, err)
		assert.Positive(t, g.ID)
		assert.Zero(t, g.ViewCount)
		assert.Empty(t, g.ImagePath)

		_, err = games.Insert(ctx, domain.GameRow{StorageID: "s2", Name: "  SPACE race ", EntryPath: "index.html"})
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)

		found, err := games.GetByName(ctx, " space race")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "s1", found.StorageID)

		missing, err := games.GetByName(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		ctx := context.Background()
		games := NewGameRepository(pool)
		_, err := games.Insert(ctx, domain.GameRow{StorageID: "s3", Name: "clicker", EntryPath: "index.html", ImagePath: "gameimage.png"})
		require.NoError(t, err)

		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := games.IncrementViews(ctx, "Clicker"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		g, err := games.GetByName(ctx, "clicker")
		require.NoError(t, err)
		assert.Equal(t, int64(n), g.ViewCount)
		assert.Equal(t, "gameimage.png", g.ImagePath)

		list, err := games.List(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, list)
		assert.Equal(t, "clicker", list[0].Name)

		none, err := games.IncrementViews(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("DeleteHonoursHook", func(t *testing.T) {
		ctx := context.Background()
		games := NewGameRepository(pool)
		_, err := games.Insert(ctx, domain.GameRow{StorageID: "s4", Name: "doomed", EntryPath: "index.html"})
		require.NoError(t, err)

		hookErr := errors.New("cannot remove directory")
		_, err = games.Delete(ctx, "doomed", func(*domain.GameRow) error { return hookErr })
		assert.ErrorIs(t, err, hookErr)

		kept, err := games.GetByName(ctx, "doomed")
		require.NoError(t, err)
		require.NotNil(t, kept)

		var seen string
		deleted, err := games.Delete(ctx, "DOOMED", func(g *domain.GameRow) error {
			seen = g.StorageID
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, deleted)
		assert.Equal(t, "s4", seen)

		again, err := games.Delete(ctx, "doomed", nil)
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("UsersAndSessions", func(t *testing.T) {
		ctx := context.Background()
		users := NewUserRepository(pool)
		sessions := NewSessionRepository(pool)

		u, err := users.Create(ctx, "ada", "ada@example.com", "hash")
		require.NoError(t, err)
		assert.False(t, u.CreatedAt.IsZero())

		_, err = users.Create(ctx, "ada2", "ada@example.com", "hash")
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)

		exists, err := users.ExistsByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, users.UpdateLastLogin(ctx, u.ID))

		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
		require.NoError(t, sessions.Create(ctx, u.ID, "token-1", expires))

		row, err := sessions.GetUserByToken(ctx, "token-1")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, u.ID, row.UserID)
		assert.True(t, expires.Equal(row.ExpiresAt))

		require.NoError(t, sessions.Create(ctx, u.ID, "token-old", time.Now().Add(-time.Hour)))
		pruned, err := sessions.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		deleted, err := sessions.Delete(ctx, "token-1")
		require.NoError(t, err)
		assert.True(t, deleted)
		row, err = sessions.GetUserByToken(ctx, "token-1")
		require.NoError(t, err)
		assert.Nil(t, row)

		all, err := users.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
