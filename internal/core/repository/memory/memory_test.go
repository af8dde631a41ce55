package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/game-service/internal/core/domain"
)

func TestGameRepository_NamesAreCaseInsensitiveAndTrimmed(t *testing.T) {
	ctx := context.Background()
	repo := NewGameRepository()

	_, err := repo.Insert(ctx, domain.GameRow{StorageID: "a", Name: "Space Race", EntryPath: "index.html"})
	require.NoError(t, err)

	_, err = repo.Insert(ctx, domain.GameRow{StorageID: "b", Name: "  space race ", EntryPath: "index.html"})
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	g, err := repo.GetByName(ctx, "SPACE RACE")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "a", g.StorageID)
}

func TestGameRepository_ListOrdersByViews(t *testing.T) {
	ctx := context.Background()
	repo := NewGameRepository()
	for _, name := range []string{"one", "two", "three"} {
		_, err := repo.Insert(ctx, domain.GameRow{StorageID: name, Name: name, EntryPath: "index.html"})
		require.NoError(t, err)
	}
	_, err := repo.IncrementViews(ctx, "three")
	require.NoError(t, err)

	games, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, games, 3)
	assert.Equal(t, []string{"three", "one", "two"}, []string{games[0].Name, games[1].Name, games[2].Name})
}

func TestGameRepository_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	repo := NewGameRepository()
	_, err := repo.Insert(ctx, domain.GameRow{StorageID: "id", Name: "game", EntryPath: "index.html"})
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.IncrementViews(ctx, "game")
		}()
	}
	wg.Wait()

	g, err := repo.GetByName(ctx, "game")
	require.NoError(t, err)
	assert.Equal(t, int64(n), g.ViewCount)
}

func TestGameRepository_DeleteRollsBackOnHookError(t *testing.T) {
	ctx := context.Background()
	repo := NewGameRepository()
	_, err := repo.Insert(ctx, domain.GameRow{StorageID: "id", Name: "game", EntryPath: "index.html"})
	require.NoError(t, err)

	hookErr := errors.New("disk on fire")
	_, err = repo.Delete(ctx, "game", func(*domain.GameRow) error { return hookErr })
	assert.ErrorIs(t, err, hookErr)

	g, err := repo.GetByName(ctx, "game")
	require.NoError(t, err)
	assert.NotNil(t, g)

	deleted, err := repo.Delete(ctx, "GAME", nil)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "id", deleted.StorageID)

	missing, err := repo.Delete(ctx, "game", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepository_ResolvesOwner(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository()
	sessions := NewSessionRepository(users)

	u, err := users.Create(ctx, "ada", "ada@example.com", "hash")
	require.NoError(t, err)
	_, err = users.Create(ctx, "other", "ada@example.com", "hash")
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	require.NoError(t, sessions.Create(ctx, u.ID, "tok", u.CreatedAt))

	row, err := sessions.GetUserByToken(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ada", row.Username)

	row, err = sessions.GetUserByToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSessionRepository_DeleteAndPrune(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository()
	sessions := NewSessionRepository(users)

	u, err := users.Create(ctx, "ada", "ada@example.com", "hash")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sessions.Create(ctx, u.ID, "old", now.Add(-time.Minute)))
	require.NoError(t, sessions.Create(ctx, u.ID, "live", now.Add(time.Hour)))
	require.NoError(t, sessions.Create(ctx, u.ID, "bye", now.Add(time.Hour)))

	ok, err := sessions.Delete(ctx, "bye")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sessions.Delete(ctx, "bye")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := sessions.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := sessions.GetUserByToken(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = sessions.GetUserByToken(ctx, "live")
	require.NoError(t, err)
	assert.NotNil(t, row)
}
