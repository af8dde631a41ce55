package v1

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/duynhne/game-service/internal/archive"
	"github.com/duynhne/game-service/internal/build"
	"github.com/duynhne/game-service/internal/core/domain"
	"github.com/duynhne/game-service/internal/storage"
	"github.com/duynhne/game-service/middleware"
	pkgzerolog "github.com/duynhne/game-service/pkg/logger/zerolog"
)

// maxNameLength bounds game names in bytes.
const maxNameLength = 200

// GameService owns the game catalog together with the on-disk builds.
// It is the only component that creates or destroys both.
type GameService struct {
	games      domain.GameRepository
	store      *storage.Store
	extractor  *archive.Extractor
	normalizer *build.Normalizer
	ingestions *semaphore.Weighted
}

// NewGameService creates a GameService. At most maxConcurrent uploads are
// extracted and normalized at the same time.
func NewGameService(games domain.GameRepository, store *storage.Store, extractor *archive.Extractor, normalizer *build.Normalizer, maxConcurrent int64) *GameService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &GameService{
		games:      games,
		store:      store,
		extractor:  extractor,
		normalizer: normalizer,
		ingestions: semaphore.NewWeighted(maxConcurrent),
	}
}

// normalizeName trims a game name and rejects names that cannot be stored
// or addressed in a URL path segment.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("game name is required: %w", ErrInvalidInput)
	case len(name) > maxNameLength:
		return "", fmt.Errorf("game name longer than %d bytes: %w", maxNameLength, ErrInvalidInput)
	case strings.ContainsAny(name, "/\\"):
		return "", fmt.Errorf("game name %q contains a path separator: %w", name, ErrInvalidInput)
	case strings.IndexFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) >= 0:
		return "", fmt.Errorf("game name contains control characters: %w", ErrInvalidInput)
	}
	return name, nil
}

// lookupName trims a name used to find an existing game. Only blank names
// are rejected; any other name that was never accepted at upload simply
// matches nothing.
func lookupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("game name is required: %w", ErrInvalidInput)
	}
	// Text Postgres cannot store can never have been cataloged.
	if strings.ContainsRune(name, 0) || !utf8.ValidString(name) {
		return "", fmt.Errorf("game %q: %w", name, ErrGameNotFound)
	}
	return name, nil
}

// urls returns the servable URLs of a cataloged game.
func (s *GameService) urls(baseURL string, row domain.GameRow) (gameURL, imageURL string, err error) {
	gameURL, err = s.store.URL(baseURL, row.StorageID, row.EntryPath)
	if err != nil {
		return "", "", err
	}
	if row.ImagePath != "" {
		imageURL, err = s.store.URL(baseURL, row.StorageID, row.ImagePath)
		if err != nil {
			return "", "", err
		}
	}
	return gameURL, imageURL, nil
}

// List returns every game, most viewed first. URLs are built on baseURL.
func (s *GameService) List(ctx context.Context, baseURL string) ([]domain.Game, error) {
	ctx, span := middleware.StartSpan(ctx, "games.list", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	rows, err := s.games.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list games: %w", err)
	}

	logger := pkgzerolog.FromContext(ctx)
	games := make([]domain.Game, 0, len(rows))
	for _, row := range rows {
		g := domain.Game{
			Name:      row.Name,
			StorageID: row.StorageID,
			ViewCount: row.ViewCount,
			CreatedAt: row.CreatedAt,
		}
		if g.GameURL, g.GameImageURL, err = s.urls(baseURL, row); err != nil {
			logger.Warn().Err(err).Str("storage_id", row.StorageID).Msg("Cannot build game URL")
		}
		games = append(games, g)
	}

	span.SetAttributes(attribute.Int("games.count", len(games)))
	return games, nil
}

// GetViews returns the view count of the named game.
func (s *GameService) GetViews(ctx context.Context, name string) (*domain.ViewsResponse, error) {
	ctx, span := middleware.StartSpan(ctx, "games.get_views", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("game.name", name),
	))
	defer span.End()

	name, err := lookupName(name)
	if err != nil {
		return nil, err
	}

	row, err := s.games.GetByName(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get game %q: %w", name, err)
	}
	if row == nil {
		return nil, fmt.Errorf("get views of %q: %w", name, ErrGameNotFound)
	}
	return &domain.ViewsResponse{PlayersViews: row.ViewCount}, nil
}

// IncrementViews adds one view to the named game and returns the new count.
func (s *GameService) IncrementViews(ctx context.Context, name string) (*domain.ViewsResponse, error) {
	ctx, span := middleware.StartSpan(ctx, "games.increment_views", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("game.name", name),
	))
	defer span.End()

	name, err := lookupName(name)
	if err != nil {
		return nil, err
	}

	row, err := s.games.IncrementViews(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("increment views of %q: %w", name, err)
	}
	if row == nil {
		return nil, fmt.Errorf("increment views of %q: %w", name, ErrGameNotFound)
	}

	span.SetAttributes(attribute.Int64("game.views", row.ViewCount))
	return &domain.ViewsResponse{PlayersViews: row.ViewCount}, nil
}

// Delete removes the named game's catalog record and its build directory.
// The directory is removed before the record deletion commits, so a storage
// failure leaves both in place.
func (s *GameService) Delete(ctx context.Context, name string) error {
	ctx, span := middleware.StartSpan(ctx, "games.delete", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("game.name", name),
	))
	defer span.End()

	name, err := lookupName(name)
	if err != nil {
		return err
	}

	row, err := s.games.Delete(ctx, name, func(row *domain.GameRow) error {
		return s.store.Remove(row.StorageID)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete game %q: %w", name, err)
	}
	if row == nil {
		return fmt.Errorf("delete game %q: %w", name, ErrGameNotFound)
	}

	span.SetAttributes(attribute.String("game.storage_id", row.StorageID))
	pkgzerolog.FromContext(ctx).Info().
		Str("game", row.Name).
		Str("storage_id", row.StorageID).
		Msg("Game deleted")
	return nil
}
