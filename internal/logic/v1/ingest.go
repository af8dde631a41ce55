package v1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/game-service/internal/core/domain"
	"github.com/duynhne/game-service/middleware"
	pkgzerolog "github.com/duynhne/game-service/pkg/logger/zerolog"
)

// IngestState is a step of the upload pipeline.
type IngestState int

const (
	StateValidating IngestState = iota
	StateAllocated
	StateExtracted
	StateNormalized
	StateCataloged
	StateDone
	StateFailed
)

var ingestStateNames = [...]string{
	StateValidating: "validating",
	StateAllocated:  "allocated",
	StateExtracted:  "extracted",
	StateNormalized: "normalized",
	StateCataloged:  "cataloged",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s IngestState) String() string {
	if s < 0 || int(s) >= len(ingestStateNames) {
		return fmt.Sprintf("IngestState(%d)", int(s))
	}
	return ingestStateNames[s]
}

// IngestError is returned by Upload. State is the last state the pipeline
// reached before Err occurred.
type IngestError struct {
	State IngestState
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("upload failed after %s: %v", e.State, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

const (
	// uploadArchiveName is where the raw archive is kept until extraction
	// finishes. Archives that contain the same name are rejected because the
	// extractor never overwrites files.
	uploadArchiveName = ".upload.zip"

	imageBaseName = "gameimage"
)

// imageTypes maps accepted cover image extensions to the content type the
// file must actually have.
var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// ingestion carries the state of one upload through the pipeline.
type ingestion struct {
	svc    *GameService
	req    domain.IngestRequest
	span   trace.Span
	logger *zerolog.Logger

	state     IngestState
	name      string
	imageExt  string
	storageID string
	dir       string
	entryPath string
	imagePath string
}

// Upload runs the upload pipeline: validate the request, allocate a build
// directory, extract the archive, normalize the build, then catalog it.
// Any failure after allocation removes the directory before returning, and
// the catalog insert is the last step that can fail, so a failed upload
// leaves neither a directory nor a record behind.
func (s *GameService) Upload(ctx context.Context, req domain.IngestRequest) (*domain.UploadResponse, error) {
	ctx, span := middleware.StartSpan(ctx, "games.upload", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("game.name", req.Name),
	))
	defer span.End()

	start := time.Now()
	in := &ingestion{
		svc:    s,
		req:    req,
		span:   span,
		logger: pkgzerolog.FromContext(ctx),
	}

	resp, err := in.run(ctx)
	result := "success"
	if err != nil {
		result = failureKind(err)
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("ingest.result", result))
	middleware.ObserveIngestion(result, time.Since(start))
	return resp, err
}

func (in *ingestion) run(ctx context.Context) (*domain.UploadResponse, error) {
	if err := in.validate(ctx); err != nil {
		return nil, in.fail(err)
	}

	if err := in.svc.ingestions.Acquire(ctx, 1); err != nil {
		return nil, in.fail(err)
	}
	defer in.svc.ingestions.Release(1)

	resp, err := in.process(ctx)
	if err != nil {
		err = in.fail(err)
		if in.storageID != "" {
			if rmErr := in.svc.store.Remove(in.storageID); rmErr != nil {
				in.logger.Error().Err(rmErr).Str("storage_id", in.storageID).Msg("Failed to clean up build directory")
				err = errors.Join(err, fmt.Errorf("clean up %s: %w", in.storageID, rmErr))
			}
		}
		return nil, err
	}

	in.transition(StateDone)
	in.logger.Info().
		Str("game", in.name).
		Str("storage_id", in.storageID).
		Str("entry_path", in.entryPath).
		Msg("Game uploaded")
	return resp, nil
}

func (in *ingestion) transition(state IngestState) {
	in.state = state
	in.span.AddEvent("ingest."+state.String(), trace.WithAttributes(attribute.String("storage_id", in.storageID)))
	in.logger.Debug().
		Str("state", state.String()).
		Str("storage_id", in.storageID).
		Msg("Ingestion state changed")
}

func (in *ingestion) fail(err error) error {
	failed := &IngestError{State: in.state, Err: err}
	in.logger.Warn().
		Err(err).
		Str("state", in.state.String()).
		Str("storage_id", in.storageID).
		Msg("Ingestion failed")
	in.state = StateFailed
	return failed
}

// validate rejects bad requests before any side effect.
func (in *ingestion) validate(ctx context.Context) error {
	name, err := normalizeName(in.req.Name)
	if err != nil {
		return err
	}
	in.name = name

	archive := in.req.Archive
	if archive == nil || archive.Size <= 0 || archive.Open == nil {
		return fmt.Errorf("game archive is required: %w", ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(archive.Filename), ".zip") {
		return fmt.Errorf("game archive %q is not a .zip file: %w", archive.Filename, ErrInvalidInput)
	}

	if in.req.Image != nil {
		if err := in.validateImage(); err != nil {
			return err
		}
	}

	// Fast path only: the catalog's unique constraint decides races.
	existing, err := in.svc.games.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("check game name: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("game %q: %w", name, ErrDuplicateName)
	}
	return nil
}

func (in *ingestion) validateImage() error {
	image := in.req.Image
	if image.Size <= 0 || image.Open == nil {
		return fmt.Errorf("game image is empty: %w", ErrInvalidInput)
	}

	ext := strings.ToLower(filepath.Ext(image.Filename))
	want, ok := imageTypes[ext]
	if !ok {
		return fmt.Errorf("game image %q must be .png, .jpg, .jpeg or .webp: %w", image.Filename, ErrInvalidInput)
	}

	rc, err := image.Open()
	if err != nil {
		return fmt.Errorf("open game image: %w", err)
	}
	defer rc.Close()

	detected, err := mimetype.DetectReader(rc)
	if err != nil {
		return fmt.Errorf("read game image: %w", err)
	}
	if !detected.Is(want) {
		return fmt.Errorf("game image %q has content type %s, want %s: %w", image.Filename, detected.String(), want, ErrInvalidInput)
	}

	in.imageExt = ext
	return nil
}

func (in *ingestion) process(ctx context.Context) (*domain.UploadResponse, error) {
	store := in.svc.store

	id, err := store.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	in.storageID = id
	in.span.SetAttributes(attribute.String("game.storage_id", id))

	rawPath, err := store.Path(id, uploadArchiveName)
	if err != nil {
		return nil, err
	}
	in.dir = filepath.Dir(rawPath)

	if err := copyUpload(in.req.Archive, rawPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY); err != nil {
		return nil, fmt.Errorf("persist archive: %w: %w", ErrStorage, err)
	}
	in.transition(StateAllocated)

	if err := in.extract(ctx, rawPath); err != nil {
		return nil, err
	}
	in.transition(StateExtracted)

	resp, err := in.normalize(ctx)
	if err != nil {
		return nil, err
	}
	in.transition(StateNormalized)

	if err := in.catalog(ctx); err != nil {
		return nil, err
	}
	in.transition(StateCataloged)
	return resp, nil
}

func (in *ingestion) extract(ctx context.Context, rawPath string) error {
	res, err := in.svc.extractor.ExtractFile(ctx, rawPath, in.dir)
	if err != nil {
		return fmt.Errorf("extract archive: %w", classify(err, ErrInvalidArchive, ErrUnsafePath, ErrArchiveTooLarge))
	}
	if err := os.Remove(rawPath); err != nil {
		return fmt.Errorf("remove uploaded archive: %w: %w", ErrStorage, err)
	}

	in.logger.Debug().
		Int("files", res.Files).
		Int("dirs", res.Dirs).
		Int64("bytes", res.TotalBytes).
		Msg("Archive extracted")
	return nil
}

// normalize prepares the build, stores the cover image and computes the
// response URLs, so nothing is left to fail once the record is inserted.
func (in *ingestion) normalize(ctx context.Context) (*domain.UploadResponse, error) {
	res, err := in.svc.normalizer.Normalize(ctx, in.dir)
	if err != nil {
		return nil, fmt.Errorf("normalize build: %w", classify(err, ErrEntryPageNotFound))
	}
	in.entryPath = res.EntryPage

	if in.imageExt != "" {
		in.imagePath = imageBaseName + in.imageExt
		imagePath, err := in.svc.store.Path(in.storageID, in.imagePath)
		if err != nil {
			return nil, err
		}
		if err := copyUpload(in.req.Image, imagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY); err != nil {
			return nil, fmt.Errorf("store game image: %w: %w", ErrStorage, err)
		}
	}

	gameURL, imageURL, err := in.svc.urls(in.req.BaseURL, domain.GameRow{
		StorageID: in.storageID,
		EntryPath: in.entryPath,
		ImagePath: in.imagePath,
	})
	if err != nil {
		return nil, fmt.Errorf("build game URL: %w", err)
	}

	return &domain.UploadResponse{
		GameID:       in.storageID,
		GameURL:      gameURL,
		GameImageURL: imageURL,
	}, nil
}

func (in *ingestion) catalog(ctx context.Context) error {
	_, err := in.svc.games.Insert(ctx, domain.GameRow{
		StorageID: in.storageID,
		Name:      in.name,
		EntryPath: in.entryPath,
		ImagePath: in.imagePath,
	})
	if errors.Is(err, domain.ErrDuplicateKey) {
		return fmt.Errorf("catalog game %q: %w", in.name, ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("catalog game %q: %w", in.name, err)
	}
	return nil
}

// classify keeps err as is when it matches one of the expected kinds or is
// a context error, and marks it as a storage failure otherwise.
func classify(err error, kinds ...error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// copyUpload writes the content of an uploaded file to dest.
func copyUpload(file *domain.UploadFile, dest string, flag int) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, flag, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// failureKind labels an upload failure for metrics.
func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, ErrInvalidArchive), errors.Is(err, ErrUnsafePath), errors.Is(err, ErrArchiveTooLarge):
		return "invalid_archive"
	case errors.Is(err, ErrEntryPageNotFound):
		return "entry_page_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "internal_error"
	}
}
