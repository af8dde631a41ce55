package v1

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/duynhne/game-service/internal/core/domain"
	logicv1 "github.com/duynhne/game-service/internal/logic/v1"
	pkgzerolog "github.com/duynhne/game-service/pkg/logger/zerolog"
)

// Multipart field names of POST /api/games/upload.
const (
	formGameFile  = "gamefile"
	formGameImage = "gameimage"
	formGameName  = "gamename"
)

// baseURL returns the scheme and host game URLs are built on.
func (h *Handler) baseURL(c *gin.Context) string {
	if h.opts.PublicBaseURL != "" {
		return h.opts.PublicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

// writeGameError maps catalog and upload errors to HTTP responses.
// Infrastructure failures are logged with detail and answered generically.
func writeGameError(c *gin.Context, logger *zerolog.Logger, msg string, err error) {
	status, body := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, logicv1.ErrInvalidInput):
		status, body = http.StatusBadRequest, errorDetail(err)
	case errors.Is(err, logicv1.ErrGameNotFound):
		status, body = http.StatusNotFound, "Game not found"
	case errors.Is(err, logicv1.ErrDuplicateName):
		status, body = http.StatusConflict, "A game with this name already exists"
	case errors.Is(err, logicv1.ErrUnsafePath):
		status, body = http.StatusBadRequest, "Archive contains unsafe paths"
	case errors.Is(err, logicv1.ErrArchiveTooLarge):
		status, body = http.StatusBadRequest, "Archive exceeds extraction limits"
	case errors.Is(err, logicv1.ErrInvalidArchive):
		status, body = http.StatusBadRequest, "Invalid zip archive"
	case errors.Is(err, logicv1.ErrEntryPageNotFound):
		status, body = http.StatusBadRequest, "Build has no index.html"
	}

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Msg(msg)
	c.JSON(status, gin.H{"error": body})
}

// errorDetail returns the innermost user-facing message of an input error,
// dropping the wrapping added by the logic layer.
func errorDetail(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "+logicv1.ErrInvalidInput.Error()); i > 0 {
		msg = msg[:i]
	}
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	return msg
}

// ListGames handles GET /api/games.
func (h *Handler) ListGames(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	games, err := h.games.List(ctx, h.baseURL(c))
	if err != nil {
		span.RecordError(err)
		writeGameError(c, pkgzerolog.FromContext(ctx), "List games failed", err)
		return
	}
	c.JSON(http.StatusOK, games)
}

func uploadFile(fh *multipart.FileHeader) *domain.UploadFile {
	return &domain.UploadFile{
		Filename: fh.Filename,
		Size:     fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// UploadGame handles POST /api/games/upload (multipart: gamefile, gamename,
// optional gameimage).
func (h *Handler) UploadGame(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	logger := pkgzerolog.FromContext(ctx)

	if h.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Err(err).Int64("limit", tooLarge.Limit).Msg("Upload too large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload exceeds the maximum request size"})
			return
		}
		logger.Warn().Err(err).Msg("Invalid upload request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a multipart form"})
		return
	}
	defer func() { _ = form.RemoveAll() }()

	req := domain.IngestRequest{BaseURL: h.baseURL(c)}
	if values := form.Value[formGameName]; len(values) > 0 {
		req.Name = values[0]
	}
	if files := form.File[formGameFile]; len(files) > 0 {
		req.Archive = uploadFile(files[0])
	}
	if files := form.File[formGameImage]; len(files) > 0 {
		req.Image = uploadFile(files[0])
	}
	span.SetAttributes(attribute.Bool("request.valid", true), attribute.Bool("request.has_image", req.Image != nil))

	resp, err := h.games.Upload(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeGameError(c, logger, "Upload failed", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteGame handles DELETE /api/games/:name.
func (h *Handler) DeleteGame(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	if err := h.games.Delete(ctx, c.Param("name")); err != nil {
		span.RecordError(err)
		writeGameError(c, pkgzerolog.FromContext(ctx), "Delete game failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game deleted"})
}

// IncrementViews handles PATCH /api/games/:name/incrementViews.
func (h *Handler) IncrementViews(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	views, err := h.games.IncrementViews(ctx, c.Param("name"))
	if err != nil {
		span.RecordError(err)
		writeGameError(c, pkgzerolog.FromContext(ctx), "Increment views failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetViews handles GET /api/games/:name/getViews.
func (h *Handler) GetViews(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	views, err := h.games.GetViews(ctx, c.Param("name"))
	if err != nil {
		span.RecordError(err)
		writeGameError(c, pkgzerolog.FromContext(ctx), "Get views failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}
