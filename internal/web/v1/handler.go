package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/game-service/internal/core/domain"
	logicv1 "github.com/duynhne/game-service/internal/logic/v1"
	"github.com/duynhne/game-service/middleware"
	pkgzerolog "github.com/duynhne/game-service/pkg/logger/zerolog"
)

// Options tune the HTTP surface.
type Options struct {
	// PublicBaseURL is the scheme and host used in returned game URLs.
	// Empty derives it from the request's Host and X-Forwarded-Proto
	// headers, which clients control. Set it whenever the service is not
	// behind a trusted proxy that rewrites those headers.
	PublicBaseURL string

	// MaxUploadBytes bounds the size of an upload request body.
	MaxUploadBytes int64

	// RequireAuth makes upload and delete require a session token.
	RequireAuth bool
}

// Handler groups HTTP handlers for API v1.
// Dependencies are injected via the constructor; there is no global state.
type Handler struct {
	auth  *logicv1.AuthService
	games *logicv1.GameService
	opts  Options
}

// NewHandler creates a new Handler.
func NewHandler(auth *logicv1.AuthService, games *logicv1.GameService, opts Options) *Handler {
	return &Handler{auth: auth, games: games, opts: opts}
}

// RegisterRoutes registers all API v1 routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	{
		users.GET("", h.ListUsers)
		users.POST("", h.Register)
		users.POST("/login", h.Login)
		users.GET("/me", h.GetMe)
		users.POST("/logout", h.Logout)
	}

	guarded := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if h.opts.RequireAuth {
			return []gin.HandlerFunc{h.RequireSession(), handler}
		}
		return []gin.HandlerFunc{handler}
	}

	games := rg.Group("/games")
	{
		games.GET("", h.ListGames)
		games.POST("/upload", guarded(h.UploadGame)...)
		games.DELETE("/:name", guarded(h.DeleteGame)...)
		games.PATCH("/:name/incrementViews", h.IncrementViews)
		games.GET("/:name/getViews", h.GetViews)
	}
}

// startSpan opens the web-layer span and makes it the parent of everything
// downstream by replacing the request context.
func startSpan(c *gin.Context) trace.Span {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	c.Request = c.Request.WithContext(ctx)
	return span
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(bearerPrefix):]), true
}

// RequireSession rejects requests without a valid session token and stores
// the session user under the "user" key.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		user, err := h.auth.GetUserByToken(c.Request.Context(), token)
		if err != nil {
			writeSessionError(c, err)
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Next()
	}
}

// writeSessionError writes the response for a failed token lookup.
func writeSessionError(c *gin.Context, err error) {
	logger := pkgzerolog.FromContext(c.Request.Context())
	logger.Warn().Err(err).Msg("Token lookup failed")

	switch {
	case errors.Is(err, logicv1.ErrSessionNotFound), errors.Is(err, logicv1.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
	case errors.Is(err, logicv1.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	users, err := h.auth.ListUsers(c.Request.Context())
	if err != nil {
		span.RecordError(err)
		pkgzerolog.FromContext(c.Request.Context()).Error().Err(err).Msg("List users failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// Register handles POST /api/users.
func (h *Handler) Register(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	logger := pkgzerolog.FromContext(ctx)

	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
		return
	}

	span.SetAttributes(attribute.Bool("request.valid", true))

	user, err := h.auth.Register(ctx, req)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Str("username", req.Username).Msg("Registration failed")

		switch {
		case errors.Is(err, logicv1.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
		case errors.Is(err, logicv1.ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	logger.Info().Str("user_id", user.ID).Msg("Registration successful")
	c.JSON(http.StatusCreated, user)
}

// Login handles POST /api/users/login. A missing or malformed body is
// treated like wrong credentials.
func (h *Handler) Login(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	ctx := c.Request.Context()
	logger := pkgzerolog.FromContext(ctx)

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Invalid login request")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	response, err := h.auth.Login(ctx, req)
	if err != nil {
		span.RecordError(err)

		switch {
		case errors.Is(err, logicv1.ErrInvalidCredentials), errors.Is(err, logicv1.ErrUserNotFound):
			// Same response for both so accounts cannot be enumerated.
			logger.Warn().Err(err).Msg("Login failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		default:
			logger.Error().Err(err).Msg("Login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	logger.Info().Str("user_id", response.ID).Msg("Login successful")
	c.JSON(http.StatusOK, response)
}

// GetMe handles GET /api/users/me.
// Authorization: Bearer <token>
func (h *Handler) GetMe(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	token, ok := bearerToken(c)
	if !ok {
		span.SetAttributes(attribute.Bool("auth.present", false))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		return
	}
	span.SetAttributes(attribute.Bool("auth.present", true))

	user, err := h.auth.GetUserByToken(c.Request.Context(), token)
	if err != nil {
		span.RecordError(err)
		writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// Logout handles POST /api/users/logout.
// Authorization: Bearer <token>
func (h *Handler) Logout(c *gin.Context) {
	span := startSpan(c)
	defer span.End()

	token, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		return
	}

	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		span.RecordError(err)
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
