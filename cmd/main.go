package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/duynhne/game-service/config"
	"github.com/duynhne/game-service/internal/archive"
	"github.com/duynhne/game-service/internal/build"
	database "github.com/duynhne/game-service/internal/core"
	"github.com/duynhne/game-service/internal/core/domain"
	"github.com/duynhne/game-service/internal/core/repository"
	"github.com/duynhne/game-service/internal/core/repository/memory"
	logicv1 "github.com/duynhne/game-service/internal/logic/v1"
	"github.com/duynhne/game-service/internal/storage"
	v1 "github.com/duynhne/game-service/internal/web/v1"
	"github.com/duynhne/game-service/middleware"
	"github.com/duynhne/game-service/pkg/logger/zerolog"
)

// pruneSessions deletes expired sessions every interval until ctx is done.
func pruneSessions(ctx context.Context, auth *logicv1.AuthService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := auth.PruneSessions(log.Logger.WithContext(ctx)); err != nil {
				log.Warn().Err(err).Msg("Session pruning failed")
			}
		}
	}
}

type repositories struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	games    domain.GameRepository
	close    func()
}

// openRepositories connects the catalog backend selected by DB_DRIVER.
func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory repositories; data is lost on restart")
		users := memory.NewUserRepository()
		return &repositories{
			users:    users,
			sessions: memory.NewSessionRepository(users),
			games:    memory.NewGameRepository(),
			close:    func() {},
		}, nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Name).
		Msg("Database connection pool established")

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Msg("Database schema applied")
	}

	return &repositories{
		users:    repository.NewUserRepository(pool),
		sessions: repository.NewSessionRepository(pool),
		games:    repository.NewGameRepository(pool),
		close:    pool.Close,
	}, nil
}

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	// Initialize Zerolog with LOG_LEVEL from config
	zerolog.Setup(cfg.Logging.Level)
	log.Logger = log.With().Str("service", cfg.Service.Name).Logger()

	log.Info().
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("port", cfg.Service.Port).
		Msg("Service starting")

	// Initialize OpenTelemetry tracing
	var tp interface{ Shutdown(context.Context) error }
	if cfg.Tracing.Enabled {
		provider, err := middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			tp = provider
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().
				Str("endpoint", cfg.Profiling.Endpoint).
				Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	} else {
		log.Info().Msg("Profiling disabled (PROFILING_ENABLED=false)")
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	repos, err := openRepositories(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open repositories")
	}

	store, err := storage.New(cfg.Storage.ContentRoot, cfg.Storage.URLPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare content root")
	}
	log.Info().Str("content_root", store.Root()).Str("url_prefix", store.URLPrefix()).Msg("Content root ready")

	extractor := archive.NewExtractor(archive.Options{
		MaxEntries:   cfg.Upload.MaxEntries,
		MaxTotalSize: cfg.Upload.MaxTotalBytes,
	})

	auth := logicv1.NewAuthService(repos.users, repos.sessions, cfg.GetSessionTTLDuration())
	games := logicv1.NewGameService(repos.games, store, extractor, build.NewNormalizer(), cfg.Upload.MaxConcurrent)
	handler := v1.NewHandler(auth, games, v1.Options{
		PublicBaseURL:  cfg.Storage.PublicBaseURL,
		MaxUploadBytes: cfg.Upload.MaxBodyBytes,
		RequireAuth:    cfg.Upload.RequireAuth,
	})

	if cfg.Service.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	var isShuttingDown atomic.Bool

	r.Use(middleware.TracingMiddleware(cfg.Service.Name))
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.PrometheusMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterRoutes(r.Group("/api"))
	v1.RegisterStatic(r, store.URLPrefix(), store.Root())

	srv := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting game service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if interval := cfg.GetSessionPruneIntervalDuration(); interval > 0 {
		go pruneSessions(ctx, auth, interval)
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	// Fail readiness first and wait for load balancers to notice.
	isShuttingDown.Store(true)
	if drainDelay := cfg.GetReadinessDrainDelayDuration(); drainDelay > 0 {
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay started")
		time.Sleep(drainDelay)
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay completed")
	}

	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")

	// 1. Stop accepting requests and wait for in-flight uploads
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		log.Info().Msg("HTTP server shutdown complete")
	}

	// 2. Close database connections
	repos.close()
	log.Info().Msg("Repositories closed")

	// 3. Flush spans
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown error")
		} else {
			log.Info().Msg("Tracer shutdown complete")
		}
	}

	log.Info().Msg("Graceful shutdown complete")
}
