// Package config loads service configuration from the environment.
//
// Values are read from process environment variables. When a .env file is
// present in the working directory it is loaded first; variables already set
// in the environment take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the game service.
type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Shutdown  ShutdownConfig
}

type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

type LoggingConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

// DatabaseConfig selects the catalog backend. Driver "postgres" uses a pgx
// pool; driver "memory" keeps everything in process and is meant for local
// development only.
type DatabaseConfig struct {
	Driver         string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConnections int
	Migrate        bool
}

// StorageConfig describes where uploaded builds live and how they are served.
type StorageConfig struct {
	ContentRoot   string
	URLPrefix     string
	PublicBaseURL string
}

// UploadConfig bounds the resources a single upload may consume.
type UploadConfig struct {
	MaxBodyBytes  int64
	MaxEntries    int
	MaxTotalBytes int64
	MaxConcurrent int64
	RequireAuth   bool
}

type AuthConfig struct {
	SessionTTL           string
	SessionPruneInterval string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	// Missing .env is the normal case in containers.
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "game-service"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("ENV", "development"),
			Port:    getEnv("PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 0.1),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040"),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Name:           getEnv("DB_NAME", "games"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConnections: getEnvInt("DB_POOL_MAX_CONNECTIONS", 10),
			Migrate:        getEnvBool("DB_MIGRATE", true),
		},
		Storage: StorageConfig{
			ContentRoot:   getEnv("CONTENT_ROOT", "GameBuilds"),
			URLPrefix:     getEnv("STATIC_URL_PREFIX", "/GameBuilds"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		Upload: UploadConfig{
			MaxBodyBytes:  getEnvInt64("UPLOAD_MAX_BYTES", 500_000_000),
			MaxEntries:    getEnvInt("ARCHIVE_MAX_ENTRIES", 10000),
			MaxTotalBytes: getEnvInt64("ARCHIVE_MAX_TOTAL_BYTES", 1<<30),
			MaxConcurrent: getEnvInt64("INGEST_MAX_CONCURRENT", 4),
			RequireAuth:   getEnvBool("AUTH_REQUIRE_UPLOAD", false),
		},
		Auth: AuthConfig{
			SessionTTL:           getEnv("SESSION_TTL", "24h"),
			SessionPruneInterval: getEnv("SESSION_PRUNE_INTERVAL", "1h"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", "10s"),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "0s"),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	} else if p, err := strconv.Atoi(c.Service.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Service.Port))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q must be one of debug, info, warn, error", c.Logging.Level))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE %v must be within [0, 1]", c.Tracing.SampleRate))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for the postgres driver"))
		}
		if c.Database.MaxConnections <= 0 {
			errs = append(errs, errors.New("DB_POOL_MAX_CONNECTIONS must be positive"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be postgres or memory", c.Database.Driver))
	}

	if c.Storage.ContentRoot == "" {
		errs = append(errs, errors.New("CONTENT_ROOT must not be empty"))
	}
	if !strings.HasPrefix(c.Storage.URLPrefix, "/") || strings.ContainsAny(c.Storage.URLPrefix, ":*") {
		errs = append(errs, fmt.Errorf("STATIC_URL_PREFIX %q must be an absolute path without parameters", c.Storage.URLPrefix))
	}

	if c.Upload.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.Upload.MaxEntries <= 0 {
		errs = append(errs, errors.New("ARCHIVE_MAX_ENTRIES must be positive"))
	}
	if c.Upload.MaxTotalBytes <= 0 {
		errs = append(errs, errors.New("ARCHIVE_MAX_TOTAL_BYTES must be positive"))
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("INGEST_MAX_CONCURRENT must be positive"))
	}

	for key, value := range map[string]string{
		"SESSION_TTL":            c.Auth.SessionTTL,
		"SESSION_PRUNE_INTERVAL": c.Auth.SessionPruneInterval,
		"SHUTDOWN_TIMEOUT":       c.Shutdown.Timeout,
		"READINESS_DRAIN_DELAY":  c.Shutdown.ReadinessDrainDelay,
	} {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s %q is not a valid duration", key, value))
		}
	}

	return errors.Join(errs...)
}

// GetShutdownTimeoutDuration returns the graceful shutdown timeout.
func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.Shutdown.Timeout, 10*time.Second)
}

// GetReadinessDrainDelayDuration returns how long /ready reports 503 before
// the HTTP server stops accepting connections.
func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return parseDuration(c.Shutdown.ReadinessDrainDelay, 0)
}

// GetSessionTTLDuration returns the lifetime of a login session.
func (c *Config) GetSessionTTLDuration() time.Duration {
	return parseDuration(c.Auth.SessionTTL, 24*time.Hour)
}

// GetSessionPruneIntervalDuration returns how often expired sessions are
// deleted. Zero disables pruning.
func (c *Config) GetSessionPruneIntervalDuration() time.Duration {
	return parseDuration(c.Auth.SessionPruneInterval, time.Hour)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(getEnv(key, strconv.FormatInt(fallback, 10)), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64)), 64)
	if err != nil {
		return fallback
	}
	return v
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
