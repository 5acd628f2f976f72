// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Storage providers supported by the upload gateway.
const (
	ProviderCloudinary = "cloudinary"
	ProviderS3         = "s3"
)

// Static errors for configuration validation.
var (
	// ErrAuthJWTSecretRequired is returned when AUTH_JWT_SECRET is not set.
	ErrAuthJWTSecretRequired = errors.New("config: AUTH_JWT_SECRET is required")
	// ErrUnknownStorageProvider is returned when STORAGE_PROVIDER is not a known provider.
	ErrUnknownStorageProvider = errors.New("config: STORAGE_PROVIDER must be cloudinary or s3")
)

// Credential is a single named storage credential. Name is the environment
// variable it was read from.
type Credential struct {
	Name  string
	Value string
}

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES, default=104857600" json:"max_body_bytes"`
	// MultipartMemoryBytes is the part of a multipart body kept in memory before
	// spilling file parts to disk.
	MultipartMemoryBytes int64 `env:"MULTIPART_MEMORY_BYTES, default=33554432" json:"multipart_memory_bytes"`

	// Identity settings
	AuthJWTSecret string `env:"AUTH_JWT_SECRET, required" json:"-"` // Masked in JSON

	// Remote storage settings. Credentials are optional at load time: the
	// upload pipeline reports them missing per request.
	StorageProvider     string `env:"STORAGE_PROVIDER, default=cloudinary" json:"storage_provider"`
	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME" json:"-"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY" json:"-"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET" json:"-"`
	CloudinaryBaseURL   string `env:"CLOUDINARY_BASE_URL, default=https://api.cloudinary.com/v1_1" json:"cloudinary_base_url"`

	S3Bucket           string `env:"S3_BUCKET" json:"-"`
	S3Region           string `env:"S3_REGION, default=us-east-1" json:"s3_region"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	// FFprobePath measures video duration on S3, which does not report it.
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Pipeline settings
	UploadTimeout  time.Duration `env:"UPLOAD_TIMEOUT, default=5m" json:"upload_timeout"`
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT, default=30s" json:"persist_timeout"`

	// Database settings. An empty DATABASE_URL selects the in-memory store.
	DatabaseURL      string `env:"DATABASE_URL" json:"-"`
	DBMaxConns       int32  `env:"DB_MAX_CONNS, default=10" json:"db_max_conns"`
	DBMigrateOnStart bool   `env:"DB_MIGRATE_ON_START, default=true" json:"db_migrate_on_start"`

	// Orphan reconciliation. An empty schedule disables the sweep.
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE" json:"reconcile_schedule,omitempty"`
	ReconcileGrace    time.Duration `env:"RECONCILE_GRACE, default=1h" json:"reconcile_grace"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// DatabaseEnabled returns true if a PostgreSQL connection string is provided.
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseURL != ""
}

// ReconcileEnabled returns true if the orphan sweep has a schedule.
func (c *Config) ReconcileEnabled() bool {
	return strings.TrimSpace(c.ReconcileSchedule) != ""
}

// StorageCredentials returns the three credentials the configured provider
// needs, in a stable order. Empty values are returned as-is.
func (c *Config) StorageCredentials() []Credential {
	if strings.ToLower(c.StorageProvider) == ProviderS3 {
		return []Credential{
			{Name: "S3_BUCKET", Value: c.S3Bucket},
			{Name: "AWS_ACCESS_KEY_ID", Value: c.AWSAccessKeyID},
			{Name: "AWS_SECRET_ACCESS_KEY", Value: c.AWSSecretAccessKey},
		}
	}
	return []Credential{
		{Name: "CLOUDINARY_CLOUD_NAME", Value: c.CloudinaryCloudName},
		{Name: "CLOUDINARY_API_KEY", Value: c.CloudinaryAPIKey},
		{Name: "CLOUDINARY_API_SECRET", Value: c.CloudinaryAPISecret},
	}
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
			return nil, ErrAuthJWTSecretRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.AuthJWTSecret == "" {
		return ErrAuthJWTSecretRequired
	}
	switch strings.ToLower(c.StorageProvider) {
	case ProviderCloudinary, ProviderS3:
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownStorageProvider, c.StorageProvider)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, StorageProvider: %s, S3Region: %s, DatabaseEnabled: %t, UploadTimeout: %s, ReconcileSchedule: %q, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.StorageProvider,
		c.S3Region,
		c.DatabaseEnabled(),
		c.UploadTimeout,
		c.ReconcileSchedule,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
