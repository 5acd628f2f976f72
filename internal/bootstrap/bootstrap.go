// Package bootstrap provides dependency initialization for the media ingest API.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	schema "github.com/maauso/media-ingest-api/db"
	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/config"
	"github.com/maauso/media-ingest-api/internal/db"
	"github.com/maauso/media-ingest-api/internal/identity"
	"github.com/maauso/media-ingest-api/internal/ingest"
	"github.com/maauso/media-ingest-api/internal/media"
	"github.com/maauso/media-ingest-api/internal/metrics"
	"github.com/maauso/media-ingest-api/internal/reconcile"
	"github.com/maauso/media-ingest-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	IngestService *ingest.Service
	// Sweeper is nil when no reconcile schedule is configured.
	Sweeper *reconcile.Sweeper
	// Metrics serves the Prometheus registry.
	Metrics http.Handler

	closers []func()
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.NewPrometheusObserver(metrics.DefaultNamespace, reg)
	if err != nil {
		return nil, fmt.Errorf("create metrics observer: %w", err)
	}
	deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// Initialize remote storage
	uploader, err := initUploader(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize asset store and orphan ledger
	store, ledger, err := initStore(ctx, cfg, logger, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}

	// Initialize identity
	resolver, err := identity.NewJWTResolver(cfg.AuthJWTSecret)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create identity resolver: %w", err)
	}

	orphans := ingest.NewOrphanFlagger(ledger, observer, logger)
	gateway := storage.NewGateway(uploader, logger,
		storage.WithTimeout(cfg.UploadTimeout),
		storage.WithAbandonHandler(orphans.Abandoned),
	)

	deps.IngestService = ingest.NewService(
		ingest.NewGuard(cfg.StorageCredentials()),
		ingest.NewRequestValidator(resolver, cfg.MultipartMemoryBytes),
		gateway,
		store,
		logger,
		ingest.WithObserver(observer),
		ingest.WithOrphanFlagger(orphans),
		ingest.WithPersistTimeout(cfg.PersistTimeout),
	)

	if cfg.ReconcileEnabled() {
		deps.Sweeper = reconcile.NewSweeper(ledger, uploader, logger,
			reconcile.WithGrace(cfg.ReconcileGrace),
			reconcile.WithObserver(observer),
		)
	}

	return deps, nil
}

// initUploader creates the remote storage client for the configured provider.
// Missing credentials are not an error here; the config guard rejects
// requests until they are set.
func initUploader(cfg *config.Config, logger *slog.Logger) (storage.Uploader, error) {
	if strings.ToLower(cfg.StorageProvider) == config.ProviderS3 {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		probe := media.NewFFprobe(cfg.FFprobePath)
		if probe.Available() {
			s3Cfg.Prober = probe
		} else {
			logger.Warn("ffprobe not found, S3 video durations will be empty",
				slog.String("ffprobe_path", cfg.FFprobePath),
			)
		}
		uploader, err := storage.NewS3Uploader(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 uploader: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("region", cfg.S3Region),
			slog.Bool("credentials_set", credentialsSet(cfg)),
		)
		return uploader, nil
	}

	uploader := storage.NewCloudinaryClient(
		cfg.CloudinaryCloudName,
		cfg.CloudinaryAPIKey,
		cfg.CloudinaryAPISecret,
		storage.WithCloudinaryBaseURL(cfg.CloudinaryBaseURL),
	)
	logger.Info("Cloudinary storage configured",
		slog.Bool("credentials_set", credentialsSet(cfg)),
	)
	return uploader, nil
}

// credentialsSet reports whether every storage credential has a value.
// Credential values themselves are never logged.
func credentialsSet(cfg *config.Config) bool {
	for _, c := range cfg.StorageCredentials() {
		if strings.TrimSpace(c.Value) == "" {
			return false
		}
	}
	return true
}

// initStore opens PostgreSQL when DATABASE_URL is set and falls back to the
// in-memory store otherwise.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (asset.Store, asset.OrphanLedger, error) {
	if !cfg.DatabaseEnabled() {
		logger.Warn("DATABASE_URL not set, using in-memory asset store")
		mem := asset.NewMemoryStore()
		return mem, mem, nil
	}

	if cfg.DBMigrateOnStart {
		migrations, err := fs.Sub(schema.MigrationsFS, "migrations")
		if err != nil {
			return nil, nil, fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrate(logger, cfg.DatabaseURL, migrations, "up", nil); err != nil {
			return nil, nil, err
		}
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	deps.closers = append(deps.closers, pool.Close)

	logger.Info("PostgreSQL asset store configured",
		slog.Int("max_conns", int(cfg.DBMaxConns)),
	)
	store := db.NewStore(pool)
	return store, store, nil
}
