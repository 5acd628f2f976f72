// Package main provides the schema migration command for the media ingest API.
//
// Usage:
//
//	migrate up|down|version|force N
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/sethvargo/go-envconfig"

	schema "github.com/maauso/media-ingest-api/db"
	"github.com/maauso/media-ingest-api/internal/config"
	"github.com/maauso/media-ingest-api/internal/db"
)

type migrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL, required"`
	LogFormat   string `env:"LOG_FORMAT, default=text"`
	LogLevel    string `env:"LOG_LEVEL, default=info"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate up|down|version|force N")
	}

	var mc migrateConfig
	if err := envconfig.Process(context.Background(), &mc); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := (&config.Config{LogFormat: mc.LogFormat, LogLevel: mc.LogLevel}).NewLogger()

	migrations, err := fs.Sub(schema.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	return db.RunMigrate(logger, mc.DatabaseURL, migrations, args[0], args[1:])
}
