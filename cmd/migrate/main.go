package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-relay/internal/config"
	"github.com/dvloznov/statement-relay/internal/infra/postgres"
	"github.com/dvloznov/statement-relay/internal/logger"
)

// runner applies migrations to one backend.
type runner interface {
	EnsureSchemaMigrationsTable(ctx context.Context) error
	AppliedMigrations(ctx context.Context) ([]AppliedMigration, error)
	Apply(ctx context.Context, m Migration) error
	Close() error
}

var (
	backend       = flag.String("backend", "", "Ledger backend to migrate: postgres or bigquery (default LEDGER_BACKEND)")
	projectID     = flag.String("project", "", "GCP project ID (default BQ_PROJECT)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (default BQ_DATASET)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "migrations", "Path to migrations root; the backend name is appended")
)

func main() {
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *backend == "" {
		*backend = cfg.LedgerBackend
	}
	if *projectID == "" {
		*projectID = cfg.BigQuery.Project
	}
	if *datasetID == "" {
		*datasetID = cfg.BigQuery.Dataset
	}

	r, err := openRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.EnsureSchemaMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	dir, err := resolveDir(filepath.Join(*migrationsDir, *backend))
	if err != nil {
		return err
	}

	migrations, skipped, err := readMigrations(dir, map[string]string{
		"PROJECT_ID": *projectID,
		"DATASET_ID": *datasetID,
	})
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, name := range skipped {
		log.Warn().Str("file", name).Msg("Skipping file with invalid format")
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	applied, err := r.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	todo, err := pending(migrations, applied)
	if err != nil {
		return err
	}

	for _, m := range todo {
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		if err := r.Apply(ctx, m); err != nil {
			return fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
	}

	if len(todo) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", len(todo)).Msg("Migrations applied")
	}
	return nil
}

func openRunner(ctx context.Context, cfg *config.Config) (runner, error) {
	switch *backend {
	case config.LedgerPostgres:
		pool, err := postgres.ConnectDB(ctx, postgres.ConnConfig{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			Database: cfg.DB.Name,
			SSLMode:  cfg.DB.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		return &postgresRunner{pool: pool, appliedBy: *appliedBy}, nil

	case config.LedgerBigQuery:
		if *projectID == "" {
			return nil, fmt.Errorf("-project or BQ_PROJECT is required for bigquery")
		}
		client, err := bigquery.NewClient(ctx, *projectID)
		if err != nil {
			return nil, fmt.Errorf("create BigQuery client: %w", err)
		}
		return &bigqueryRunner{client: client, projectID: *projectID, datasetID: *datasetID, appliedBy: *appliedBy}, nil
	}
	return nil, fmt.Errorf("unsupported backend %q", *backend)
}

// resolveDir accepts dir relative to the working directory or, when run
// from cmd/migrate, to the repository root.
func resolveDir(dir string) (string, error) {
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	alt := filepath.Join("..", "..", dir)
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}
