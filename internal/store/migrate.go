package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"
)

// ApplyMigrations runs every *.up.sql file in lexical order that is not yet
// recorded in schema_migrations. Each file runs in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string, opts ...MigrateOption) error {
	cfg := migrateConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	dir := os.DirFS(migrationsDir)
	if _, err := fs.Stat(dir, "."); err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	pending, err := fs.Glob(dir, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations in %s: %w", migrationsDir, err)
	}
	sort.Strings(pending)

	ran := 0
	for _, version := range pending {
		if applied[version] {
			continue
		}
		script, err := fs.ReadFile(dir, version)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if err := runMigration(ctx, db, version, string(script)); err != nil {
			return err
		}
		ran++
		cfg.logger.Info("applied migration", zap.String("version", version))
	}
	cfg.logger.Debug("migrations up to date",
		zap.Int("applied_now", ran),
		zap.Int("total", len(pending)))
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, version, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

type migrateConfig struct {
	logger *zap.Logger
}

type MigrateOption func(*migrateConfig)

func WithMigrationLogger(logger *zap.Logger) MigrateOption {
	return func(c *migrateConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
