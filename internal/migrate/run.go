// Package migrate applies the embedded schema migrations in lexical
// order. Versions are tracked in a schema_migrations table so repeated
// runs only execute what is still missing.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const versionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// Run brings the database schema up to date. Idempotent.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	logger := slog.Default().With("component", "migrations")
	for _, name := range sortedMigrationFiles() {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}
		logger.InfoContext(ctx, "applying migration", "version", version)
		if err := applyOne(ctx, db, logger, version, name); err != nil {
			return err
		}
	}
	return nil
}

func sortedMigrationFiles() []string {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		// The directory is embedded at build time; a read failure here
		// means the binary itself is broken.
		panic(fmt.Sprintf("embedded migrations unreadable: %v", err))
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return applied, nil
}

// applyOne executes a migration file and records its version in the same
// transaction, so a partial apply never marks the version as done.
func applyOne(ctx context.Context, db *sql.DB, logger *slog.Logger, version, name string) error {
	script, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "migration rollback failed", "version", version, "err", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}
