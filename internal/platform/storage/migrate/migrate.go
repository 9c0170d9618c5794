// Package migrate applies embedded goose migrations to SQLite and Postgres
// stores.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
)

// Dialects supported by the stores.
const (
	SQLite   = goose.DialectSQLite3
	Postgres = goose.DialectPostgres
)

// Up applies every pending migration found under root in migrationFS and
// returns the resulting schema version. Applied migrations are skipped, so
// calling Up on an up to date database is a no-op.
func Up(ctx context.Context, sqlDB *sql.DB, dialect goose.Dialect, migrationFS fs.FS, root string) (int64, error) {
	if sqlDB == nil {
		return 0, fmt.Errorf("sql db is required")
	}
	root = strings.TrimSpace(root)
	if root != "" && root != "." {
		sub, err := fs.Sub(migrationFS, root)
		if err != nil {
			return 0, fmt.Errorf("read migrations dir: %w", err)
		}
		migrationFS = sub
	}

	provider, err := goose.NewProvider(dialect, sqlDB, migrationFS)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
