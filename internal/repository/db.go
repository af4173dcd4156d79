package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	_ "modernc.org/sqlite" // embedded sqlite driver
)

// Supported DB_DRIVER values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

func init() {
	// sqlx only knows "sqlite3" out of the box; the modernc driver registers as "sqlite".
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the configured database and applies the connection pool
// settings. SQLite is limited to a single writer connection.
func Open(ctx context.Context, cfg config.DBConfig) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		db, err = sqlx.ConnectContext(ctx, DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("repository.Open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	case DriverSQLite:
		db, err = sqlx.ConnectContext(ctx, DriverSQLite, sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("repository.Open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("repository.Open: unsupported driver %q", cfg.Driver)
	}
	return db, nil
}

func sqliteDSN(p string) string {
	if strings.Contains(p, "?") {
		return p
	}
	return p + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// ──────────────────────────────────────────────────────────────────────────────
// Migrations
// ──────────────────────────────────────────────────────────────────────────────

// Migrate applies the embedded migrations for the connection's dialect, each
// file at most once, in name order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	dir := path.Join("migrations", db.DriverName())
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("repository.Migrate: read %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("repository.Migrate: ensure table: %w", err)
	}

	for _, name := range files {
		var applied int
		if err = db.GetContext(ctx, &applied,
			db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`), name); err != nil {
			return fmt.Errorf("repository.Migrate: check %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		data, err := fs.ReadFile(migrationFS, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("repository.Migrate: read %s: %w", name, err)
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("repository.Migrate: begin %s: %w", name, err)
		}
		if _, err = tx.ExecContext(ctx, upSection(string(data))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("repository.Migrate: exec %s: %w", name, err)
		}
		if _, err = tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`),
			name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("repository.Migrate: record %s: %w", name, err)
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("repository.Migrate: commit %s: %w", name, err)
		}
		slog.Info("migration applied", "file", name, "driver", db.DriverName())
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}
