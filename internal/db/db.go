package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/hpungsan/notesync/internal/config"
	"github.com/hpungsan/notesync/internal/errors"
)

// CurrentSchemaVersion is the latest local schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Source reads notes from a relational database.
type Source struct {
	db      *sql.DB
	dialect Dialect
}

// NewSource wraps an open database handle.
func NewSource(db *sql.DB, dialect Dialect) *Source {
	return &Source{db: db, dialect: dialect}
}

// Open connects to the source database for the given driver.
// SQLite sources are initialized (WAL mode, local schema); PostgreSQL sources
// are used as-is and never migrated.
func Open(driver, dsn string) (*Source, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	if dialect == SQLite {
		db, err := Init(dsn)
		if err != nil {
			return nil, errors.NewSourceUnavailable("open sqlite", err)
		}
		return NewSource(db, dialect), nil
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.NewSourceUnavailable("open postgres", err)
	}
	return NewSource(db, dialect), nil
}

// DB returns the underlying handle.
func (s *Source) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the source.
func (s *Source) Dialect() Dialect {
	return s.dialect
}

// Ping verifies connectivity.
func (s *Source) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewSourceUnavailable("ping", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Source) Close() error {
	return s.db.Close()
}

// Init opens (creating if needed) the SQLite database at path and applies the
// local note schema.
func Init(path string) (*sql.DB, error) {
	// Open database with pragmas in connection string (applies to all connections)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxOpenConns)
	}
}

// migrate applies schema migrations based on user_version.
// The schema mirrors the columns Misskey's "note" table exposes to the sync;
// required columns stay nullable so malformed rows can be detected on read.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS "note" (
		  "id"         TEXT PRIMARY KEY,
		  "createdAt"  INTEGER,
		  "userId"     TEXT,
		  "userHost"   TEXT,
		  "channelId"  TEXT,
		  "cw"         TEXT,
		  "text"       TEXT,
		  "tags"       TEXT NOT NULL DEFAULT '[]',
		  "visibility" TEXT NOT NULL DEFAULT 'public',
		  "renoteId"   TEXT
		);

		CREATE INDEX IF NOT EXISTS "idx_note_userHost"
		ON "note"("userHost");
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
