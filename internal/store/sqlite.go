package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps sealed records in a local SQLite file. It is the
// default backend when no Postgres URL is configured.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sealed_records (
	session_id TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	ciphertext BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,

	PRIMARY KEY (session_id, kind)
);`

// NewSQLiteBackend opens the database file, creating it and the schema
// when missing.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %v", err)
	}

	// WAL enables one writer + many readers; busy_timeout helps avoid
	// "database is locked" flakiness.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %v", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, session string, kind Kind, sealed []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO sealed_records (session_id, kind, ciphertext, updated_at)
		 VALUES (?, ?, ?, unixepoch())
		 ON CONFLICT (session_id, kind)
		 DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		session, string(kind), sealed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, session string, kind Kind) ([]byte, error) {
	var sealed []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM sealed_records WHERE session_id = ? AND kind = ?`,
		session, string(kind)).Scan(&sealed)

	switch {
	case err == nil:
		return sealed, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, errRecordNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

func (b *SQLiteBackend) Delete(ctx context.Context, session string, kind Kind) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM sealed_records WHERE session_id = ? AND kind = ?`,
		session, string(kind))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Take reads and deletes inside one transaction; the record is observed
// by exactly one caller.
func (b *SQLiteBackend) Take(ctx context.Context, session string, kind Kind) ([]byte, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	var sealed []byte
	err = tx.QueryRowContext(ctx,
		`SELECT ciphertext FROM sealed_records WHERE session_id = ? AND kind = ?`,
		session, string(kind)).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sealed_records WHERE session_id = ? AND kind = ?`,
		session, string(kind)); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return sealed, nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) (Info, error) {
	var version string
	if err := b.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return Info{}, fmt.Errorf("db error: %w", err)
	}
	return Info{Driver: "sqlite", Version: version}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
