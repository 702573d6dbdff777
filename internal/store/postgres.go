package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresBackend keeps sealed records in a Postgres table. It is chosen
// when the database URL carries a postgres scheme.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// migrate applies the embedded migrations.
// dsn: database source name in format postgres://...
func migratePostgres(dsn string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	migrator, err := migrate.NewWithSourceInstance(
		"iofs",
		source,
		strings.NewReplacer(
			"postgres://", "pgx5://", // golang-migrate expects dsn in format 'pgx5://...' only
			"postgresql://", "pgx5://",
		).Replace(dsn),
	)
	if err != nil {
		return fmt.Errorf("error while preparing migrator: %w", err)
	}

	err = migrator.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error while applying migrations: %w", err)
	}

	return nil
}

// NewPostgresBackend migrates the schema and opens a connection pool.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	if err := migratePostgres(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cant initialize connection pool: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

const putRecord = `-- name: Upsert sealed record, last writer wins
INSERT INTO sealed_records (session_id, kind, ciphertext, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id, kind)
DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = EXCLUDED.updated_at`

func (b *PostgresBackend) Put(ctx context.Context, session string, kind Kind, sealed []byte) error {
	_, err := b.pool.Exec(ctx, putRecord, session, string(kind), sealed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getRecord = `-- name: Get sealed record
SELECT ciphertext FROM sealed_records
WHERE session_id = $1 AND kind = $2`

func (b *PostgresBackend) Get(ctx context.Context, session string, kind Kind) ([]byte, error) {
	rows, _ := b.pool.Query(ctx, getRecord, session, string(kind))
	sealed, err := pgx.CollectOneRow(rows, pgx.RowTo[[]byte])

	switch {
	case err == nil:
		return sealed, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errRecordNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

const deleteRecord = `-- name: Delete sealed record
DELETE FROM sealed_records
WHERE session_id = $1 AND kind = $2`

func (b *PostgresBackend) Delete(ctx context.Context, session string, kind Kind) error {
	_, err := b.pool.Exec(ctx, deleteRecord, session, string(kind))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const takeRecord = `-- name: Consume sealed record in one statement
DELETE FROM sealed_records
WHERE session_id = $1 AND kind = $2
RETURNING ciphertext`

func (b *PostgresBackend) Take(ctx context.Context, session string, kind Kind) ([]byte, error) {
	rows, _ := b.pool.Query(ctx, takeRecord, session, string(kind))
	sealed, err := pgx.CollectOneRow(rows, pgx.RowTo[[]byte])

	switch {
	case err == nil:
		return sealed, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errRecordNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

func (b *PostgresBackend) Ping(ctx context.Context) (Info, error) {
	var version string
	if err := b.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return Info{}, fmt.Errorf("db error: %w", err)
	}
	return Info{Driver: "pgx", Version: version}, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
