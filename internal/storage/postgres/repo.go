package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/storage"
)

// Repo implements storage.Repository for Postgres.
//
// Record bodies are stored as TEXT, not jsonb: change detection compares
// the exact canonical bytes, and jsonb re-serializes on output (key order,
// whitespace) so it cannot round-trip them. Schema snapshots are never
// compared byte-wise, so they use jsonb and stay queryable. Version
// allocation runs inside a transaction so concurrent savers serialize and
// numbers are dense.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New connects a pgx pool and prepares the backing tables.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	r := &Repo{pool: pool}
	if err := r.ensureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
  identity TEXT PRIMARY KEY,
  body TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE TABLE IF NOT EXISTS schema_versions (
  version BIGINT PRIMARY KEY,
  schema JSONB NOT NULL,
  stats JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: ensure tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) Lookup(ctx context.Context, identity string) ([]byte, bool, error) {
	var body string
	err := r.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE identity = $1`, identity,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: lookup %s: %w", identity, err)
	}
	return []byte(body), true, nil
}

func (r *Repo) Insert(ctx context.Context, identity string, body []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO documents (identity, body, updated_at) VALUES ($1, $2, now())`,
		identity, string(body),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", identity, err)
	}
	return nil
}

func (r *Repo) Replace(ctx context.Context, identity string, body []byte) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE documents SET body = $1, updated_at = now() WHERE identity = $2`,
		string(body), identity,
	)
	if err != nil {
		return fmt.Errorf("postgres: replace %s: %w", identity, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("postgres: replace %s: no current document", identity)
	}
	return nil
}

// SaveSchemaVersion allocates MAX(version)+1 and inserts the snapshot in one
// transaction. MAX+1 instead of a sequence because sequences skip numbers on
// rollback, and the version contract requires a dense history.
func (r *Repo) SaveSchemaVersion(ctx context.Context, snap storage.Snapshot) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrVersionAllocation, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM schema_versions`,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("%w: allocate: %v", storage.ErrVersionAllocation, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_versions (version, schema, stats, created_at) VALUES ($1, $2, $3, $4)`,
		next, string(snap.Schema), string(snap.Stats), snap.CreatedAt.UTC(),
	); err != nil {
		return 0, fmt.Errorf("%w: insert version %d: %v", storage.ErrVersionAllocation, next, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit version %d: %v", storage.ErrVersionAllocation, next, err)
	}
	return next, nil
}
