package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"ingest/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Bodies are NVARCHAR(MAX) so the stored bytes round-trip exactly for
// change detection. Table creation is guarded with OBJECT_ID checks, the
// SQL Server equivalent of CREATE TABLE IF NOT EXISTS, and is idempotent.
// IDENTITY and SCHEMA are reserved words in T-SQL; those columns stay
// bracketed in every statement.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a SQL Server connection, validates it with a ping, and prepares
// the backing tables.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty ingestion loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Repo{db: db}
	if err := r.ensureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

const (
	createDocumentsStmt = `IF OBJECT_ID(N'documents', N'U') IS NULL BEGIN CREATE TABLE documents (
  [identity] NVARCHAR(450) NOT NULL PRIMARY KEY,
  body NVARCHAR(MAX) NOT NULL,
  updated_at DATETIME2 NOT NULL
); END;`

	createVersionsStmt = `IF OBJECT_ID(N'schema_versions', N'U') IS NULL BEGIN CREATE TABLE schema_versions (
  version BIGINT NOT NULL PRIMARY KEY,
  [schema] NVARCHAR(MAX) NOT NULL,
  stats NVARCHAR(MAX) NOT NULL,
  created_at DATETIME2 NOT NULL
); END;`

	lookupStmt  = `SELECT body FROM documents WHERE [identity] = @p1`
	insertStmt  = `INSERT INTO documents ([identity], body, updated_at) VALUES (@p1, @p2, SYSUTCDATETIME())`
	replaceStmt = `UPDATE documents SET body = @p1, updated_at = SYSUTCDATETIME() WHERE [identity] = @p2`

	allocateVersionStmt = `SELECT COALESCE(MAX(version), 0) + 1 FROM schema_versions WITH (UPDLOCK, HOLDLOCK)`
	insertVersionStmt   = `INSERT INTO schema_versions (version, [schema], stats, created_at) VALUES (@p1, @p2, @p3, @p4)`
)

func (r *Repo) ensureTables(ctx context.Context) error {
	for _, q := range []string{createDocumentsStmt, createVersionsStmt} {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: ensure tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) Lookup(ctx context.Context, identity string) ([]byte, bool, error) {
	var body string
	err := r.db.QueryRowContext(ctx, lookupStmt, identity).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mssql: lookup %s: %w", identity, err)
	}
	return []byte(body), true, nil
}

func (r *Repo) Insert(ctx context.Context, identity string, body []byte) error {
	_, err := r.db.ExecContext(ctx, insertStmt, identity, string(body))
	if err != nil {
		return fmt.Errorf("mssql: insert %s: %w", identity, err)
	}
	return nil
}

func (r *Repo) Replace(ctx context.Context, identity string, body []byte) error {
	res, err := r.db.ExecContext(ctx, replaceStmt, string(body), identity)
	if err != nil {
		return fmt.Errorf("mssql: replace %s: %w", identity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mssql: replace %s: no current document", identity)
	}
	return nil
}

// SaveSchemaVersion allocates MAX(version)+1 under UPDLOCK so concurrent
// savers for the table serialize without table-wide locks, then inserts the
// snapshot in the same transaction.
func (r *Repo) SaveSchemaVersion(ctx context.Context, snap storage.Snapshot) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrVersionAllocation, err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, allocateVersionStmt).Scan(&next); err != nil {
		return 0, fmt.Errorf("%w: allocate: %v", storage.ErrVersionAllocation, err)
	}

	if _, err := tx.ExecContext(ctx, insertVersionStmt,
		next, string(snap.Schema), string(snap.Stats), snap.CreatedAt.UTC(),
	); err != nil {
		return 0, fmt.Errorf("%w: insert version %d: %v", storage.ErrVersionAllocation, next, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit version %d: %v", storage.ErrVersionAllocation, next, err)
	}
	return next, nil
}
