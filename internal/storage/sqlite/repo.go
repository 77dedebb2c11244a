package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ingest/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points:
//   - Record bodies are canonical JSON stored with TEXT affinity.
//   - Timestamps are stored as RFC3339Nano strings for reliable round-trip
//     behavior with modernc.org/sqlite and easy debugging.
//   - Version allocation is MAX(version)+1 inside a transaction rather than
//     AUTOINCREMENT, because the version contract forbids gaps and sqlite
//     sequences can skip on rollback.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
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

// ensureTables creates the document and version tables. Idempotent, so
// startup is safe against an existing database file.
func (r *Repo) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
  identity TEXT PRIMARY KEY,
  body TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS schema_versions (
  version INTEGER PRIMARY KEY,
  schema TEXT NOT NULL,
  stats TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: ensure tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) Lookup(ctx context.Context, identity string) ([]byte, bool, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE identity = ?`, identity,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup %s: %w", identity, err)
	}
	return []byte(body), true, nil
}

func (r *Repo) Insert(ctx context.Context, identity string, body []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (identity, body, updated_at) VALUES (?, ?, ?)`,
		identity, string(body), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", identity, err)
	}
	return nil
}

func (r *Repo) Replace(ctx context.Context, identity string, body []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE identity = ?`,
		string(body), formatTime(time.Now()), identity,
	)
	if err != nil {
		return fmt.Errorf("sqlite: replace %s: %w", identity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: replace %s: no current document", identity)
	}
	return nil
}

// SaveSchemaVersion allocates the next version number and stores the
// snapshot in one transaction, so concurrent savers serialize on the
// database and numbers are neither reused nor skipped.
func (r *Repo) SaveSchemaVersion(ctx context.Context, snap storage.Snapshot) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrVersionAllocation, err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM schema_versions`,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("%w: allocate: %v", storage.ErrVersionAllocation, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_versions (version, schema, stats, created_at) VALUES (?, ?, ?, ?)`,
		next, string(snap.Schema), string(snap.Stats), formatTime(snap.CreatedAt),
	); err != nil {
		return 0, fmt.Errorf("%w: insert version %d: %v", storage.ErrVersionAllocation, next, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit version %d: %v", storage.ErrVersionAllocation, next, err)
	}
	return next, nil
}

// formatTime formats a time as RFC3339Nano in UTC. We store timestamps as
// TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses timestamps previously written by formatTime, tolerating
// the common SQLite-ish variants other tools produce.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
