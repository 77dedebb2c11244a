// Package storage defines the document-store contract the pipeline loads
// into, plus the backend factory registry.
//
// The pipeline treats storage as an opaque document store: one current body
// per identity key, plus an append-only sequence of schema version
// snapshots. Backends implement these semantics in their own idiomatic way
// (SQL tables with transactional version allocation, Mongo counters, etc).
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to construct a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ErrVersionAllocation marks failures to allocate a schema version number.
// It is distinct from ordinary persistence failures: when it is returned
// the upload's data is already persisted but unversioned, and operators
// need to reconcile. Check with errors.Is.
var ErrVersionAllocation = errors.New("storage: schema version allocation failed")

// Snapshot is one immutable schema version: the schema and run statistics
// as opaque JSON documents, plus the creation timestamp. The store assigns
// the version number.
type Snapshot struct {
	Schema    []byte
	Stats     []byte
	CreatedAt time.Time
}

// Repository is the backend-agnostic document store interface.
//
// IMPORTANT: This interface is intentionally minimal and focused on what
// the load and versioning engines need. Record bodies are canonical JSON
// bytes; equality checks happen above this interface, so backends never
// interpret bodies.
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// Lookup returns the current body stored under the identity key, and
	// whether one exists.
	Lookup(ctx context.Context, identity string) ([]byte, bool, error)

	// Insert stores a body under a new identity key. Inserting an identity
	// that already exists is a caller defect; backends may reject it or
	// overwrite, callers must Lookup first.
	Insert(ctx context.Context, identity string, body []byte) error

	// Replace overwrites the current body for an existing identity.
	// There is exactly one current version per identity.
	Replace(ctx context.Context, identity string, body []byte) error

	// SaveSchemaVersion stores an immutable snapshot and returns the
	// assigned version number: monotonically increasing from 1 across the
	// whole persisted history, never reused, never skipped. Allocation
	// failures are wrapped with ErrVersionAllocation.
	SaveSchemaVersion(ctx context.Context, snap Snapshot) (int64, error)
}

// ---- factories (one per backend kind, registered from init) ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	facMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering
// the same kind more than once panics; this is intentional to fail fast
// and avoid ambiguous backend selection.
func Register(kind string, f factory) {
	facMu.Lock()
	defer facMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	facMu.RLock()
	f := factories[cfg.Kind]
	facMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds (unordered). Used by config
// validation to produce a helpful message.
func Kinds() []string {
	facMu.RLock()
	defer facMu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
