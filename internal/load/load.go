// Package load writes transformed records to a document repository and
// reports what actually changed.
//
// The engine is idempotent: loading the same batch twice produces the same
// stored state, with the second pass counted entirely as duplicates.
package load

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ingest/internal/identity"
	"ingest/internal/records"
	"ingest/internal/storage"
)

// ErrPersistence marks store failures during a load, as opposed to version
// allocation failures which carry storage.ErrVersionAllocation. Check with
// errors.Is.
var ErrPersistence = errors.New("load: persistence failed")

// Change describes one record whose stored body was replaced.
//
// Before holds the body that was stored prior to this load, After the body
// that replaced it. Both are canonical JSON.
type Change struct {
	Identity string          `json:"identity"`
	Before   json.RawMessage `json:"before"`
	After    json.RawMessage `json:"after"`
}

// Result summarizes a single batch load.
type Result struct {
	Inserted   int
	Duplicates int
	Changes    []Change
}

// Engine loads batches into a repository, detecting changes against the
// currently stored version of each record.
type Engine struct {
	Repo storage.Repository

	// IdentityFields selects which record fields form the identity key.
	// Empty means identity.DefaultFields.
	IdentityFields []string
}

// Load writes batch to the repository in input order.
//
// For each record the engine computes the canonical body and identity key,
// then looks up the stored version:
//   - absent: the record is inserted,
//   - byte-identical body: the record is a duplicate and nothing is written,
//   - different body: the stored body is replaced and the pair is reported
//     as a Change.
//
// Records sharing an identity within the same batch are resolved last-write-
// wins, the same as if they had arrived in separate batches.
func (e *Engine) Load(ctx context.Context, batch []records.Record) (Result, error) {
	fields := e.IdentityFields
	if len(fields) == 0 {
		fields = identity.DefaultFields
	}

	var res Result
	for i, rec := range batch {
		body := records.CanonicalJSON(rec)
		key := identity.Key(rec, fields)

		stored, ok, err := e.Repo.Lookup(ctx, key)
		if err != nil {
			return res, fmt.Errorf("%w: lookup record %d: %w", ErrPersistence, i, err)
		}

		switch {
		case !ok:
			if err := e.Repo.Insert(ctx, key, body); err != nil {
				return res, fmt.Errorf("%w: insert record %d: %w", ErrPersistence, i, err)
			}
			res.Inserted++

		case bytes.Equal(stored, body):
			res.Duplicates++

		default:
			if err := e.Repo.Replace(ctx, key, body); err != nil {
				return res, fmt.Errorf("%w: replace record %d: %w", ErrPersistence, i, err)
			}
			res.Changes = append(res.Changes, Change{
				Identity: key,
				Before:   json.RawMessage(stored),
				After:    json.RawMessage(body),
			})
		}
	}
	return res, nil
}
