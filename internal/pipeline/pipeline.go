// Package pipeline runs one upload end to end: batching, schema inference,
// transformation, and loading, plus the stats and schema version the caller
// reports back.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ingest/internal/batch"
	"ingest/internal/load"
	"ingest/internal/metrics"
	"ingest/internal/records"
	"ingest/internal/schema"
	"ingest/internal/storage"
	"ingest/internal/transform"
)

// ErrInputRejected reports an upload with no records to process.
var ErrInputRejected = errors.New("pipeline: no records to process")

// AbortError reports a run that failed mid-way. Stats cover the batches
// that completed before the failure, so callers can log how far the run got.
type AbortError struct {
	Batch int
	Stats Stats
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("pipeline: aborted in batch %d: %v", e.Batch, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// Stats aggregates counters for one upload.
type Stats struct {
	TotalRecords      int            `json:"total_records"`
	TotalFields       int            `json:"total_fields"`
	FieldsByType      map[string]int `json:"fields_by_type"`
	ChangesDetected   int            `json:"changes_detected"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	InsertedRecords   int            `json:"inserted_records"`
}

// Result is everything one successful run produces.
type Result struct {
	Stats   Stats
	Schema  schema.Schema
	Version int64
	Changes []load.Change

	// Sample holds the first transformed records of the last batch, for
	// display alongside the stats.
	Sample []records.Record

	// Message is the human-readable summary line.
	Message string
}

// Runner executes uploads against one repository. Fields left zero fall
// back to defaults, so a Runner with just a Repo is usable in tests.
type Runner struct {
	Repo storage.Repository

	// BatchSize is records per processing batch. Zero means 100.
	BatchSize int

	// IdentityFields configure identity-key derivation, see load.Engine.
	IdentityFields []string

	// SampleSize is how many transformed records Result.Sample keeps.
	// Zero means 5.
	SampleSize int

	// now is a clock seam for deterministic snapshot timestamps in tests.
	now func() time.Time
}

// Run processes recs as one upload: records are chunked, each chunk widens
// the running schema, is normalized against it, and loaded with change
// detection. After the last chunk the final schema and stats are persisted
// as a new schema version.
//
// Schema inference sees each batch before transformation, so observed types
// drive widening, not coerced ones. A failure mid-run returns *AbortError;
// batches loaded before the failure stay persisted.
func (r *Runner) Run(ctx context.Context, recs []records.Record) (*Result, error) {
	if len(recs) == 0 {
		return nil, ErrInputRejected
	}

	size := r.BatchSize
	if size <= 0 {
		size = 100
	}
	sampleSize := r.SampleSize
	if sampleSize <= 0 {
		sampleSize = 5
	}
	now := r.now
	if now == nil {
		now = time.Now
	}

	eng := &load.Engine{Repo: r.Repo, IdentityFields: r.IdentityFields}

	var (
		cur     schema.Schema
		stats   Stats
		changes []load.Change
		sample  []records.Record
		batchNo int
	)
	stats.TotalRecords = len(recs)

	for chunk := range batch.Chunks(recs, size) {
		batchNo++
		cur = schema.Infer(chunk, cur, batchNo)

		transformed := transform.Apply(chunk, cur)

		res, err := eng.Load(ctx, transformed)
		if err != nil {
			stats.fill(cur.Resolved())
			metrics.IncCounter("ingest_uploads_total", 1, metrics.Labels{"status": "failed"})
			return nil, &AbortError{Batch: batchNo, Stats: stats, Err: err}
		}

		stats.InsertedRecords += res.Inserted
		stats.DuplicatesRemoved += res.Duplicates
		stats.ChangesDetected += len(res.Changes)
		changes = append(changes, res.Changes...)

		sample = transformed
		if len(sample) > sampleSize {
			sample = sample[:sampleSize]
		}

		metrics.IncCounter("ingest_batches_total", 1, nil)
		metrics.IncCounter("ingest_records_total", float64(res.Inserted), metrics.Labels{"kind": "inserted"})
		metrics.IncCounter("ingest_records_total", float64(len(res.Changes)), metrics.Labels{"kind": "changed"})
		metrics.IncCounter("ingest_records_total", float64(res.Duplicates), metrics.Labels{"kind": "duplicate"})
	}

	// Fields that never produced a typed value default to string once the
	// upload is complete.
	final := cur.Resolved()

	stats.fill(final)
	for _, desc := range final {
		if desc.Conflict {
			metrics.IncCounter("ingest_schema_conflicts_total", 1, nil)
		}
	}

	version, err := r.saveVersion(ctx, final, stats, now())
	if err != nil {
		metrics.IncCounter("ingest_uploads_total", 1, metrics.Labels{"status": "failed"})
		return nil, err
	}
	metrics.IncCounter("ingest_schema_versions_total", 1, nil)
	metrics.IncCounter("ingest_uploads_total", 1, metrics.Labels{"status": "ok"})

	res := &Result{
		Stats:   stats,
		Schema:  final,
		Version: version,
		Changes: changes,
		Sample:  sample,
	}
	res.Message = summaryMessage(res)

	log.Printf("pipeline: processed %d records in %d batches, schema v%d (%d fields)",
		stats.TotalRecords, batchNo, version, stats.TotalFields)
	return res, nil
}

func (s *Stats) fill(cur schema.Schema) {
	s.TotalFields = len(cur)
	s.FieldsByType = cur.TypeCounts()
}

// saveVersion persists the schema snapshot. Allocation failures already
// carry storage.ErrVersionAllocation, so callers can tell a lost version
// number from a lost connection.
func (r *Runner) saveVersion(ctx context.Context, cur schema.Schema, stats Stats, at time.Time) (int64, error) {
	schemaJSON, err := json.Marshal(cur)
	if err != nil {
		return 0, fmt.Errorf("pipeline: marshal schema: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return 0, fmt.Errorf("pipeline: marshal stats: %w", err)
	}

	version, err := r.Repo.SaveSchemaVersion(ctx, storage.Snapshot{
		Schema:    schemaJSON,
		Stats:     statsJSON,
		CreatedAt: at,
	})
	if err != nil {
		return 0, fmt.Errorf("pipeline: save schema version: %w", err)
	}
	return version, nil
}

// Sanitize deep-copies recs into a form safe for JSON responses: storage
// metadata fields ("_id") are dropped and time values become RFC3339
// strings. Input records are never mutated.
func Sanitize(recs []records.Record) []records.Record {
	if recs == nil {
		return nil
	}
	out := make([]records.Record, len(recs))
	for i, rec := range recs {
		clean := make(records.Record, len(rec))
		for k, v := range rec {
			if k == "_id" {
				continue
			}
			clean[k] = sanitizeValue(v)
		}
		out[i] = clean
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			if k == "_id" {
				continue
			}
			m[k] = sanitizeValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = sanitizeValue(vv)
		}
		return s
	default:
		return v
	}
}

// summaryMessage builds the one-line upload summary shown to the caller.
func summaryMessage(res *Result) string {
	msg := fmt.Sprintf("Processed %d records, inserted %d with %d fields. Schema v%d saved.",
		res.Stats.TotalRecords, res.Stats.InsertedRecords, res.Stats.TotalFields, res.Version)
	if res.Stats.ChangesDetected > 0 {
		msg += fmt.Sprintf(" | %d changes detected", res.Stats.ChangesDetected)
	}
	if res.Stats.DuplicatesRemoved > 0 {
		msg += fmt.Sprintf(" | %d duplicates skipped", res.Stats.DuplicatesRemoved)
	}
	return msg
}
