// Package batch splits an ordered record sequence into fixed-size chunks so
// the schema can evolve incrementally while memory stays bounded.
package batch

import (
	"iter"

	"ingest/internal/records"
)

// Chunks returns a lazy, single-pass sequence of non-empty chunks of recs,
// preserving input order. Every chunk has length size except possibly the
// last. Empty input yields zero chunks, not one empty chunk.
//
// The yielded slices alias recs; callers must not retain them past the
// upload they belong to.
//
// Panics if size <= 0: a non-positive batch size is a configuration defect
// that validation should have rejected before data flows.
func Chunks(recs []records.Record, size int) iter.Seq[[]records.Record] {
	if size <= 0 {
		panic("batch: size must be > 0")
	}
	return func(yield func([]records.Record) bool) {
		for start := 0; start < len(recs); start += size {
			end := start + size
			if end > len(recs) {
				end = len(recs)
			}
			if !yield(recs[start:end]) {
				return
			}
		}
	}
}
