// Package transform normalizes record batches against an inferred schema.
//
// Coercion is deterministic and lossless-when-possible; a value that cannot
// be coerced is retained unchanged rather than dropped. Heterogeneous
// uploads are expected, so coercion failure is a soft condition and never
// aborts a batch.
package transform

import (
	"encoding/json"
	"strconv"
	"time"

	"ingest/internal/records"
	"ingest/internal/schema"
)

// Canonical textual layouts used for coerced dates, so no native time
// objects cross the output boundary.
const (
	dateLayout = "2006-01-02"
)

// Apply coerces every record in the batch to the schema's declared types.
// The result has the same length and order as the input; input records are
// not mutated.
//
// Per record:
//   - every schema-declared field is coerced when present;
//   - absent declared fields are set to records.Missing (distinguishable
//     from an explicit null);
//   - fields not declared in the schema pass through unchanged.
func Apply(batch []records.Record, s schema.Schema) []records.Record {
	out := make([]records.Record, len(batch))
	for i, rec := range batch {
		t := make(records.Record, len(s)+len(rec))

		for name, v := range rec {
			if d, ok := s[name]; ok {
				t[name] = Coerce(v, d.Type)
			} else {
				// Inference runs before transform, so this only happens on
				// an engine defect. Pass through rather than lose data.
				t[name] = v
			}
		}
		for name := range s {
			if _, present := rec[name]; !present {
				t[name] = records.Missing
			}
		}

		out[i] = t
	}
	return out
}

// Coerce converts a single raw value to the target type. On failure it
// returns the value unchanged. Nulls and missing markers are preserved
// as-is; they are not coercible and not failures.
func Coerce(v any, ft schema.FieldType) any {
	if v == nil || records.IsMissing(v) {
		return v
	}

	switch ft {
	case schema.TypeInteger:
		return coerceInteger(v)
	case schema.TypeFloat:
		return coerceFloat(v)
	case schema.TypeBoolean:
		return coerceBoolean(v)
	case schema.TypeDate:
		return coerceDate(v)
	case schema.TypeString:
		return coerceString(v)
	case schema.TypeObject, schema.TypeArray:
		return v
	default:
		// mixed: no single target type to coerce toward
		return v
	}
}

func coerceInteger(v any) any {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		return v
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
		return v
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return v
	default:
		return v
	}
}

func coerceFloat(v any) any {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return v
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
		return v
	default:
		return v
	}
}

func coerceBoolean(v any) any {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, ok := schema.ParseBoolLoose(t); ok {
			return b
		}
		return v
	default:
		return v
	}
}

// coerceDate normalizes date-like values to canonical textual form:
// plain dates as 2006-01-02, timestamps as RFC3339.
func coerceDate(v any) any {
	switch t := v.(type) {
	case string:
		if ts, _, ok := schema.ParseDateLoose(t); ok {
			return ts.Format(dateLayout)
		}
		if ts, _, ok := schema.ParseTimestampLoose(t); ok {
			return ts.UTC().Format(time.RFC3339)
		}
		return v
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func coerceString(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		// objects/arrays under a string descriptor: keep raw
		return v
	}
}
