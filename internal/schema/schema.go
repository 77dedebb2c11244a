// Package schema implements the field-level schema model and the inference
// engine that evolves it batch by batch.
//
// Design constraints:
//   - Inference is best-effort and must never fail an upload.
//   - The engine keeps no state outside the explicitly passed schema; each
//     call returns a new Schema value derived from the old one plus the
//     batch, so evolution is auditable and trivially testable.
//   - A field's type is only ever widened (integer→float, anything→mixed),
//     never narrowed.
package schema

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"ingest/internal/records"
)

// FieldType is the closed set of semantic types a field can carry.
type FieldType string

const (
	// TypeUnknown marks a field observed only as null or missing. It is an
	// internal state: Resolved replaces it with string before the schema
	// leaves the engine.
	TypeUnknown FieldType = ""

	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeMixed   FieldType = "mixed"
)

// FieldDescriptor records what has been learned about one field.
type FieldDescriptor struct {
	Type FieldType `json:"type"`

	// FirstSeenBatch is the 1-based batch number in which the field first
	// appeared within the current upload.
	FirstSeenBatch int `json:"first_seen_batch"`

	// Conflict is set when incompatible types were observed for the field.
	// It is sticky: once set it never clears.
	Conflict bool `json:"conflict"`
}

// Schema maps field name to descriptor. It lives for the duration of one
// upload and is snapshotted by the versioning store at the end.
type Schema map[string]FieldDescriptor

// Clone returns an independent copy of the schema.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SortedFields returns the schema's field names in ascending order, for
// deterministic rendering.
func (s Schema) SortedFields() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolved returns a copy of the schema with every unknown field typed as
// string. Call it before exposing or persisting a schema.
func (s Schema) Resolved() Schema {
	out := s.Clone()
	for name, d := range out {
		if d.Type == TypeUnknown {
			d.Type = TypeString
			out[name] = d
		}
	}
	return out
}

// TypeCounts returns the number of fields per type, keyed by the type's
// textual name. Used for the per-upload stats histogram.
func (s Schema) TypeCounts() map[string]int {
	out := make(map[string]int, 8)
	for _, d := range s {
		out[string(d.Type)]++
	}
	return out
}

// Infer returns an updated schema covering every field observed in the
// batch. current is never mutated. batchNo is the 1-based batch number,
// recorded for fields seen for the first time.
//
// Rules:
//   - A new field gets the observed type and conflict=false.
//   - A matching observation leaves the descriptor unchanged.
//   - integer and float are compatible; the field widens to float.
//   - Any other mismatch widens the type to mixed and sets the sticky
//     conflict flag.
//   - Null and missing values establish nothing and invalidate nothing; a
//     field seen only as nulls stays unknown until a typed value arrives.
//   - A field absent from a record is not evidence against its type.
func Infer(batch []records.Record, current Schema, batchNo int) Schema {
	out := current.Clone()
	if out == nil {
		out = Schema{}
	}

	for _, rec := range batch {
		for name, v := range rec {
			obs, ok := observedType(v)
			if !ok {
				// Type-agnostic value (null / missing). Still register the
				// field so it participates in transforms and stats.
				if _, exists := out[name]; !exists {
					out[name] = FieldDescriptor{Type: TypeUnknown, FirstSeenBatch: batchNo}
				}
				continue
			}

			d, exists := out[name]
			if !exists {
				out[name] = FieldDescriptor{Type: obs, FirstSeenBatch: batchNo}
				continue
			}

			switch {
			case d.Type == obs:
				// unchanged
			case d.Type == TypeUnknown:
				// First typed observation of a previously null-only field.
				d.Type = obs
				out[name] = d
			case d.Type == TypeMixed:
				// already widened; conflict stays set
			case numericPair(d.Type, obs):
				d.Type = TypeFloat
				out[name] = d
			default:
				d.Type = TypeMixed
				d.Conflict = true
				out[name] = d
			}
		}
	}

	return out
}

func numericPair(a, b FieldType) bool {
	return (a == TypeInteger && b == TypeFloat) || (a == TypeFloat && b == TypeInteger)
}

// observedType maps a dynamic value to its semantic type. The second return
// is false for values that carry no type evidence (null, missing).
func observedType(v any) (FieldType, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		if _, _, ok := ParseDateLoose(t); ok {
			return TypeDate, true
		}
		if _, _, ok := ParseTimestampLoose(t); ok {
			return TypeDate, true
		}
		return TypeString, true
	case bool:
		return TypeBoolean, true
	case json.Number:
		if isIntegral(t) {
			return TypeInteger, true
		}
		return TypeFloat, true
	case int, int64:
		return TypeInteger, true
	case float64, float32:
		return TypeFloat, true
	case map[string]any, records.Record:
		return TypeObject, true
	case []any:
		return TypeArray, true
	default:
		if records.IsMissing(v) {
			return "", false
		}
		// Unknown dynamic type: treat as string evidence rather than
		// failing inference.
		return TypeString, true
	}
}

func isIntegral(n json.Number) bool {
	s := n.String()
	return !strings.ContainsAny(s, ".eE")
}

// ----------------------------------------------------------------------------
// Loose value parsing (shared with the transformer's coercion rules)
// ----------------------------------------------------------------------------

// ParseBoolLoose parses common truthy/falsy encodings. It is
// case-insensitive and whitespace-tolerant.
func ParseBoolLoose(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"02.01.2006 15:04:05",
}

// ParseDateLoose tries the known date layouts and returns the parsed time,
// the matching layout, and whether parsing succeeded.
func ParseDateLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}

// ParseTimestampLoose tries the known timestamp layouts.
func ParseTimestampLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}
