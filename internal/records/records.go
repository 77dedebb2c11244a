// Package records defines the dynamic record value model shared by the
// upload pipeline.
//
// A Record is one input data item: a mapping from field name to a value of
// the closed dynamic set
//
//	nil, string, bool, json.Number, int64, float64,
//	map[string]any (nested object), []any (sequence), Missing
//
// which is exactly what encoding/json produces when decoding with
// UseNumber, plus the values the transformer writes back (int64/float64
// after coercion, Missing for fields the schema declares but the record
// lacks).
//
// Records are ephemeral: they live for the duration of one upload and are
// never retained by the core outside the persistence boundary.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is a single data item flowing through the pipeline.
type Record map[string]any

// MissingMarker is the portable textual form of Missing. It is what crosses
// the serialization boundary, so downstream consumers can distinguish
// "not provided" from an explicit null.
const MissingMarker = "__missing__"

type missingValue struct{}

// Missing is the explicit marker for a schema-declared field that was absent
// from the source record. It is distinguishable from nil (an explicit null).
var Missing = missingValue{}

// MarshalJSON encodes Missing as its textual marker.
func (missingValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(MissingMarker)
}

func (missingValue) String() string { return MissingMarker }

// IsMissing reports whether v is the explicit missing marker.
func IsMissing(v any) bool {
	_, ok := v.(missingValue)
	return ok
}

// Clone returns a shallow copy of the record. Nested maps and slices are
// shared; callers that mutate nested values must copy them first.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortedFields returns the record's field names in ascending order.
func (r Record) SortedFields() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CanonicalJSON renders a record as deterministic, key-sorted JSON bytes.
//
// Two records are "byte-for-byte equal" in the duplicate/change sense when
// their CanonicalJSON outputs are equal. The encoding is also what the
// storage backends persist as the record body, so equality against stored
// content needs no decode step.
//
// Canonicalization rules:
//   - object keys sorted ascending at every level
//   - numbers rendered via the canonical scalar encoding (json.Number kept
//     verbatim, floats in 'g' format)
//   - Missing encodes as its textual marker
func CanonicalJSON(r Record) []byte {
	var b bytes.Buffer
	writeCanonical(&b, map[string]any(r))
	return b.Bytes()
}

func writeCanonical(b *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case missingValue:
		writeJSONString(b, MissingMarker)
	case map[string]any:
		b.WriteByte('{')
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case Record:
		writeCanonical(b, map[string]any(t))
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	case string:
		writeJSONString(b, t)
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case float64:
		// 'g' keeps integral floats short and round-trips exact values.
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		writeJSONString(b, t.UTC().Format(time.RFC3339Nano))
	default:
		// Unknown dynamic types should not reach here; fall back to a
		// stable-ish textual form rather than failing the upload.
		writeJSONString(b, fmt.Sprint(t))
	}
}

func writeJSONString(b *bytes.Buffer, s string) {
	// encoding/json never fails for plain strings.
	enc, _ := json.Marshal(s)
	b.Write(enc)
}

// AppendCanonical appends a stable scalar rendering of v to b. This is the
// encoding identity hashing is built on: the same value must render the
// same bytes regardless of which parser produced it.
//
// Nested objects and sequences render as their canonical JSON. Missing and
// nil render identically ("null") so filling a missing field marker never
// changes a record's identity.
func AppendCanonical(b *strings.Builder, v any, trimSpace bool) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case missingValue:
		b.WriteString("null")

	case string:
		if trimSpace && hasEdgeSpace(t) {
			t = strings.TrimSpace(t)
		}
		b.WriteString(t)

	case []byte:
		s := string(t)
		if trimSpace && hasEdgeSpace(s) {
			s = strings.TrimSpace(s)
		}
		b.WriteString(s)

	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case json.Number:
		b.WriteString(t.String())

	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))

	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	case map[string]any, []any, Record:
		var buf bytes.Buffer
		writeCanonical(&buf, t)
		b.Write(buf.Bytes())

	default:
		// Fallback: stable-ish representation
		fmt.Fprintf(b, "%v", t)
	}
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}
