package transform

import (
	"encoding/json"
	"testing"

	"ingest/internal/records"
	"ingest/internal/schema"
)

//
// Coerce
//

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		ft   schema.FieldType
		want any
	}{
		{"numeric string to integer", "42", schema.TypeInteger, int64(42)},
		{"json number to integer", json.Number("42"), schema.TypeInteger, int64(42)},
		{"integral float to integer", float64(7), schema.TypeInteger, int64(7)},
		{"fractional float stays raw", float64(7.5), schema.TypeInteger, float64(7.5)},
		{"unparseable integer stays raw", "unknown", schema.TypeInteger, "unknown"},

		{"string to float", "2.5", schema.TypeFloat, float64(2.5)},
		{"integer widens to float", int64(3), schema.TypeFloat, float64(3)},
		{"json number to float", json.Number("1e3"), schema.TypeFloat, float64(1000)},

		{"truthy string to bool", "yes", schema.TypeBoolean, true},
		{"falsy string to bool", "0", schema.TypeBoolean, false},
		{"ambiguous bool stays raw", "maybe", schema.TypeBoolean, "maybe"},

		{"iso date normalized", "2024-01-15", schema.TypeDate, "2024-01-15"},
		{"dotted date normalized", "15.01.2024", schema.TypeDate, "2024-01-15"},
		{"timestamp to rfc3339", "2024-01-15T10:30:00Z", schema.TypeDate, "2024-01-15T10:30:00Z"},
		{"non-date stays raw", "soon", schema.TypeDate, "soon"},

		{"number to string", json.Number("30"), schema.TypeString, "30"},
		{"bool to string", true, schema.TypeString, "true"},

		{"mixed keeps raw", "x", schema.TypeMixed, "x"},
		{"null preserved", nil, schema.TypeInteger, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Coerce(tt.in, tt.ft)
			if got != tt.want {
				t.Fatalf("Coerce(%v, %s) = %#v, want %#v", tt.in, tt.ft, got, tt.want)
			}
		})
	}
}

func TestCoerceMissingPreserved(t *testing.T) {
	t.Parallel()

	if got := Coerce(records.Missing, schema.TypeInteger); !records.IsMissing(got) {
		t.Fatalf("Coerce consumed the missing marker: %#v", got)
	}
}

//
// Apply
//

// TestApplyMissingVersusNull verifies the core missing-field contract: a
// declared field absent from the record becomes the explicit missing
// marker, while an explicit null stays null.
func TestApplyMissingVersusNull(t *testing.T) {
	t.Parallel()

	s := schema.Schema{
		"a": {Type: schema.TypeString},
		"b": {Type: schema.TypeString},
	}
	out := Apply([]records.Record{{"b": nil}}, s)

	if len(out) != 1 {
		t.Fatalf("length changed: %d", len(out))
	}
	if !records.IsMissing(out[0]["a"]) {
		t.Fatalf("absent field a = %#v, want missing marker", out[0]["a"])
	}
	if v, present := out[0]["b"]; !present || v != nil {
		t.Fatalf("explicit null b = %#v, want nil", v)
	}
}

// TestApplyOrderAndLength verifies output order matches input order, which
// the caller's first-N sampling depends on.
func TestApplyOrderAndLength(t *testing.T) {
	t.Parallel()

	s := schema.Schema{"i": {Type: schema.TypeInteger}}
	in := []records.Record{
		{"i": "0"}, {"i": "1"}, {"i": "2"},
	}
	out := Apply(in, s)
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i, r := range out {
		if r["i"].(int64) != int64(i) {
			t.Fatalf("order broken at %d: %#v", i, r["i"])
		}
	}
	// Inputs must not be mutated.
	if _, ok := in[0]["i"].(string); !ok {
		t.Fatalf("input record mutated: %#v", in[0]["i"])
	}
}

// TestApplyUndeclaredFieldPassthrough verifies fields unknown to the schema
// survive unchanged.
func TestApplyUndeclaredFieldPassthrough(t *testing.T) {
	t.Parallel()

	s := schema.Schema{"a": {Type: schema.TypeString}}
	out := Apply([]records.Record{{"a": "x", "extra": json.Number("1")}}, s)
	if out[0]["extra"] != json.Number("1") {
		t.Fatalf("undeclared field altered: %#v", out[0]["extra"])
	}
}

// TestApplyCoercionFailureRetainsRaw verifies the soft-failure contract.
func TestApplyCoercionFailureRetainsRaw(t *testing.T) {
	t.Parallel()

	s := schema.Schema{"age": {Type: schema.TypeInteger}}
	out := Apply([]records.Record{{"age": "unknown"}}, s)
	if out[0]["age"] != "unknown" {
		t.Fatalf("raw value not retained: %#v", out[0]["age"])
	}
}
