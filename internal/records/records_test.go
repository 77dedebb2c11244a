package records

import (
	"encoding/json"
	"strings"
	"testing"
)

//
// Missing marker
//

// TestMissingDistinctFromNil verifies that the explicit missing marker and an
// explicit null are distinguishable values, which downstream display logic
// depends on.
func TestMissingDistinctFromNil(t *testing.T) {
	t.Parallel()

	r := Record{"a": nil, "b": Missing}
	if IsMissing(r["a"]) {
		t.Fatalf("nil must not be treated as missing")
	}
	if !IsMissing(r["b"]) {
		t.Fatalf("Missing not detected")
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"a":null`) {
		t.Fatalf("explicit null lost: %s", s)
	}
	if !strings.Contains(s, `"b":"`+MissingMarker+`"`) {
		t.Fatalf("missing marker lost: %s", s)
	}
}

//
// CanonicalJSON
//

// TestCanonicalJSONDeterministic verifies key ordering and number rendering
// are stable regardless of insertion order or numeric representation.
func TestCanonicalJSONDeterministic(t *testing.T) {
	t.Parallel()

	a := Record{"x": json.Number("1"), "a": "v", "n": nil}
	b := Record{"n": nil, "a": "v", "x": int64(1)}

	ja := string(CanonicalJSON(a))
	jb := string(CanonicalJSON(b))
	if ja != jb {
		t.Fatalf("canonical forms differ:\n a=%s\n b=%s", ja, jb)
	}
	if ja != `{"a":"v","n":null,"x":1}` {
		t.Fatalf("unexpected canonical form: %s", ja)
	}
}

func TestCanonicalJSONNested(t *testing.T) {
	t.Parallel()

	r := Record{
		"obj": map[string]any{"b": json.Number("2.5"), "a": []any{"x", nil}},
	}
	got := string(CanonicalJSON(r))
	want := `{"obj":{"a":["x",null],"b":2.5}}`
	if got != want {
		t.Fatalf("CanonicalJSON = %s, want %s", got, want)
	}
}

//
// AppendCanonical
//

func TestAppendCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil renders null", nil, "null"},
		{"missing renders like nil", Missing, "null"},
		{"string trimmed", "  x  ", "x"},
		{"bool", true, "true"},
		{"json number verbatim", json.Number("30"), "30"},
		{"int64", int64(-5), "-5"},
		{"float g format", float64(2.5), "2.5"},
		{"integral float stays short", float64(3), "3"},
		{"nested object canonical", map[string]any{"b": "2", "a": "1"}, `{"a":"1","b":"2"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var b strings.Builder
			AppendCanonical(&b, tt.in, true)
			if b.String() != tt.want {
				t.Fatalf("AppendCanonical(%v) = %q, want %q", tt.in, b.String(), tt.want)
			}
		})
	}
}

func TestCloneIsShallowCopy(t *testing.T) {
	t.Parallel()

	r := Record{"a": int64(1)}
	c := r.Clone()
	c["a"] = int64(2)
	if r["a"].(int64) != 1 {
		t.Fatalf("Clone must not alias the top-level map")
	}
}
