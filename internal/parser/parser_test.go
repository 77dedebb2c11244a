package parser

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestParseJSONArray verifies the common payload shape, a root array of
// objects, including number fidelity through json.Number.
func TestParseJSONArray(t *testing.T) {
	t.Parallel()

	in := `[{"id": 1, "name": "alice"}, {"id": 9007199254740993, "name": "bob"}]`
	recs, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if got := recs[1]["id"]; got != json.Number("9007199254740993") {
		t.Fatalf("id = %#v, want json.Number with full precision", got)
	}
}

// TestParseJSONEnvelope verifies that a wrapper object's first
// array-of-objects field is taken as the record list and the remaining
// envelope fields are ignored.
func TestParseJSONEnvelope(t *testing.T) {
	t.Parallel()

	in := `{"meta": "batch-7", "items": [{"id": 1}, {"id": 2}], "count": 2, "extra": {"deep": [1,2]}}`
	recs, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if _, ok := recs[0]["meta"]; ok {
		t.Fatalf("envelope field leaked into record: %v", recs[0])
	}
}

// TestParseJSONSingleObject verifies that a root object with no
// array-of-objects field is one record.
func TestParseJSONSingleObject(t *testing.T) {
	t.Parallel()

	in := `{"id": 5, "tags": ["a", "b"], "address": {"city": "Oslo"}}`
	recs, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	addr, ok := recs[0]["address"].(map[string]any)
	if !ok || addr["city"] != "Oslo" {
		t.Fatalf("address = %#v", recs[0]["address"])
	}
	tags, ok := recs[0]["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("tags = %#v", recs[0]["tags"])
	}
}

// TestParseJSONTrailingObjects verifies the JSONL tail: standalone objects
// after the root value are appended in order.
func TestParseJSONTrailingObjects(t *testing.T) {
	t.Parallel()

	in := `[{"id": 1}]
{"id": 2}
{"id": 3}`
	recs, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[2]["id"] != json.Number("3") {
		t.Fatalf("last record = %#v", recs[2])
	}
}

// TestParseJSONSkipsNullElements verifies null array elements are dropped
// rather than turned into empty records.
func TestParseJSONSkipsNullElements(t *testing.T) {
	t.Parallel()

	recs, err := Parse(strings.NewReader(`[{"id": 1}, null, {"id": 2}]`), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
}

// TestParseJSONRejectsScalarArray verifies a root array of non-objects is an
// error rather than silently empty.
func TestParseJSONRejectsScalarArray(t *testing.T) {
	t.Parallel()

	if _, err := Parse(strings.NewReader(`[1, 2, 3]`), Options{}); err == nil {
		t.Fatal("expected error for array of scalars")
	}
}

// TestParseCSV verifies header normalization, empty-cell nulls, and numeric
// promotion.
func TestParseCSV(t *testing.T) {
	t.Parallel()

	in := "ID,Full Name,Score,Note\n1,alice,9.5,\n2,bob,,fine\n"
	recs, err := Parse(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	r0 := recs[0]
	if r0["id"] != json.Number("1") {
		t.Fatalf("id = %#v, want json.Number(1)", r0["id"])
	}
	if r0["full_name"] != "alice" {
		t.Fatalf("full_name = %#v", r0["full_name"])
	}
	if r0["score"] != json.Number("9.5") {
		t.Fatalf("score = %#v", r0["score"])
	}
	if r0["note"] != nil {
		t.Fatalf("empty cell = %#v, want nil", r0["note"])
	}
	if recs[1]["score"] != nil {
		t.Fatalf("row 2 score = %#v, want nil", recs[1]["score"])
	}
}

// TestParseCSVWithBOMAndSemicolon covers the exported-from-Excel case: a
// UTF-8 BOM before the header and ';' separators.
func TestParseCSVWithBOMAndSemicolon(t *testing.T) {
	t.Parallel()

	in := "\ufeffid;name\n1;alice\n"
	recs, err := Parse(strings.NewReader(in), Options{Comma: ';'})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if recs[0]["id"] != json.Number("1") || recs[0]["name"] != "alice" {
		t.Fatalf("record = %#v", recs[0])
	}
}

// TestParseCSVWindows1252 verifies charmap decoding of a legacy-encoded
// payload.
func TestParseCSVWindows1252(t *testing.T) {
	t.Parallel()

	// "josé" with 0xE9 for é in Windows-1252.
	in := []byte("id,name\n1,jos\xe9\n")
	recs, err := Parse(strings.NewReader(string(in)), Options{Encoding: "windows-1252"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if recs[0]["name"] != "josé" {
		t.Fatalf("name = %q, want josé", recs[0]["name"])
	}
}

// TestParseSniffsFormat verifies format detection from the first
// non-whitespace byte.
func TestParseSniffsFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want int
	}{
		{"array with leading space", "  [{\"id\": 1}]", 1},
		{"object", "{\"id\": 1}", 1},
		{"csv", "id,name\n7,x\n", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			recs, err := Parse(strings.NewReader(tc.in), Options{})
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(recs) != tc.want {
				t.Fatalf("got %d records, want %d", len(recs), tc.want)
			}
		})
	}
}

// TestParseEmptyInputs verifies every empty-ish payload maps to
// ErrEmptyInput.
func TestParseEmptyInputs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		opts Options
	}{
		{"empty", "", Options{}},
		{"whitespace", "  \n\t", Options{}},
		{"empty array", "[]", Options{Format: "json"}},
		{"empty object", "{}", Options{Format: "json"}},
		{"header only csv", "id,name\n", Options{Format: "csv"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tc.in), tc.opts)
			if !errors.Is(err, ErrEmptyInput) {
				t.Fatalf("err = %v, want ErrEmptyInput", err)
			}
		})
	}
}

// TestParseUnsupportedEncoding verifies unknown encodings fail loudly.
func TestParseUnsupportedEncoding(t *testing.T) {
	t.Parallel()

	if _, err := Parse(strings.NewReader("a,b\n1,2\n"), Options{Encoding: "koi8-r"}); err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}

// TestNormalizeFieldName covers trimming, case folding, space replacement,
// and UTF-8-safe truncation.
func TestNormalizeFieldName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Full Name", "full_name"},
		{"  Spaced  ", "spaced"},
		{"\ufeffid", "id"},
		{"MiXeD Case Col", "mixed_case_col"},
	}
	for _, tc := range cases {
		if got := NormalizeFieldName(tc.in); got != tc.want {
			t.Fatalf("NormalizeFieldName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("a", 60) + "ééé"
	got := NormalizeFieldName(long)
	if len(got) > maxFieldNameBytes {
		t.Fatalf("truncated name is %d bytes, want <= %d", len(got), maxFieldNameBytes)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatalf("truncation split a UTF-8 sequence: %q", got)
		}
	}
}
