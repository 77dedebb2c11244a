package parser

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"ingest/internal/records"
)

// maxFieldNameBytes bounds normalized header names so they stay usable as
// column identifiers in the SQL backends.
const maxFieldNameBytes = 63

// parseCSV reads a headered CSV payload into records keyed by normalized
// header names. Empty cells become nil, numeric-looking cells become
// json.Number so CSV and JSON payloads infer the same schema.
func parseCSV(r io.Reader, opts Options) ([]records.Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("parser: read csv header: %w", err)
	}

	fields := make([]string, len(hdr))
	for i, h := range hdr {
		fields[i] = NormalizeFieldName(h)
	}

	var out []records.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parser: read csv row %d: %w", len(out)+2, err)
		}

		rec := make(records.Record, len(fields))
		for i, name := range fields {
			if name == "" || i >= len(row) {
				continue
			}
			rec[name] = csvCell(row[i], !opts.KeepSpace)
		}
		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, ErrEmptyInput
	}
	return out, nil
}

// csvCell converts one raw cell to its record value. Empty cells are null,
// and cells that parse as JSON numbers are promoted so downstream type
// inference treats "42" in a CSV like 42 in a JSON payload.
func csvCell(v string, trim bool) any {
	if trim {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return nil
	}
	if looksNumeric(v) {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return json.Number(v)
		}
	}
	return v
}

// looksNumeric is a cheap prefilter so ParseFloat runs only on plausible
// numbers, not on every text cell.
func looksNumeric(s string) bool {
	c := s[0]
	return c == '-' || c == '+' || (c >= '0' && c <= '9')
}

// NormalizeFieldName maps a raw header to the canonical field form:
// trimmed, lowercased, spaces collapsed to underscores, and truncated to
// maxFieldNameBytes without splitting a UTF-8 sequence.
func NormalizeFieldName(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.TrimSpace(h)
	h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
	return truncateFieldName(h, maxFieldNameBytes)
}

func truncateFieldName(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
