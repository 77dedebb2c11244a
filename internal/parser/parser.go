// Package parser turns uploaded payloads into records.
//
// Two formats are supported, JSON and CSV, detected from the payload itself
// when the caller does not pin one. Numbers always arrive downstream as
// json.Number so integer precision survives parsing.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"ingest/internal/records"
)

// ErrEmptyInput reports a payload with no parseable records.
var ErrEmptyInput = errors.New("parser: empty input")

// Options controls parsing. The zero value sniffs the format, assumes UTF-8
// and comma-separated CSV, and trims cell whitespace.
type Options struct {
	// Format pins the payload format: "json", "csv", or "" to sniff.
	Format string

	// Encoding names the source character encoding for CSV payloads:
	// "", "utf-8", "windows-1252", "windows-1250", "iso-8859-2".
	Encoding string

	// Comma overrides the CSV field separator. Zero means ','.
	Comma rune

	// KeepSpace disables whitespace trimming of CSV cells.
	KeepSpace bool
}

// Parse reads the whole payload from r and returns its records in input
// order. A payload that parses but contains no records returns ErrEmptyInput.
func Parse(r io.Reader, opts Options) ([]records.Record, error) {
	dr, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(dr)
	stripBOM(br)

	format := opts.Format
	if format == "" {
		format, err = sniffFormat(br)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case "json":
		return parseJSON(br)
	case "csv":
		return parseCSV(br, opts)
	default:
		return nil, fmt.Errorf("parser: unsupported format %q", format)
	}
}

// sniffFormat inspects the first non-whitespace byte: '[' or '{' means JSON,
// anything else is treated as CSV.
func sniffFormat(br *bufio.Reader) (string, error) {
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return "", ErrEmptyInput
		}
		if err != nil {
			return "", fmt.Errorf("parser: sniff: %w", err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return "", fmt.Errorf("parser: sniff: %w", err)
		}
		if b == '[' || b == '{' {
			return "json", nil
		}
		return "csv", nil
	}
}

func stripBOM(br *bufio.Reader) {
	bom := []byte{0xEF, 0xBB, 0xBF}
	if head, err := br.Peek(3); err == nil && string(head) == string(bom) {
		_, _ = br.Discard(3)
	}
}

// decodeReader wraps r with a charmap decoder when the payload is not UTF-8.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	var enc encoding.Encoding
	switch name {
	case "", "utf-8", "utf8":
		return r, nil
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	case "windows-1250", "cp1250":
		enc = charmap.Windows1250
	case "iso-8859-2", "latin2":
		enc = charmap.ISO8859_2
	default:
		return nil, fmt.Errorf("parser: unsupported encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
