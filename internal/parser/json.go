package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ingest/internal/records"
)

// parseJSON walks the payload token by token so envelopes stream without
// buffering the wrapper object.
//
// Accepted shapes:
//   - a root array of objects,
//   - a root object whose first array-of-objects field holds the records
//     (envelope), remaining envelope fields are skipped,
//   - a root object with no such field, taken as a single record,
//   - in every case, optional trailing whitespace-separated JSON objects
//     after the root value (JSONL tail).
func parseJSON(r io.Reader) ([]records.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("parser: read first token: %w", err)
	}

	var out []records.Record

	d, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("parser: unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		out, err = decodeObjectArray(dec, out)
		if err != nil {
			return nil, err
		}
		if end, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("parser: read array end: %w", err)
		} else if end != json.Delim(']') {
			return nil, fmt.Errorf("parser: expected array end ']', got %v", end)
		}

	case '{':
		streamed, single, err := decodeEnvelopeOrSingle(dec)
		if err != nil {
			return nil, err
		}
		if endErr := consumeObjectEnd(dec); endErr != nil {
			return nil, endErr
		}
		if streamed != nil {
			out = streamed
		} else if len(single) > 0 {
			out = append(out, records.Record(single))
		}

	default:
		return nil, fmt.Errorf("parser: unsupported root delimiter %q", d)
	}

	// Trailing JSONL objects after the root value.
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parser: decode trailing object: %w", err)
		}
		out = append(out, records.Record(obj))
	}

	if len(out) == 0 {
		return nil, ErrEmptyInput
	}
	return out, nil
}

// decodeObjectArray decodes elements of the current array, after '[' has
// been consumed. Elements must be objects; null elements are skipped.
func decodeObjectArray(dec *json.Decoder, out []records.Record) ([]records.Record, error) {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parser: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parser: array element not an object (got %T)", raw)
		}
		out = append(out, records.Record(obj))
	}
	return out, nil
}

// decodeEnvelopeOrSingle walks a root object after '{' has been consumed.
//
// The first field whose value is an array of objects is taken as the record
// list, and the remaining fields are skipped without materializing. If no
// such field exists the whole object is one record.
func decodeEnvelopeOrSingle(dec *json.Decoder) (streamed []records.Record, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("parser: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("parser: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("parser: read object value token: %w", err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' {
			recs, arr, err := decodeArrayField(dec)
			if err != nil {
				return nil, nil, err
			}
			if recs != nil {
				for dec.More() {
					if _, err := dec.Token(); err != nil {
						return nil, nil, fmt.Errorf("parser: skip envelope key: %w", err)
					}
					if err := skipNextValue(dec); err != nil {
						return nil, nil, err
					}
				}
				return recs, nil, nil
			}
			single[key] = arr
			continue
		}

		val, err := materializeValue(dec, valTok)
		if err != nil {
			return nil, nil, err
		}
		single[key] = val
	}

	return nil, single, nil
}

// decodeArrayField resolves an array-valued field inside a root object,
// after its '[' has been consumed. An array whose first element is an object
// is the envelope's record list and comes back as recs; anything else is an
// ordinary value and comes back as arr. Exactly one of the two is non-nil,
// except for an empty array where both are nil.
func decodeArrayField(dec *json.Decoder) (recs []records.Record, arr []any, _ error) {
	if !dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, nil, fmt.Errorf("parser: read array end: %w", err)
		}
		return nil, []any{}, nil
	}

	firstTok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("parser: read element token: %w", err)
	}

	if d, ok := firstTok.(json.Delim); ok && d == '{' {
		first, err := materializeValue(dec, firstTok)
		if err != nil {
			return nil, nil, err
		}
		recs = append(recs, records.Record(first.(map[string]any)))
		recs, err = decodeObjectArray(dec, recs)
		if err != nil {
			return nil, nil, err
		}
		if end, err := dec.Token(); err != nil {
			return nil, nil, fmt.Errorf("parser: read envelope array end: %w", err)
		} else if end != json.Delim(']') {
			return nil, nil, fmt.Errorf("parser: expected ']' after envelope array, got %v", end)
		}
		return recs, nil, nil
	}

	first, err := materializeValue(dec, firstTok)
	if err != nil {
		return nil, nil, err
	}
	arr = append(arr, first)
	for dec.More() {
		valTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("parser: read element token: %w", err)
		}
		val, err := materializeValue(dec, valTok)
		if err != nil {
			return nil, nil, err
		}
		arr = append(arr, val)
	}
	if end, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("parser: read array end: %w", err)
	} else if end != json.Delim(']') {
		return nil, nil, fmt.Errorf("parser: expected array end ']', got %v", end)
	}
	return nil, arr, nil
}

func consumeObjectEnd(dec *json.Decoder) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parser: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return fmt.Errorf("parser: expected object end '}', got %v", end)
	}
	return nil
}

// skipNextValue consumes the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parser: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok any) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	var depth int
	switch d {
	case '{', '[':
		depth = 1
	default:
		return fmt.Errorf("parser: unexpected delimiter %q", d)
	}
	for depth > 0 {
		t, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parser: skip value: %w", err)
		}
		if dd, ok := t.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// materializeValue builds the Go value for the JSON value whose first token
// is tok. Scalars already are the token; containers are re-decoded from the
// token stream.
func materializeValue(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		obj := make(map[string]any)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parser: read nested key: %w", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("parser: nested key not a string (got %T)", keyTok)
			}
			valTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parser: read nested value token: %w", err)
			}
			val, err := materializeValue(dec, valTok)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		if err := consumeObjectEnd(dec); err != nil {
			return nil, err
		}
		return obj, nil

	case '[':
		var arr []any
		for dec.More() {
			valTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parser: read element token: %w", err)
			}
			val, err := materializeValue(dec, valTok)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		end, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parser: read array end: %w", err)
		}
		if end != json.Delim(']') {
			return nil, fmt.Errorf("parser: expected array end ']', got %v", end)
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("parser: unexpected delimiter %q", d)
	}
}
