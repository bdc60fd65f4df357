// Package json reads JSON exports (RFID vendor API dumps) into the same
// pooled row shape the delimited reader produces.
//
// Supported shapes:
//   - a root array of flat objects
//   - an envelope object whose first array-of-objects field holds the
//     records (the vendor wraps payloads as {"items": [...], "total": n})
//
// The header is derived from the first record's keys (sorted); later
// records missing a key emit an empty cell, and keys appearing only in
// later records are ignored. Vendor APIs emit uniform objects, so this
// trade is acceptable where it never would be for spreadsheets.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

// Reader streams one JSON export. Construct with Open, call Stream once.
type Reader struct {
	src    io.ReadCloser
	dec    *json.Decoder
	header []string
	first  map[string]any // buffered while deriving the header
	hm     map[string]string
	sep    string
	line   int // 1-based record number of the last emitted record
}

// Open positions the decoder inside the record array and derives the
// header from the first record.
//
// Options honored: "header_map" (source key -> canonical renames),
// "array_join_separator" (flattening for array-valued fields, default ",").
func Open(src io.ReadCloser, opt config.Options) (*Reader, error) {
	dec := json.NewDecoder(src)
	dec.UseNumber() // keep numeric text verbatim; the cleaner owns parsing

	if err := seekRecords(dec); err != nil {
		_ = src.Close()
		return nil, err
	}

	if !dec.More() {
		_ = src.Close()
		return nil, fmt.Errorf("json: no records")
	}

	var first map[string]any
	if err := dec.Decode(&first); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("json: first record: %w", err)
	}

	hm := opt.StringMap("header_map")
	header := make([]string, 0, len(first))
	renamed := make(map[string]any, len(first))
	for k, v := range first {
		if mapped, ok := hm[k]; ok {
			k = mapped
		}
		header = append(header, k)
		renamed[k] = v
	}
	sort.Strings(header)

	sep := strings.TrimSpace(opt.String("array_join_separator", ","))
	if sep == "" {
		sep = ","
	}

	return &Reader{
		src:    src,
		dec:    dec,
		header: header,
		first:  renamed,
		hm:     hm,
		sep:    sep,
	}, nil
}

// seekRecords advances the decoder to the start of the record array.
func seekRecords(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read first token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: root must be an array or object, got %v", tok)
	}
	if d == '[' {
		return nil
	}
	if d != '{' {
		return fmt.Errorf("json: unexpected root delimiter %v", d)
	}

	// Envelope: scan fields until an array value shows up.
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: envelope scan: %w", err)
		}
		if d, ok := tok.(json.Delim); ok && d == '}' {
			return fmt.Errorf("json: envelope has no array field")
		}
		// tok is a field name; inspect its value
		vt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: envelope scan: %w", err)
		}
		if d, ok := vt.(json.Delim); ok {
			if d == '[' {
				return nil
			}
			// skip nested object
			if err := skipValue(dec, d); err != nil {
				return err
			}
		}
		// scalar value: keep scanning
	}
}

func skipValue(dec *json.Decoder, open json.Delim) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip value: %w", err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	_ = open
	return nil
}

// Header returns the derived, sorted header.
func (r *Reader) Header() []string { return r.header }

// Stream emits records as pooled rows aligned to Header().
func (r *Reader) Stream(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error {
	defer r.src.Close()

	emit := func(obj map[string]any) error {
		r.line++
		if len(r.hm) > 0 {
			for k, v := range obj {
				if mapped, ok := r.hm[k]; ok && mapped != k {
					obj[mapped] = v
					delete(obj, k)
				}
			}
		}
		row := transformer.GetRow(len(r.header))
		row.Line = r.line
		for i, k := range r.header {
			if v, ok := obj[k]; ok {
				row.V[i] = r.scalar(v)
			}
		}
		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}

	if r.first != nil {
		obj := r.first
		r.first = nil
		if err := emit(obj); err != nil {
			return err
		}
	}

	for r.dec.More() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var obj map[string]any
		if err := r.dec.Decode(&obj); err != nil {
			if onErr != nil {
				onErr(r.line+1, fmt.Errorf("json record: %w", err))
			}
			return fmt.Errorf("json: decode record: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
	return nil
}

// scalar flattens a decoded JSON value to the verbatim text form the
// staging layer stores.
func (r *Reader) scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, r.scalar(e))
		}
		return strings.Join(parts, r.sep)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
