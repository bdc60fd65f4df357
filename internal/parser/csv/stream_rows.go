// Package csv streams delimited files into pooled transformer rows.
//
// The reader preserves the source header verbatim (minus BOM/edge space):
// canonical field mapping happens downstream, so unknown columns survive
// all the way into staging.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
	"github.com/sandahltim/RFID3-sub003/internal/transformer/builtin"
)

// Reader streams one delimited file. Construct with Open (reads the
// header), then call Stream exactly once.
type Reader struct {
	src    io.ReadCloser
	cr     *csv.Reader
	header []string
	trim   bool
	line   int
}

// decodeCharset wraps r when a legacy single-byte charset is declared.
// POS exports from older Windows installs arrive as cp1252, which breaks
// UTF-8 handling in names like "Café Table".
func decodeCharset(r io.Reader, charset string) io.Reader {
	switch strings.ToLower(charset) {
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder())
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	}
	return r
}

// Open prepares a streaming reader and consumes the header row.
//
// Options honored: "comma" (delimiter rune, default ','), "charset"
// ("windows-1252"|"latin1"), "trim_space" (default true), "lazy_quotes",
// "fields_per_record" (0 = variable), "header_map" (source->canonical
// header renames applied before downstream matching).
//
// Errors:
//   - Any error reading the header is fatal; a delimited file without a
//     readable header cannot be schema-checked.
func Open(src io.ReadCloser, opt config.Options) (*Reader, error) {
	cr := csv.NewReader(decodeCharset(src, opt.String("charset", "")))
	cr.Comma = opt.Rune("comma", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	if fp := opt.Int("fields_per_record", 0); fp != 0 {
		cr.FieldsPerRecord = fp
	} else {
		cr.FieldsPerRecord = -1
	}

	r := &Reader{
		src:  src,
		cr:   cr,
		trim: opt.Bool("trim_space", true),
	}

	hdr, err := cr.Read()
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	r.line = 1

	hm := opt.StringMap("header_map")
	r.header = make([]string, len(hdr))
	for i, h := range hdr {
		if builtin.HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		r.header[i] = h
	}

	return r, nil
}

// Header returns the (possibly renamed) source header.
func (r *Reader) Header() []string { return r.header }

// Stream reads the remaining rows into pooled *transformer.Row objects
// aligned to Header(). It closes the source on return.
//
// Row-level read errors go to onErr with the 1-based line number and the
// stream continues; only ctx cancellation stops it early.
//
// NOTE on cancellation: in-flight rows are Drop()ed, not Free()d,
// otherwise the parser can reuse them while drain-safe downstream stages
// still read them.
func (r *Reader) Stream(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error {
	defer r.src.Close()

	width := len(r.header)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.line++
		rec, err := r.cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(width)
		row.Line = r.line

		for i := 0; i < width; i++ {
			if i >= len(rec) {
				continue
			}
			v := rec[i]
			if r.trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			row.V[i] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}
