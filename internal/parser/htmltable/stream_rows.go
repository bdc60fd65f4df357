// Package htmltable reads the legacy POS "Excel" export format, which is
// not a real workbook at all: it is an HTML document with a single
// <table>. Several point-of-sale vendors still emit these with an .xls
// extension.
package htmltable

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
	"github.com/sandahltim/RFID3-sub003/internal/transformer/builtin"
)

// Reader holds the fully-parsed table. HTML exports are parsed eagerly
// (goquery needs the whole document anyway); they are small compared to
// the delimited exports, so bounded-memory streaming is not a concern
// here.
type Reader struct {
	src    io.ReadCloser
	header []string
	rows   [][]string
}

// Sniff reports whether the leading bytes look like an HTML document
// rather than a delimited file or a zip-based workbook.
func Sniff(prefix []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(prefix)))
	return strings.HasPrefix(s, "<!doctype") || strings.HasPrefix(s, "<html") || strings.HasPrefix(s, "<table")
}

// Open parses the document and extracts the first table.
//
// The header row is the table's first <tr>, taken from <th> cells when
// present, <td> cells otherwise. Options honored: "table_selector"
// (default "table"), "trim_space" (default true), "header_map".
func Open(src io.ReadCloser, opt config.Options) (*Reader, error) {
	doc, err := goquery.NewDocumentFromReader(src)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sel := opt.String("table_selector", "table")
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		_ = src.Close()
		return nil, fmt.Errorf("no %q element in document", sel)
	}

	trim := opt.Bool("trim_space", true)
	cellText := func(s *goquery.Selection) string {
		t := s.Text()
		if trim && builtin.HasEdgeSpace(t) {
			t = strings.TrimSpace(t)
		}
		return t
	}

	var header []string
	var rows [][]string

	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		vals := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			vals = append(vals, cellText(c))
		})
		if i == 0 {
			header = vals
			return
		}
		rows = append(rows, vals)
	})

	if len(header) == 0 {
		_ = src.Close()
		return nil, fmt.Errorf("table has no header row")
	}

	hm := opt.StringMap("header_map")
	for i, h := range header {
		if mapped, ok := hm[h]; ok {
			header[i] = mapped
		}
	}

	return &Reader{src: src, header: header, rows: rows}, nil
}

// Header returns the (possibly renamed) header row.
func (r *Reader) Header() []string { return r.header }

// Stream emits the extracted rows as pooled rows aligned to Header().
// Line numbers count the header as line 1, matching the other readers.
func (r *Reader) Stream(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error {
	defer r.src.Close()

	width := len(r.header)

	for i, cells := range r.rows {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row := transformer.GetRow(width)
		row.Line = i + 2

		for j := 0; j < width && j < len(cells); j++ {
			row.V[j] = cells[j]
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
	return nil
}
