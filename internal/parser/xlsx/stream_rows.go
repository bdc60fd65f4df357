// Package xlsx streams Excel workbooks into the same pooled row shape the
// delimited reader produces, so ingestion is format-agnostic. Scorecard,
// payroll and P&L sources arrive as workbooks maintained by hand.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
	"github.com/sandahltim/RFID3-sub003/internal/transformer/builtin"
)

// Reader streams one worksheet. Construct with Open (locates the sheet
// and reads the header row), then call Stream exactly once.
type Reader struct {
	src    io.ReadCloser
	f      *excelize.File
	rows   *excelize.Rows
	header []string
	trim   bool
	line   int
}

// Open parses the workbook and positions the row iterator after the
// header.
//
// Options honored: "sheet" (worksheet name, default: first sheet),
// "trim_space" (default true), "header_map" (source->canonical renames).
//
// Errors:
//   - unreadable workbook, unknown sheet, or an empty sheet (no header).
func Open(src io.ReadCloser, opt config.Options) (*Reader, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheet := opt.String("sheet", "")
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			_ = f.Close()
			_ = src.Close()
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		_ = src.Close()
		return nil, fmt.Errorf("sheet %s: %w", sheet, err)
	}

	if !rows.Next() {
		_ = rows.Close()
		_ = f.Close()
		_ = src.Close()
		return nil, fmt.Errorf("sheet %s: empty, no header row", sheet)
	}
	hdr, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = f.Close()
		_ = src.Close()
		return nil, fmt.Errorf("sheet %s header: %w", sheet, err)
	}

	hm := opt.StringMap("header_map")
	header := make([]string, len(hdr))
	for i, h := range hdr {
		if builtin.HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		header[i] = h
	}

	return &Reader{
		src:    src,
		f:      f,
		rows:   rows,
		header: header,
		trim:   opt.Bool("trim_space", true),
		line:   1,
	}, nil
}

// Header returns the (possibly renamed) header row.
func (r *Reader) Header() []string { return r.header }

// Stream reads the remaining worksheet rows into pooled rows aligned to
// Header(). Cells beyond the header width are dropped; short rows are
// padded with empties (Excel omits trailing blank cells).
func (r *Reader) Stream(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error {
	defer func() {
		_ = r.rows.Close()
		_ = r.f.Close()
		_ = r.src.Close()
	}()

	width := len(r.header)

	for r.rows.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.line++
		cells, err := r.rows.Columns()
		if err != nil {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("read row: %w", err))
			}
			continue
		}

		row := transformer.GetRow(width)
		row.Line = r.line

		for i := 0; i < width && i < len(cells); i++ {
			v := cells[i]
			if r.trim && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			row.V[i] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}

	if err := r.rows.Error(); err != nil {
		return fmt.Errorf("worksheet iterator: %w", err)
	}
	return nil
}
