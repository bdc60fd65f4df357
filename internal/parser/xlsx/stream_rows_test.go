package xlsx

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

// buildWorkbook writes the given rows to a sheet and returns the
// serialized workbook.
func buildWorkbook(t *testing.T, sheet string, rows [][]any) io.ReadCloser {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return io.NopCloser(&buf)
}

func runStream(t *testing.T, src io.ReadCloser, opts config.Options) (header []string, rows [][]string, lines []int, err error) {
	t.Helper()

	r, err := Open(src, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	header = r.Header()

	out := make(chan *transformer.Row, 16)
	done := make(chan error, 1)
	go func() {
		defer close(out)
		done <- r.Stream(context.Background(), out, nil)
	}()

	for row := range out {
		rows = append(rows, append([]string(nil), row.V...))
		lines = append(lines, row.Line)
		row.Free()
	}
	return header, rows, lines, <-done
}

func TestOpen_FirstSheet(t *testing.T) {
	src := buildWorkbook(t, "Sheet1", [][]any{
		{"Week Ending", "Revenue 3607", "Revenue 6800"},
		{"2025-06-15", 1000, 2000},
		{"2025-06-22", 1100, 2100},
	})

	header, rows, lines, err := runStream(t, src, config.Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v, want nil", err)
	}
	if !reflect.DeepEqual(header, []string{"Week Ending", "Revenue 3607", "Revenue 6800"}) {
		t.Fatalf("Header()=%v", header)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0][1] != "1000" || rows[1][2] != "2100" {
		t.Fatalf("rows=%v", rows)
	}
	if !reflect.DeepEqual(lines, []int{2, 3}) {
		t.Fatalf("lines=%v, want [2 3]", lines)
	}
}

func TestOpen_NamedSheet(t *testing.T) {
	src := buildWorkbook(t, "Payroll", [][]any{
		{"Period Ending", "Payroll 3607"},
		{"2025-06-15", 4000},
	})

	header, rows, _, err := runStream(t, src, config.Options{"sheet": "Payroll"})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if header[0] != "Period Ending" || len(rows) != 1 {
		t.Fatalf("header=%v rows=%v", header, rows)
	}
}

func TestOpen_UnknownSheet(t *testing.T) {
	src := buildWorkbook(t, "Sheet1", [][]any{{"A"}})
	if _, err := Open(src, config.Options{"sheet": "Missing"}); err == nil {
		t.Fatalf("expected unknown-sheet error")
	}
}

func TestOpen_HeaderMapAndTrim(t *testing.T) {
	src := buildWorkbook(t, "Sheet1", [][]any{
		{" Key ", "Desc"},
		{" v1 ", "d1"},
	})
	opts := config.Options{"header_map": map[string]any{"Key": "item_num"}}

	header, rows, _, err := runStream(t, src, opts)
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if header[0] != "item_num" {
		t.Fatalf("header=%v, want renamed after trim", header)
	}
	if rows[0][0] != "v1" {
		t.Fatalf("cell=%q, want trimmed", rows[0][0])
	}
}

func TestStream_ShortRowPads(t *testing.T) {
	src := buildWorkbook(t, "Sheet1", [][]any{
		{"A", "B", "C"},
		{"1"},
	})

	_, rows, _, err := runStream(t, src, config.Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if !reflect.DeepEqual(rows, [][]string{{"1", "", ""}}) {
		t.Fatalf("rows=%v, want padded", rows)
	}
}

func TestOpen_NotAWorkbook(t *testing.T) {
	src := io.NopCloser(bytes.NewReader([]byte("not a zip")))
	if _, err := Open(src, config.Options{}); err == nil {
		t.Fatalf("expected open error for non-workbook input")
	}
}
