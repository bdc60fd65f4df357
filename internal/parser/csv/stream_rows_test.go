package csv

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

func runStream(t *testing.T, input string, opts config.Options) (header []string, rows [][]string, lines []int, readErrs []int, err error) {
	t.Helper()

	r, err := Open(io.NopCloser(strings.NewReader(input)), opts)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	header = r.Header()

	out := make(chan *transformer.Row, 64)
	done := make(chan error, 1)
	go func() {
		defer close(out)
		done <- r.Stream(context.Background(), out, func(line int, err error) {
			readErrs = append(readErrs, line)
		})
	}()

	for row := range out {
		rows = append(rows, append([]string(nil), row.V...))
		lines = append(lines, row.Line)
		row.Free()
	}
	return header, rows, lines, readErrs, <-done
}

func TestOpen_HeaderAndRows(t *testing.T) {
	input := "ItemNum,Item Name,Sell Price\n63099,SKID STEER,\"$45,000.00\"\n64000,EXCAVATOR,100\n"

	header, rows, lines, readErrs, err := runStream(t, input, config.Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v, want nil", err)
	}
	if len(readErrs) != 0 {
		t.Fatalf("read errors=%v, want none", readErrs)
	}
	if !reflect.DeepEqual(header, []string{"ItemNum", "Item Name", "Sell Price"}) {
		t.Fatalf("Header()=%v", header)
	}
	want := [][]string{
		{"63099", "SKID STEER", "$45,000.00"},
		{"64000", "EXCAVATOR", "100"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v, want %v", rows, want)
	}
	// Line numbers are file lines: header is line 1.
	if !reflect.DeepEqual(lines, []int{2, 3}) {
		t.Fatalf("lines=%v, want [2 3]", lines)
	}
}

func TestOpen_BOMStripped(t *testing.T) {
	input := "\uFEFFItemNum,Name\n1,a\n"

	header, _, _, _, err := runStream(t, input, config.Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if header[0] != "ItemNum" {
		t.Fatalf("header[0]=%q, want ItemNum without BOM", header[0])
	}
}

func TestOpen_HeaderMapAndTrim(t *testing.T) {
	input := " Key ,  Desc \nv1, padded value \n"
	opts := config.Options{
		"header_map": map[string]any{"Key": "item_num"},
	}

	header, rows, _, _, err := runStream(t, input, opts)
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	// Edge space is trimmed before the rename lookup.
	if !reflect.DeepEqual(header, []string{"item_num", "Desc"}) {
		t.Fatalf("Header()=%v, want [item_num Desc]", header)
	}
	if rows[0][1] != "padded value" {
		t.Fatalf("cell=%q, want trimmed", rows[0][1])
	}
}

func TestOpen_TrimDisabled(t *testing.T) {
	input := "A\n padded \n"
	_, rows, _, _, err := runStream(t, input, config.Options{"trim_space": false})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if rows[0][0] != " padded " {
		t.Fatalf("cell=%q, want original spacing", rows[0][0])
	}
}

func TestOpen_TabDelimiter(t *testing.T) {
	input := "A\tB\n1\t2\n"
	header, rows, _, _, err := runStream(t, input, config.Options{"comma": "\t"})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if !reflect.DeepEqual(header, []string{"A", "B"}) || rows[0][1] != "2" {
		t.Fatalf("header=%v rows=%v", header, rows)
	}
}

func TestOpen_Windows1252Charset(t *testing.T) {
	// 0xE9 is e-acute in cp1252; undecoded it is invalid UTF-8.
	input := "Name\nCaf\xe9 Table\n"

	_, rows, _, _, err := runStream(t, input, config.Options{"charset": "windows-1252"})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if rows[0][0] != "Café Table" {
		t.Fatalf("cell=%q, want %q", rows[0][0], "Café Table")
	}
}

func TestStream_ShortAndLongRows(t *testing.T) {
	// Variable-width records: short rows pad with empty cells, long rows
	// truncate to the header width.
	input := "A,B,C\n1\n1,2,3,4\n"

	_, rows, _, readErrs, err := runStream(t, input, config.Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v", err)
	}
	if len(readErrs) != 0 {
		t.Fatalf("read errors=%v, want none (variable width allowed)", readErrs)
	}
	want := [][]string{
		{"1", "", ""},
		{"1", "2", "3"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v, want %v", rows, want)
	}
}

func TestStream_BadQuoteReportsLineAndContinues(t *testing.T) {
	input := "A,B\nok,1\n\"broken,2\nok2,3\n"

	_, rows, _, readErrs, err := runStream(t, input, config.Options{})
	if err != nil {
		t.Fatalf("Stream() err=%v, want nil (row errors are not fatal)", err)
	}
	if len(readErrs) != 1 {
		t.Fatalf("read errors=%v, want one", readErrs)
	}
	if len(rows) != 1 || rows[0][0] != "ok" {
		t.Fatalf("rows=%v", rows)
	}
}

func TestOpen_EmptyFileFails(t *testing.T) {
	_, err := Open(io.NopCloser(strings.NewReader("")), config.Options{})
	if err == nil {
		t.Fatalf("Open() on empty input must fail (no header)")
	}
}

func TestStream_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := Open(io.NopCloser(strings.NewReader("A\n1\n2\n")), config.Options{})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}

	out := make(chan *transformer.Row) // unbuffered
	if err := r.Stream(ctx, out, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() err=%v, want context.Canceled", err)
	}
}
