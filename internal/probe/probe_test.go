package probe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

func writeSample(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestProbe_InfersDescriptor(t *testing.T) {
	content := `Item Num,Description,Sell Price,Qty,Last Scan,Active
1001,GENERATOR 5KW,"$1,200.00",2,2025-06-01,Y
1002,LIGHT TOWER,"$3,400.00",1,2025-06-02,Y
1003,PUMP 2IN,450.00,4,2025-06-03,N
`
	path := writeSample(t, "vendor_export.csv", content)

	rep, err := Probe(Options{Path: path})
	if err != nil {
		t.Fatalf("Probe() err=%v, want nil", err)
	}

	if rep.SampleRows != 3 {
		t.Fatalf("sample_rows=%d, want 3", rep.SampleRows)
	}
	if rep.Descriptor.Type != schema.SourceType("vendor_export") {
		t.Fatalf("type=%q, want vendor_export (from file name)", rep.Descriptor.Type)
	}
	if rep.Descriptor.Family != schema.FamilyStaging {
		t.Fatalf("family=%q, want staging_only", rep.Descriptor.Family)
	}

	types := map[string]schema.FieldType{}
	for _, c := range rep.Columns {
		types[c.Normalized] = c.Type
	}
	want := map[string]schema.FieldType{
		"item_num":    schema.FieldNumber,
		"description": schema.FieldText,
		"sell_price":  schema.FieldMoney,
		"qty":         schema.FieldNumber,
		"last_scan":   schema.FieldDate,
		"active":      schema.FieldBool,
	}
	for col, wt := range want {
		if types[col] != wt {
			t.Fatalf("column %s type=%q, want %q (all: %v)", col, types[col], wt, types)
		}
	}

	// item_num is fully distinct and numeric: the natural-key suggestion.
	if rep.Descriptor.NaturalKey != "item_num" {
		t.Fatalf("natural_key=%q, want item_num", rep.Descriptor.NaturalKey)
	}
}

func TestProbe_ExplicitName(t *testing.T) {
	path := writeSample(t, "whatever.csv", "A,B\n1,2\n")
	rep, err := Probe(Options{Path: path, Name: "RFID Tag Dump"})
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}
	if rep.Descriptor.Type != schema.SourceType("rfid_tag_dump") {
		t.Fatalf("type=%q, want rfid_tag_dump", rep.Descriptor.Type)
	}
}

func TestProbe_MisalignedRowsSkipped(t *testing.T) {
	content := "A,B,C\n1,2,3\nbroken row\n4,5,6\n"
	path := writeSample(t, "dirty.csv", content)

	rep, err := Probe(Options{Path: path})
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}
	if rep.SampleRows != 2 {
		t.Fatalf("sample_rows=%d, want 2 (misaligned row skipped)", rep.SampleRows)
	}
}

func TestProbe_TruncatedSampleCutAtNewline(t *testing.T) {
	// MaxBytes lands mid-record; the partial trailing record must not
	// reach inference.
	content := "A,B\naaaa,1\nbbbb,2\ncccc,3\n"
	path := writeSample(t, "big.csv", content)

	rep, err := Probe(Options{Path: path, MaxBytes: len("A,B\naaaa,1\nbbbb,2\nccc")})
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}
	if rep.SampleRows != 2 {
		t.Fatalf("sample_rows=%d, want 2 (truncated record dropped)", rep.SampleRows)
	}
}

func TestProbe_SparseColumnDenominator(t *testing.T) {
	// Column B has a value on only one row; its uniqueness ratio is
	// computed over that one row, not the full sample.
	content := "A,B\n1,x\n2,\n3,\n"
	path := writeSample(t, "sparse.csv", content)

	rep, err := Probe(Options{Path: path})
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}

	var b ColumnStat
	for _, c := range rep.Columns {
		if c.Normalized == "b" {
			b = c
		}
	}
	if b.Values != 1 || b.Distinct != 1 {
		t.Fatalf("column b stats=%+v, want values=1 distinct=1", b)
	}
	// A is numeric and fully distinct; the bonus breaks the ratio tie.
	if rep.Descriptor.NaturalKey != "a" {
		t.Fatalf("natural_key=%q, want a", rep.Descriptor.NaturalKey)
	}
}

func TestProbe_EmptyTypeStaysText(t *testing.T) {
	content := "A,Empty\n1,\n2,\n"
	path := writeSample(t, "empty.csv", content)

	rep, err := Probe(Options{Path: path})
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}
	for _, c := range rep.Columns {
		if c.Normalized == "empty" && c.Type != schema.FieldText {
			t.Fatalf("empty column type=%q, want text", c.Type)
		}
	}
}

func TestProbe_MissingFile(t *testing.T) {
	if _, err := Probe(Options{Path: "/nonexistent/never.csv"}); err == nil {
		t.Fatalf("Probe() on missing file must fail")
	}
}

func TestSummary(t *testing.T) {
	path := writeSample(t, "s.csv", "Item Num,Cat\n1,a\n2,a\n")
	rep, err := Probe(Options{Path: path})
	if err != nil {
		t.Fatalf("Probe() err=%v", err)
	}

	out := rep.Summary()
	if !strings.Contains(out, "suggested_key=item_num") {
		t.Fatalf("summary missing key suggestion:\n%s", out)
	}
	// Sorted by uniqueness: item_num (1.0) before cat (0.5).
	if strings.Index(out, "item_num") > strings.Index(out, "cat") {
		t.Fatalf("summary not sorted by uniqueness:\n%s", out)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Item Num", "item_num"},
		{"  Sell-Price  ", "sell_price"},
		{"T/O YTD", "t_o_ytd"},
		{"weird!!chars", "weirdchars"},
		{"a...b", "a_b"},
		{"__x__", "x"},
	}
	for _, tc := range tests {
		if got := normalizeName(tc.in); got != tc.want {
			t.Fatalf("normalizeName(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data/exports/equip_list.csv", "equip_list"},
		{`C:\exports\pos.dump.csv`, "pos"},
		{"plain", "plain"},
	}
	for _, tc := range tests {
		if got := baseName(tc.in); got != tc.want {
			t.Fatalf("baseName(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
