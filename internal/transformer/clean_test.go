package transformer

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

func testDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Type:       "t",
		NaturalKey: "item_num",
		Fields: []schema.Field{
			{Name: "item_num", Type: schema.FieldText},
			{Name: "name", Type: schema.FieldText},
			{Name: "sell_price", Type: schema.FieldMoney},
			{Name: "turnover_ytd", Type: schema.FieldMoney},
			{Name: "turnover_ltd", Type: schema.FieldMoney},
			{Name: "repair_cost", Type: schema.FieldMoney},
			{Name: "deposit", Type: schema.FieldMoney},
			{Name: "qty", Type: schema.FieldNumber},
			{Name: "last_scan", Type: schema.FieldDate},
			{Name: "inactive", Type: schema.FieldBool},
		},
	}
}

func TestClean_TypedConversions(t *testing.T) {
	c := NewCleaner(nil)
	rec := Record{
		"item_num":   "63099",
		"name":       "SKID STEER LOADER",
		"sell_price": "$1,250.00",
		"qty":        "3",
		"last_scan":  "2025-06-15",
		"inactive":   "N",
	}

	out, warns, err := c.Clean(1, rec, testDescriptor())
	if err != nil {
		t.Fatalf("Clean() err=%v, want nil", err)
	}
	if len(warns) != 0 {
		t.Fatalf("warnings=%v, want none", warns)
	}

	price, ok := out["sell_price"].(decimal.Decimal)
	if !ok || !price.Equal(decimal.RequireFromString("1250.00")) {
		t.Fatalf("sell_price=%v, want 1250.00", out["sell_price"])
	}
	if d, ok := out["last_scan"].(time.Time); !ok || !d.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("last_scan=%v, want 2025-06-15", out["last_scan"])
	}
	if b, ok := out["inactive"].(bool); !ok || b {
		t.Fatalf("inactive=%v, want false", out["inactive"])
	}
	if out["turnover_ytd"] != nil {
		t.Fatalf("absent field should be nil, got %v", out["turnover_ytd"])
	}
}

func TestClean_BadFieldsWarnDoNotFail(t *testing.T) {
	// Five broken money fields in one row: the row is kept, each field is
	// nulled, and each failure is reported individually.
	c := NewCleaner(nil)
	rec := Record{
		"item_num":     "100",
		"sell_price":   "N/A",
		"turnover_ytd": "??",
		"turnover_ltd": "call for price",
		"repair_cost":  "--",
		"deposit":      "free",
	}

	out, warns, err := c.Clean(7, rec, testDescriptor())
	if err != nil {
		t.Fatalf("Clean() err=%v, want nil", err)
	}
	if len(warns) != 5 {
		t.Fatalf("warnings=%d, want 5: %v", len(warns), warns)
	}
	for _, w := range warns {
		if w.Line != 7 {
			t.Fatalf("warning line=%d, want 7", w.Line)
		}
		if out[w.Field] != nil {
			t.Fatalf("failed field %s not nulled: %v", w.Field, out[w.Field])
		}
	}
	if out["item_num"] != "100" {
		t.Fatalf("item_num=%v, want 100", out["item_num"])
	}
}

func TestClean_RequiredKey(t *testing.T) {
	c := NewCleaner(nil)

	// Missing natural key.
	_, _, err := c.Clean(3, Record{"name": "x"}, testDescriptor())
	if !errors.Is(err, ErrRequiredKey) {
		t.Fatalf("missing key err=%v, want ErrRequiredKey", err)
	}

	// Natural key that fails its declared conversion.
	d := testDescriptor()
	d.Fields[0].Type = schema.FieldNumber
	_, _, err = c.Clean(4, Record{"item_num": "not-a-number"}, d)
	if !errors.Is(err, ErrRequiredKey) {
		t.Fatalf("unparseable key err=%v, want ErrRequiredKey", err)
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1250", "1250", true},
		{"1,250.50", "1250.5", true},
		{"$99.99", "99.99", true},
		{"$ 1,000", "1000", true},
		{"(45.00)", "-45", true},
		{"($1,200.00)", "-1200", true},
		{"12.5%", "12.5", true},
		{"-3.14", "-3.14", true},
		{"N/A", "", false},
		{"()", "", false},
	}
	for _, tc := range tests {
		got, err := parseDecimal(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("parseDecimal(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
		if err == nil && !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("parseDecimal(%q)=%s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseDate_ProbeOrder(t *testing.T) {
	c := NewCleaner(nil)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-06-15", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"06/15/2025", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"6/15/2025", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"2025-06-15 14:30:00", time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)},
		{"Jan 2, 2025", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got, err := c.parseDate(tc.in)
		if err != nil {
			t.Fatalf("parseDate(%q) err=%v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseDate(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := c.parseDate("junk"); err == nil {
		t.Fatalf("parseDate(junk) expected error")
	}
}

func TestParseDate_CustomFormats(t *testing.T) {
	c := NewCleaner([]string{"02.01.2006"})
	got, err := c.parseDate("15.06.2025")
	if err != nil {
		t.Fatalf("parseDate err=%v", err)
	}
	if !got.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("parseDate=%v, want 2025-06-15", got)
	}
	// Default formats are replaced, not appended.
	if _, err := c.parseDate("2025-06-15"); err == nil {
		t.Fatalf("ISO date should not parse with custom-only formats")
	}
}

func TestParseBool_Tokens(t *testing.T) {
	truthy := []string{"1", "Y", "yes", "T", "TRUE", "x", " X "}
	falsy := []string{"0", "N", "no", "F", "False"}

	for _, in := range truthy {
		got, err := parseBool(in)
		if err != nil || !got {
			t.Fatalf("parseBool(%q)=(%v,%v), want (true,nil)", in, got, err)
		}
	}
	for _, in := range falsy {
		got, err := parseBool(in)
		if err != nil || got {
			t.Fatalf("parseBool(%q)=(%v,%v), want (false,nil)", in, got, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Fatalf("parseBool(maybe) expected error")
	}
}
