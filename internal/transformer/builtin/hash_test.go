package builtin

import (
	"strings"
	"testing"
)

func TestPayloadHash_Deterministic_WithTrim(t *testing.T) {
	r1 := map[string]string{
		"item_num": "63099",
		"name":     " SKID STEER LOADER ",
		"category": "Heavy Equipment",
		"turnover": "1250.00",
	}
	r2 := map[string]string{
		"item_num": "63099",
		"name":     "SKID STEER LOADER",
		"category": "Heavy Equipment",
		"turnover": "1250.00",
	}

	h1 := PayloadHash(r1)
	h2 := PayloadHash(r2)

	if len(h1) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d (%q)", len(h1), h1)
	}
	if h1 != strings.ToLower(h1) {
		t.Fatalf("expected lowercase hex, got %q", h1)
	}
	if h1 != h2 {
		t.Fatalf("edge-trimmed values must hash identically: %q vs %q", h1, h2)
	}
}

func TestPayloadHash_KeyOrderIrrelevant(t *testing.T) {
	// Map iteration order is randomized; build the same logical record
	// via different insertion orders anyway so the intent is in the test.
	a := map[string]string{}
	a["z_last"] = "1"
	a["a_first"] = "2"
	a["m_mid"] = "3"

	b := map[string]string{}
	b["m_mid"] = "3"
	b["z_last"] = "1"
	b["a_first"] = "2"

	if PayloadHash(a) != PayloadHash(b) {
		t.Fatalf("hash must be independent of column order")
	}
}

func TestPayloadHash_ChangeDetection(t *testing.T) {
	base := map[string]string{"item_num": "100", "qty": "5"}
	changed := map[string]string{"item_num": "100", "qty": "6"}
	extra := map[string]string{"item_num": "100", "qty": "5", "note": "x"}

	h := PayloadHash(base)
	if PayloadHash(changed) == h {
		t.Fatalf("changed value must change the hash")
	}
	if PayloadHash(extra) == h {
		t.Fatalf("added column must change the hash")
	}
}

func TestPayloadHash_EmptyVsMissing(t *testing.T) {
	// An empty value and the "a=,b" style concatenation ambiguity: the
	// NUL sentinel plus unit separator must keep these distinct.
	a := map[string]string{"a": "", "b": "x"}
	b := map[string]string{"a": "x", "b": ""}
	if PayloadHash(a) == PayloadHash(b) {
		t.Fatalf("empty values in different columns must not collide")
	}

	c := map[string]string{"ab": "x"}
	d := map[string]string{"a": "bx"}
	if PayloadHash(c) == PayloadHash(d) {
		t.Fatalf("key/value boundary must be unambiguous")
	}
}

func TestHashFields_SubsetAndOrder(t *testing.T) {
	rec := map[string]string{
		"store":    "3607",
		"turnover": "100.00",
		"payroll":  "40.00",
		"ignored":  "junk",
	}

	h1 := HashFields(rec, []string{"store", "turnover", "payroll"})
	h2 := HashFields(rec, []string{"store", "turnover", "payroll"})
	if h1 != h2 {
		t.Fatalf("same field list must be deterministic")
	}

	// Unlike PayloadHash, the field list is an explicit identity
	// declaration; a different order is a different identity.
	h3 := HashFields(rec, []string{"turnover", "store", "payroll"})
	if h3 == h1 {
		t.Fatalf("field order participates in identity")
	}

	// Columns outside the list never affect the digest.
	rec["ignored"] = "different junk"
	if HashFields(rec, []string{"store", "turnover", "payroll"}) != h1 {
		t.Fatalf("undeclared columns must not affect the digest")
	}
}

func TestHashFields_MissingField(t *testing.T) {
	withEmpty := map[string]string{"a": "1", "b": ""}
	without := map[string]string{"a": "1"}

	// Missing and empty both encode to the NUL sentinel: a column the
	// source stopped exporting hashes the same as an exported blank.
	if HashFields(withEmpty, []string{"a", "b"}) != HashFields(without, []string{"a", "b"}) {
		t.Fatalf("missing field and empty field must hash identically")
	}
}

func TestHasEdgeSpace(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"abc", false},
		{" abc", true},
		{"abc ", true},
		{"\tabc", true},
		{"abc\r\n", true},
		{"a b", false},
	}
	for _, tc := range tests {
		if got := HasEdgeSpace(tc.in); got != tc.want {
			t.Fatalf("HasEdgeSpace(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
