package schema

import (
	"strings"
)

// NormalizeNaturalKey canonicalizes a natural key for upsert identity.
//
// POS exports routinely round-trip item numbers through spreadsheet
// software, which turns "63099" into "63099.0". That artifact is stripped
// here so re-imports of the same catalog hit the same business record.
// Leading zeros are preserved: "0123" and "123" are different keys at the
// upsert layer (numeric equivalence is a resolver concern, not an
// identity concern).
func NormalizeNaturalKey(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if frac != "" && strings.Trim(frac, "0") == "" && isDigits(s[:i]) {
			s = s[:i]
		}
	}
	return s
}

// NumericKey parses a key as a non-negative integer, tolerating the same
// spreadsheet artifacts NormalizeNaturalKey strips plus leading zeros.
// Returns false for empty, signed, or non-numeric keys.
func NumericKey(s string) (int64, bool) {
	s = NormalizeNaturalKey(s)
	if !isDigits(s) {
		return 0, false
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		// all zeros is still the number 0
		return 0, true
	}
	var n int64
	for i := 0; i < len(s); i++ {
		d := int64(s[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
