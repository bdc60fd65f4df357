package correlate

import (
	"strings"
	"unicode"
)

// NameMatcher decides whether two display names refer to the same thing.
// It is the pluggable tier-3 strategy: the tiering state machine never
// changes when a stricter comparator (edit distance, phonetic) replaces
// the baseline.
type NameMatcher interface {
	// Match reports whether equipmentName and itemName are similar
	// enough to correlate.
	Match(equipmentName, itemName string) bool
}

// TokenPrefixMatcher is the baseline comparator: case-insensitive
// equality of the leading N normalized tokens. With the default two
// tokens, "Round Linen 90in" does not match "Linen Round 90 White" (the
// leading phrase differs) but "Round Linen 90in" matches
// "round linen 120in ivory".
type TokenPrefixMatcher struct {
	// Tokens is the leading-token count compared. Values < 1 mean 2.
	Tokens int
}

func (m TokenPrefixMatcher) Match(equipmentName, itemName string) bool {
	n := m.Tokens
	if n < 1 {
		n = 2
	}

	a := tokenize(equipmentName)
	b := tokenize(itemName)
	if len(a) < n || len(b) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tokenize lowercases and splits on anything non-alphanumeric, so
// "ROUND-LINEN (90in)" and "round linen 90in" produce the same tokens.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
