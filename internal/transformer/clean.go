package transformer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

// Record holds one input row keyed by canonical field name, values still
// verbatim text. Columns the descriptor does not declare are absent here;
// they live only in the staged payload.
type Record map[string]string

// FieldWarning records a value that failed its declared type conversion.
// The field is nulled and the row is kept; warnings are counted per batch.
type FieldWarning struct {
	Line   int
	Field  string
	Value  string
	Reason string
}

// ErrRequiredKey marks a row whose natural key is missing or unparseable.
// The row is skipped; the batch continues.
var ErrRequiredKey = errors.New("required key field missing or unparseable")

// Cleaner converts verbatim text values into typed values per the source
// descriptor. It never aborts a batch on a bad field: failed conversions
// null the field and emit a FieldWarning. The only per-row failure is a
// bad natural key.
type Cleaner struct {
	// DateFormats is the ordered probe list; first successful parse wins.
	DateFormats []string
}

// defaultDateFormats covers the shapes seen across POS and RFID exports.
// Order matters: ISO first, then US forms with and without time.
var defaultDateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/06",
	"1/2/06",
	"Jan 2, 2006",
	"2006/01/02",
}

// NewCleaner returns a Cleaner using the given date formats, or the
// default probe list when formats is empty.
func NewCleaner(formats []string) *Cleaner {
	if len(formats) == 0 {
		formats = defaultDateFormats
	}
	return &Cleaner{DateFormats: formats}
}

// Clean converts rec's declared fields to typed values.
//
// Returns:
//   - the typed record (nil-valued entries for nulled fields)
//   - field-level warnings, one per failed conversion
//   - ErrRequiredKey (wrapped) when the descriptor's natural key is
//     missing or fails to parse; callers skip the row and keep going.
func (c *Cleaner) Clean(line int, rec Record, d *schema.Descriptor) (map[string]any, []FieldWarning, error) {
	out := make(map[string]any, len(d.Fields))
	var warns []FieldWarning

	for _, f := range d.Fields {
		raw, ok := rec[f.Name]
		raw = strings.TrimSpace(raw)

		if !ok || raw == "" {
			out[f.Name] = nil
			if f.Name == d.NaturalKey {
				return nil, warns, fmt.Errorf("row %d field %s: %w", line, f.Name, ErrRequiredKey)
			}
			continue
		}

		v, err := c.Value(f.Type, raw)
		if err != nil {
			if f.Name == d.NaturalKey {
				return nil, warns, fmt.Errorf("row %d field %s=%q: %w", line, f.Name, raw, ErrRequiredKey)
			}
			out[f.Name] = nil
			warns = append(warns, FieldWarning{Line: line, Field: f.Name, Value: raw, Reason: err.Error()})
			continue
		}
		out[f.Name] = v
	}

	return out, warns, nil
}

// Value converts a single non-empty value per field type.
func (c *Cleaner) Value(ft schema.FieldType, raw string) (any, error) {
	switch ft {
	case schema.FieldNumber, schema.FieldMoney:
		return parseDecimal(raw)
	case schema.FieldDate:
		return c.parseDate(raw)
	case schema.FieldBool:
		return parseBool(raw)
	default:
		return raw, nil
	}
}

// parseDecimal handles locale-formatted numbers and currency: thousands
// separators, currency symbols, percent signs, and accounting-style
// parenthesized negatives.
func parseDecimal(raw string) (decimal.Decimal, error) {
	s := raw
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func (c *Cleaner) parseDate(raw string) (time.Time, error) {
	for _, layout := range c.DateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

// Boolean-like fields map through explicit token tables, not generic
// casting: POS exports mark flags with anything from "1" to "X".
var (
	truthyTokens = map[string]struct{}{
		"1": {}, "y": {}, "yes": {}, "t": {}, "true": {}, "x": {},
	}
	falsyTokens = map[string]struct{}{
		"0": {}, "n": {}, "no": {}, "f": {}, "false": {},
	}
)

func parseBool(raw string) (bool, error) {
	tok := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := truthyTokens[tok]; ok {
		return true, nil
	}
	if _, ok := falsyTokens[tok]; ok {
		return false, nil
	}
	return false, fmt.Errorf("unrecognized boolean token")
}
