// Package probe implements dataset sampling and descriptor inference.
//
// When a vendor ships a new export type there is no registered source
// descriptor for it yet. Probe reads a bounded sample of the file,
// infers column names and field types, guesses the natural key and
// emits a starter schema.Descriptor the operator can refine and
// register.
//
// Design constraints:
//   - Sampling is bounded in memory (MaxBytes, distinct-count caps).
//   - All inference is best-effort and never fails the probe run; only
//     I/O and unreadable headers are errors.
package probe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

// Options control sampling and inference.
type Options struct {
	// Path of the local file to sample.
	Path string
	// MaxBytes sampled from the start of the file. Default 64 KiB.
	MaxBytes int
	// Delimiter for delimited files. Default ','.
	Delimiter rune
	// Name becomes the suggested source type name (normalized).
	Name string
}

// Report is the probe output: a starter descriptor plus the per-column
// evidence that produced it.
type Report struct {
	Descriptor schema.Descriptor `json:"descriptor"`
	Columns    []ColumnStat      `json:"columns"`
	SampleRows int               `json:"sample_rows"`
}

// ColumnStat summarizes one sampled column.
type ColumnStat struct {
	Header     string           `json:"header"`
	Normalized string           `json:"normalized"`
	Type       schema.FieldType `json:"type"`
	// Distinct is the bounded distinct-value count; Values is the number
	// of rows where the column had a non-empty value.
	Distinct int  `json:"distinct"`
	Values   int  `json:"values"`
	Capped   bool `json:"capped,omitempty"`
}

// Probe samples the file and infers a starter descriptor.
func Probe(opt Options) (*Report, error) {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = 64 * 1024
	}
	if opt.Delimiter == 0 {
		opt.Delimiter = ','
	}
	if strings.TrimSpace(opt.Name) == "" {
		opt.Name = baseName(opt.Path)
	}

	sample, err := readSample(opt.Path, opt.MaxBytes)
	if err != nil {
		return nil, err
	}

	// Cut at the last newline so a half-read trailing record can never
	// skew inference.
	if i := bytes.LastIndexByte(sample, '\n'); i > 0 {
		sample = sample[:i+1]
	}

	headers, rows, err := readDelimitedSample(sample, opt.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("parse sample: %w", err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("probe %s: no header row in sample", opt.Path)
	}

	types := inferTypes(headers, rows)
	stats := computeUniqueness(headers, rows)

	name := normalizeName(opt.Name)
	d := schema.Descriptor{
		Type:       schema.SourceType(name),
		Family:     schema.FamilyStaging,
		NaturalKey: suggestNaturalKey(headers, types, stats),
	}

	cols := make([]ColumnStat, 0, len(headers))
	for i, h := range headers {
		norm := normalizeName(h)
		d.Fields = append(d.Fields, schema.Field{
			Name: norm,
			Type: types[i],
		})
		cols = append(cols, ColumnStat{
			Header:     h,
			Normalized: norm,
			Type:       types[i],
			Distinct:   stats.distinct[i],
			Values:     stats.values[i],
			Capped:     stats.capped[i],
		})
	}

	return &Report{Descriptor: d, Columns: cols, SampleRows: len(rows)}, nil
}

// Summary renders a human-readable per-column table sorted by
// descending uniqueness.
func (r *Report) Summary() string {
	rows := append([]ColumnStat(nil), r.Columns...)
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := ratio(rows[i]), ratio(rows[j])
		if ri == rj {
			return rows[i].Normalized < rows[j].Normalized
		}
		return ri > rj
	})

	var b strings.Builder
	fmt.Fprintf(&b, "sampled_rows=%d suggested_key=%s\n", r.SampleRows, r.Descriptor.NaturalKey)
	fmt.Fprintf(&b, "%-24s %-8s %8s %8s\n", "column", "type", "distinct", "rows")
	for _, c := range rows {
		fmt.Fprintf(&b, "%-24s %-8s %8d %8d\n", c.Normalized, c.Type, c.Distinct, c.Values)
	}
	return strings.TrimRight(b.String(), "\n")
}

func ratio(c ColumnStat) float64 {
	if c.Values == 0 {
		return 0
	}
	return float64(c.Distinct) / float64(c.Values)
}

func readSample(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

func baseName(path string) string {
	b := path
	if i := strings.LastIndexAny(b, `/\`); i >= 0 {
		b = b[i+1:]
	}
	if i := strings.IndexByte(b, '.'); i > 0 {
		b = b[:i]
	}
	return b
}

// normalizeName converts arbitrary input into a lowercase identifier
// safe for source-type and column names.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}
	return strings.Trim(b.String(), "_")
}
