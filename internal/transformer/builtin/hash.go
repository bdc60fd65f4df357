// Package builtin contains small, reusable helpers shared by the
// ingestion pipeline stages.
package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// sep is the canonical field separator (ASCII Unit Separator). An empty
// or missing value is encoded as a single NUL byte; neither byte occurs
// in text input, so cell boundaries never shift under concatenation.
const sep = "\x1f"

// PayloadHash computes a deterministic SHA-256 hex digest over every
// column of a record, in sorted key order.
//
// This is the dedupe/identity hash for staged and committed rows: two rows
// with the same natural key and the same PayloadHash are exact duplicates,
// same key with a different hash is an update. Hashing every column (not
// just the typed business fields) means schema drift in untracked columns
// still counts as a change, which is what "zero data loss" demands.
//
// Canonicalization rules:
//   - Keys are sorted, so column order in the source file is irrelevant.
//   - Each component is "key=value"; values are edge-trimmed.
//   - Output is a lowercase hex string (length 64).
func PayloadHash(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.Grow(len(keys) * 20)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(k)
		b.WriteByte('=')
		writeValue(&b, payload[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// HashFields computes the same digest over an explicit ordered field
// list; unlike PayloadHash, field order participates in identity. Fact
// rows use it with their identity fields pinned ahead of the metric
// columns. A field absent from rec hashes the same as an empty value.
func HashFields(rec map[string]string, fields []string) string {
	var b strings.Builder
	b.Grow(len(fields) * 20)
	for i, f := range fields {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(f)
		b.WriteByte('=')
		v, ok := rec[f]
		if !ok {
			b.WriteByte('\x00')
			continue
		}
		writeValue(&b, v)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeValue(b *strings.Builder, v string) {
	if v == "" {
		b.WriteByte('\x00')
		return
	}
	if HasEdgeSpace(v) {
		v = strings.TrimSpace(v)
	}
	b.WriteString(v)
}
