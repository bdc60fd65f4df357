// Package normalize turns raw input rows into canonical records.
//
// Flat sources are a pass-through with header->canonical renaming. Pivoted
// sources ("wide" layouts, one metric group per store spread across
// `<metric>_<location>` columns) are expanded into one PeriodFact per
// (time key, location) present in the row.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
	"github.com/sandahltim/RFID3-sub003/internal/transformer/builtin"
)

// UnmappedStore is the bucket for location codes the mapping does not
// know. Rows land here rather than being dropped, so a new store showing
// up in a scorecard is visible instead of silently missing.
const UnmappedStore = "unmapped"

// Payload builds the verbatim header->value map staged for one row.
// Every column is kept, including ones no descriptor declares.
func Payload(header []string, row *transformer.Row) map[string]string {
	p := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(row.V) {
			p[h] = row.V[i]
		} else {
			p[h] = ""
		}
	}
	return p
}

// RecordFromRow maps a raw positional row onto canonical field names via
// the descriptor's aliases. Undeclared columns are left out (they are
// staged verbatim, not lost).
func RecordFromRow(header []string, row *transformer.Row, d *schema.Descriptor) transformer.Record {
	rec := make(transformer.Record, len(d.Fields))
	for i, h := range header {
		if i >= len(row.V) {
			break
		}
		if f, ok := d.FieldFor(h); ok {
			// first declared spelling wins on duplicate headers
			if _, dup := rec[f.Name]; !dup {
				rec[f.Name] = row.V[i]
			}
		}
	}
	return rec
}

// Normalizer expands pivoted rows. The store mapping is an explicit value
// handed in by the caller, never package state.
type Normalizer struct {
	Mapping config.StoreMapping
	Cleaner *transformer.Cleaner
}

// Expand converts one wide row into PeriodFacts, one per location group
// with at least one non-empty metric value.
//
// Rules:
//   - A column splits into (metric, location) at its last underscore.
//     Declared flat fields are never treated as groups.
//   - Location spelling variants collapse through the store mapping;
//     unknown codes go to the UnmappedStore bucket with a warning.
//   - A location group is skipped only when every metric cell is empty
//     ("no data for this store this week"); a group with any value
//     present is emitted even if other cells fail to parse.
//   - An unparseable time key fails the row (it is the fact's natural
//     key); the batch continues.
func (n *Normalizer) Expand(line int, payload map[string]string, d *schema.Descriptor, batchID string) ([]storage.PeriodFact, []transformer.FieldWarning, error) {
	if d.Pivot == nil {
		return nil, nil, fmt.Errorf("source type %s is not pivoted", d.Type)
	}

	period, err := n.timeKey(payload, d)
	if err != nil {
		return nil, nil, fmt.Errorf("row %d: %w", line, err)
	}

	var warns []transformer.FieldWarning

	// location -> metric -> raw value
	groups := map[string]map[string]string{}
	// location -> raw cells for the row hash, in payload spelling
	groupRaw := map[string]map[string]string{}

	for h, v := range payload {
		if _, declared := d.FieldFor(h); declared {
			continue
		}
		c := schema.CanonicalizeHeader(h)
		cut := strings.LastIndexByte(c, '_')
		if cut <= 0 || cut == len(c)-1 {
			continue
		}
		metric, loc := c[:cut], c[cut+1:]

		store, known := n.Mapping.Canonicalize(loc)
		if !known {
			if !n.declaredMetric(d, metric) {
				// neither a known store nor a declared metric group
				continue
			}
			store = UnmappedStore
			warns = append(warns, transformer.FieldWarning{
				Line: line, Field: c, Value: loc,
				Reason: "unmapped location code",
			})
		}

		if groups[store] == nil {
			groups[store] = map[string]string{}
			groupRaw[store] = map[string]string{}
		}
		// case variants of the same (metric, store) collapse; keep the
		// first non-empty cell
		if prev, ok := groups[store][metric]; !ok || prev == "" {
			groups[store][metric] = v
		}
		groupRaw[store][metric] = v
	}

	var facts []storage.PeriodFact
	for store, metrics := range groups {
		if allEmpty(metrics) {
			continue
		}

		vals := make(map[string]decimal.Decimal, len(metrics))
		for metric, raw := range metrics {
			if raw == "" {
				continue
			}
			v, err := n.Cleaner.Value(schema.FieldMoney, raw)
			if err != nil {
				warns = append(warns, transformer.FieldWarning{
					Line: line, Field: metric, Value: raw, Reason: err.Error(),
				})
				continue
			}
			vals[metric] = v.(decimal.Decimal)
		}

		// Identity fields first, then the raw metric cells in sorted
		// order, so the digest is stable across column layouts.
		id := groupRaw[store]
		fields := make([]string, 0, len(id)+3)
		for m := range id {
			fields = append(fields, m)
		}
		sort.Strings(fields)
		fields = append([]string{"__source", "__period", "__store"}, fields...)
		id["__source"] = string(d.Type)
		id["__period"] = period.Format("2006-01-02")
		id["__store"] = store

		facts = append(facts, storage.PeriodFact{
			SourceType:  d.Type,
			PeriodStart: period,
			StoreCode:   store,
			Metrics:     vals,
			RowHash:     builtin.HashFields(id, fields),
			BatchID:     batchID,
		})
	}

	return facts, warns, nil
}

func (n *Normalizer) timeKey(payload map[string]string, d *schema.Descriptor) (time.Time, error) {
	for h, v := range payload {
		f, ok := d.FieldFor(h)
		if !ok || f.Name != d.Pivot.TimeField {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			break
		}
		t, err := n.Cleaner.Value(schema.FieldDate, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("time key %s=%q: %w", d.Pivot.TimeField, v, transformer.ErrRequiredKey)
		}
		return t.(time.Time), nil
	}
	return time.Time{}, fmt.Errorf("time key %s missing: %w", d.Pivot.TimeField, transformer.ErrRequiredKey)
}

func (n *Normalizer) declaredMetric(d *schema.Descriptor, metric string) bool {
	for _, m := range d.Pivot.Metrics {
		if m == metric {
			return true
		}
	}
	return false
}

func allEmpty(m map[string]string) bool {
	for _, v := range m {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
