// Package schema declares the source-type descriptors that drive ingestion.
//
// Each source type (a POS or RFID export family) is described by data, not
// control flow: a Descriptor lists the canonical fields, the header
// spellings that map onto them, their types, and the natural key. Adding a
// new export format means registering a descriptor, not writing a parser
// branch.
package schema

import (
	"fmt"
	"strings"
	"sync"
)

// SourceType identifies a declared export family.
type SourceType string

const (
	SourceEquipment   SourceType = "equipment"
	SourceCustomer    SourceType = "customer"
	SourceTransaction SourceType = "transaction"
	SourceLineItem    SourceType = "line_item"
	SourceScorecard   SourceType = "scorecard"
	SourcePayroll     SourceType = "payroll"
	SourcePNL         SourceType = "pnl"
)

// FieldType selects the cleaning rule applied to a canonical field.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldMoney  FieldType = "money"
	FieldDate   FieldType = "date"
	FieldBool   FieldType = "bool"
)

// Field is one canonical column of a source type.
type Field struct {
	// Name is the canonical field name used downstream.
	Name string `json:"name"`
	// Aliases are raw header spellings that map to this field, matched
	// after lowercasing and space->underscore folding.
	Aliases []string `json:"aliases,omitempty"`
	// Type selects the cleaner conversion. Default FieldText.
	Type FieldType `json:"type,omitempty"`
}

// Family says which committed business table a source type feeds.
type Family string

const (
	FamilyEquipment  Family = "equipment"
	FamilyInventory  Family = "inventory_item"
	FamilyPeriodFact Family = "period_fact"
	FamilyStaging    Family = "staging_only"
)

// PivotSpec marks a source as wide/pivoted: one input row carries one
// metric group per location code, spread across `<metric>_<loc>` columns.
type PivotSpec struct {
	// TimeField is the canonical field holding the period key (a date).
	TimeField string `json:"time_field"`
	// Metrics are the canonical metric names expected inside each group.
	// Columns whose metric part is not listed are still expanded; the list
	// exists for reporting, not filtering.
	Metrics []string `json:"metrics,omitempty"`
}

// Descriptor is the declared shape of one source type.
type Descriptor struct {
	Type       SourceType `json:"type"`
	Family     Family     `json:"family"`
	NaturalKey string     `json:"natural_key,omitempty"`
	Fields     []Field    `json:"fields"`
	Pivot      *PivotSpec `json:"pivot,omitempty"`
}

// CanonicalizeHeader folds a raw header cell to the form alias matching
// uses: trimmed, lowercased, spaces and dashes to underscores.
func CanonicalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	h = strings.ToLower(h)
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// FieldFor maps a raw header cell to its canonical field, if declared.
func (d *Descriptor) FieldFor(header string) (Field, bool) {
	c := CanonicalizeHeader(header)
	for _, f := range d.Fields {
		if f.Name == c {
			return f, true
		}
		for _, a := range f.Aliases {
			if CanonicalizeHeader(a) == c {
				return f, true
			}
		}
	}
	return Field{}, false
}

// ExpectedColumns returns every header spelling the descriptor knows,
// canonicalized. Used for the schema-mismatch overlap check.
func (d *Descriptor) ExpectedColumns() map[string]struct{} {
	out := make(map[string]struct{}, len(d.Fields)*2)
	for _, f := range d.Fields {
		out[f.Name] = struct{}{}
		for _, a := range f.Aliases {
			out[CanonicalizeHeader(a)] = struct{}{}
		}
	}
	return out
}

// HeaderOverlap counts how many header cells the descriptor recognizes.
// Pivoted sources also count `<metric>_<loc>` columns whose metric part
// is a declared metric name.
func (d *Descriptor) HeaderOverlap(header []string) int {
	expected := d.ExpectedColumns()
	n := 0
	for _, h := range header {
		c := CanonicalizeHeader(h)
		if _, ok := expected[c]; ok {
			n++
			continue
		}
		if d.Pivot != nil {
			for _, m := range d.Pivot.Metrics {
				if strings.HasPrefix(c, m+"_") {
					n++
					break
				}
			}
		}
	}
	return n
}

// ---- registry (descriptors are plug-ins, mirroring storage backends) ----

var (
	regMu       sync.RWMutex
	descriptors = map[SourceType]*Descriptor{}
)

// Register adds a descriptor to the registry.
//
// Panics:
//   - If d is nil or d.Type is empty.
//   - If the type is already registered. Double registration means two
//     packages disagree about a source's shape; fail fast.
func Register(d *Descriptor) {
	regMu.Lock()
	defer regMu.Unlock()

	if d == nil || d.Type == "" {
		panic("schema: Register called with nil or untyped descriptor")
	}
	if _, exists := descriptors[d.Type]; exists {
		panic(fmt.Sprintf("schema: descriptor already registered for type=%q", d.Type))
	}
	descriptors[d.Type] = d
}

// Lookup returns the descriptor for a source type.
func Lookup(t SourceType) (*Descriptor, error) {
	regMu.RLock()
	d := descriptors[t]
	regMu.RUnlock()

	if d == nil {
		return nil, fmt.Errorf("schema: unknown source type %q", t)
	}
	return d, nil
}

// Types returns every registered source type. Order is unspecified.
func Types() []SourceType {
	regMu.RLock()
	defer regMu.RUnlock()

	out := make([]SourceType, 0, len(descriptors))
	for t := range descriptors {
		out = append(out, t)
	}
	return out
}
