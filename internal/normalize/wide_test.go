package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

func scorecardDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Type:   "scorecard",
		Family: schema.FamilyPeriodFact,
		Fields: []schema.Field{
			{Name: "week_ending", Aliases: []string{"Week Ending"}, Type: schema.FieldDate},
		},
		Pivot: &schema.PivotSpec{
			TimeField: "week_ending",
			Metrics:   []string{"revenue", "new_contracts"},
		},
	}
}

func newNormalizer() *Normalizer {
	return &Normalizer{
		Mapping: config.DefaultStoreMapping(),
		Cleaner: transformer.NewCleaner(nil),
	}
}

func factByStore(facts []storage.PeriodFact) map[string]storage.PeriodFact {
	out := make(map[string]storage.PeriodFact, len(facts))
	for _, f := range facts {
		out[f.StoreCode] = f
	}
	return out
}

func TestExpand_OneFactPerLocationGroup(t *testing.T) {
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":        "2025-06-15",
		"Revenue 3607":       "$10,000.00",
		"Revenue 6800":       "8500",
		"Revenue 8101":       "7200.50",
		"Revenue 728":        "3100",
		"new_contracts_3607": "12",
		"new_contracts_6800": "9",
		"new_contracts_8101": "7",
		"new_contracts_728":  "4",
	}

	facts, warns, err := n.Expand(2, payload, scorecardDescriptor(), "batch-1")
	if err != nil {
		t.Fatalf("Expand() err=%v, want nil", err)
	}
	if len(warns) != 0 {
		t.Fatalf("warnings=%v, want none", warns)
	}
	if len(facts) != 4 {
		t.Fatalf("facts=%d, want 4 (one per store)", len(facts))
	}

	byStore := factByStore(facts)
	f, ok := byStore["3607"]
	if !ok {
		t.Fatalf("missing fact for store 3607: %v", facts)
	}
	if !f.PeriodStart.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period=%v, want 2025-06-15", f.PeriodStart)
	}
	if !f.Metrics["revenue"].Equal(decimal.RequireFromString("10000.00")) {
		t.Fatalf("revenue=%s, want 10000.00", f.Metrics["revenue"])
	}
	if !f.Metrics["new_contracts"].Equal(decimal.RequireFromString("12")) {
		t.Fatalf("new_contracts=%s, want 12", f.Metrics["new_contracts"])
	}
	if f.BatchID != "batch-1" || f.SourceType != "scorecard" {
		t.Fatalf("fact metadata=%+v", f)
	}

	// Row hashes identify (period, store, cells); they must differ
	// across stores within one input row.
	seen := map[string]bool{}
	for _, f := range facts {
		if f.RowHash == "" || seen[f.RowHash] {
			t.Fatalf("row hashes must be unique per store: %v", facts)
		}
		seen[f.RowHash] = true
	}
}

func TestExpand_LocationNameVariants(t *testing.T) {
	// Scorecard headers spell stores by name; the mapping collapses them
	// onto the same codes the POS uses.
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":     "2025-06-15",
		"Revenue Wayzata": "100",
		"Revenue Fridley": "200",
	}

	facts, _, err := n.Expand(1, payload, scorecardDescriptor(), "b")
	if err != nil {
		t.Fatalf("Expand() err=%v, want nil", err)
	}
	byStore := factByStore(facts)
	if _, ok := byStore["3607"]; !ok {
		t.Fatalf("Wayzata should map to 3607: %v", facts)
	}
	if _, ok := byStore["8101"]; !ok {
		t.Fatalf("Fridley should map to 8101: %v", facts)
	}
}

func TestExpand_UnmappedStoreBucket(t *testing.T) {
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":  "2025-06-15",
		"Revenue 9999": "500",
	}

	facts, warns, err := n.Expand(5, payload, scorecardDescriptor(), "b")
	if err != nil {
		t.Fatalf("Expand() err=%v, want nil", err)
	}
	if len(facts) != 1 || facts[0].StoreCode != UnmappedStore {
		t.Fatalf("facts=%v, want one fact in %q", facts, UnmappedStore)
	}
	if len(warns) != 1 || warns[0].Reason != "unmapped location code" {
		t.Fatalf("warnings=%v, want one unmapped-location warning", warns)
	}
	if !facts[0].Metrics["revenue"].Equal(decimal.RequireFromString("500")) {
		t.Fatalf("revenue=%v, want 500", facts[0].Metrics)
	}
}

func TestExpand_UndeclaredColumnIgnored(t *testing.T) {
	// A column that is neither a known store nor a declared metric group
	// is not pivot data; it stays in the staged payload only.
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":   "2025-06-15",
		"Revenue 3607":  "100",
		"entered_by_jd": "yes",
	}

	facts, warns, err := n.Expand(1, payload, scorecardDescriptor(), "b")
	if err != nil {
		t.Fatalf("Expand() err=%v, want nil", err)
	}
	if len(facts) != 1 || len(warns) != 0 {
		t.Fatalf("facts=%v warns=%v, want one fact and no warnings", facts, warns)
	}
}

func TestExpand_EmptyGroupSkipped(t *testing.T) {
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":        "2025-06-15",
		"Revenue 3607":       "100",
		"Revenue 6800":       "",
		"new_contracts_6800": "  ",
	}

	facts, warns, err := n.Expand(1, payload, scorecardDescriptor(), "b")
	if err != nil {
		t.Fatalf("Expand() err=%v, want nil", err)
	}
	if len(warns) != 0 {
		t.Fatalf("warnings=%v, want none", warns)
	}
	if len(facts) != 1 || facts[0].StoreCode != "3607" {
		t.Fatalf("facts=%v, want only store 3607", facts)
	}
}

func TestExpand_BadCellWarnsGroupStillEmitted(t *testing.T) {
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":        "2025-06-15",
		"Revenue 3607":       "garbage",
		"new_contracts_3607": "5",
	}

	facts, warns, err := n.Expand(9, payload, scorecardDescriptor(), "b")
	if err != nil {
		t.Fatalf("Expand() err=%v, want nil", err)
	}
	if len(facts) != 1 {
		t.Fatalf("facts=%d, want 1", len(facts))
	}
	if len(warns) != 1 || warns[0].Value != "garbage" {
		t.Fatalf("warnings=%v, want one bad-cell warning", warns)
	}
	f := facts[0]
	if _, ok := f.Metrics["revenue"]; ok {
		t.Fatalf("failed metric must be absent, got %v", f.Metrics)
	}
	if !f.Metrics["new_contracts"].Equal(decimal.RequireFromString("5")) {
		t.Fatalf("new_contracts=%v, want 5", f.Metrics)
	}
}

func TestExpand_TimeKeyFailsRow(t *testing.T) {
	n := newNormalizer()

	for name, payload := range map[string]map[string]string{
		"missing":     {"Revenue 3607": "100"},
		"empty":       {"Week Ending": "", "Revenue 3607": "100"},
		"unparseable": {"Week Ending": "not a date", "Revenue 3607": "100"},
	} {
		_, _, err := n.Expand(1, payload, scorecardDescriptor(), "b")
		if !errors.Is(err, transformer.ErrRequiredKey) {
			t.Fatalf("%s time key: err=%v, want ErrRequiredKey", name, err)
		}
	}
}

func TestExpand_NotPivoted(t *testing.T) {
	n := newNormalizer()
	d := &schema.Descriptor{Type: "equipment"}
	if _, _, err := n.Expand(1, map[string]string{}, d, "b"); err == nil {
		t.Fatalf("expected error for non-pivoted source")
	}
}

func TestRecordFromRow(t *testing.T) {
	d := &schema.Descriptor{
		Type: "t",
		Fields: []schema.Field{
			{Name: "item_num", Aliases: []string{"ItemNum"}},
			{Name: "name", Aliases: []string{"Common Name"}},
		},
	}
	header := []string{"ItemNum", "Common Name", "Extra Col"}
	row := &transformer.Row{V: []string{"63099", "LADDER", "x"}}

	rec := RecordFromRow(header, row, d)
	if rec["item_num"] != "63099" || rec["name"] != "LADDER" {
		t.Fatalf("rec=%v", rec)
	}
	if _, ok := rec["extra_col"]; ok {
		t.Fatalf("undeclared column leaked into record: %v", rec)
	}
}

func TestPayload_KeepsEveryColumn(t *testing.T) {
	header := []string{"A", "B", "C"}
	row := &transformer.Row{V: []string{"1", "2"}}

	p := Payload(header, row)
	want := map[string]string{"A": "1", "B": "2", "C": ""}
	for k, v := range want {
		if p[k] != v {
			t.Fatalf("Payload[%s]=%q, want %q", k, p[k], v)
		}
	}
}

func TestExpand_RowHashStability(t *testing.T) {
	n := newNormalizer()
	payload := map[string]string{
		"Week Ending":  "2025-06-15",
		"Revenue 3607": "100",
	}

	first, _, err := n.Expand(2, payload, scorecardDescriptor(), "b1")
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	again, _, err := n.Expand(9, payload, scorecardDescriptor(), "b2")
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	if len(first) != 1 || len(again) != 1 {
		t.Fatalf("facts=%d/%d, want 1 each", len(first), len(again))
	}
	// Re-importing the same cells must reproduce the hash regardless of
	// line number or batch, or fact dedupe breaks.
	if first[0].RowHash != again[0].RowHash {
		t.Fatalf("same cells hashed differently: %s vs %s", first[0].RowHash, again[0].RowHash)
	}

	shifted := map[string]string{
		"Week Ending":  "2025-06-22",
		"Revenue 3607": "100",
	}
	moved, _, err := n.Expand(2, shifted, scorecardDescriptor(), "b1")
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	if moved[0].RowHash == first[0].RowHash {
		t.Fatalf("period change must change the row hash")
	}

	changed := map[string]string{
		"Week Ending":  "2025-06-15",
		"Revenue 3607": "150",
	}
	bumped, _, err := n.Expand(2, changed, scorecardDescriptor(), "b1")
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	if bumped[0].RowHash == first[0].RowHash {
		t.Fatalf("metric change must change the row hash")
	}
}
