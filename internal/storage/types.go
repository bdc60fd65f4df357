// Row types shared by the ingestion engine, the resolver and every
// storage backend. These need to live where both engine and backend
// packages can import them without circular deps.
package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

// Batch status values recorded on SourceFile.
const (
	BatchRunning = "running"
	BatchOK      = "ok"
	BatchPartial = "partial"
	BatchFailed  = "failed"
)

// Raw record import status values.
const (
	RawPending   = "pending"
	RawProcessed = "processed"
	RawError     = "error"
)

// SourceFile is the provenance record for one ingested file. Created when
// ingestion starts, finalized once, never mutated afterwards; a re-import
// of the same file produces a new batch that supersedes it.
type SourceFile struct {
	BatchID     string
	SourceType  schema.SourceType
	FileName    string
	RowsRead    int64
	RowsStaged  int64
	Status      string
	StartedAt   time.Time
	CommittedAt time.Time
}

// RawRecord is one staged input row: every original column verbatim, as
// untyped text keyed by source header. Owned by its SourceFile; removed
// only by the retention policy.
type RawRecord struct {
	BatchID      string
	Line         int
	ImportStatus string
	Payload      map[string]string
}

// Equipment is the cleaned POS catalog record, keyed by the POS item
// number (natural key, spreadsheet ".0" artifact already stripped).
type Equipment struct {
	ItemNum     string
	Name        string
	Category    string
	Department  string
	StoreCode   string
	QtyOwned    int64
	SellPrice   decimal.Decimal
	TurnoverYTD decimal.Decimal
	Inactive    bool
	PayloadHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InventoryItem is the cleaned RFID-side record, keyed by rental class
// number. TagCount is the number of RFID tags observed for the class at
// import time.
type InventoryItem struct {
	RentalClassNum string
	CommonName     string
	Location       string
	Quantity       int64
	TagCount       int64
	LastScanned    time.Time
	PayloadHash    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Correlation match types, in tier order.
const (
	MatchExact      = "exact_match"
	MatchNormalized = "normalized_match"
	MatchNameSim    = "name_similarity"
)

// CorrelationRecord links one equipment natural key to one rental class.
// At most one active record exists per (ItemNum, RentalClassNum) pair;
// re-resolution updates Confidence/TagCount in place.
//
// Orphaned is computed at query time by checking the referenced keys
// against the current business tables. It is never persisted: an orphaned
// correlation stays in storage as audit trail.
type CorrelationRecord struct {
	ID             int64
	ItemNum        string
	RentalClassNum string
	NormalizedKey  string
	MatchType      string
	Confidence     int
	TagCount       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Orphaned bool
}

// PeriodFact is one (period, store, metric set) row produced by
// wide-to-long expansion of a pivoted source. Immutable once committed;
// corrections arrive as new rows with later ImportedAt.
type PeriodFact struct {
	ID          int64
	SourceType  schema.SourceType
	PeriodStart time.Time
	StoreCode   string
	Metrics     map[string]decimal.Decimal
	RowHash     string
	BatchID     string
	ImportedAt  time.Time
}

// UpsertResult reports what an idempotent batch write actually did.
type UpsertResult struct {
	Inserted         int64
	Updated          int64
	SkippedDuplicate int64
}

// Add accumulates chunk results into a batch total.
func (u *UpsertResult) Add(o UpsertResult) {
	u.Inserted += o.Inserted
	u.Updated += o.Updated
	u.SkippedDuplicate += o.SkippedDuplicate
}

// QualityReport summarizes correlation coverage for data-quality
// dashboards.
type QualityReport struct {
	TotalCorrelations int64
	TotalEquipment    int64
	TotalItems        int64
	CorrelatedPct     float64
	OrphanedCount     int64
	ByConfidenceTier  map[string]int64
}
