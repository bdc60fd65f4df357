package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
)

// Config is the minimal configuration needed to create a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Sides of the correlation for ListUncorrelated.
const (
	SideEquipment = "equipment"
	SideItems     = "items"
)

// Lock keys used by the engine. Ingestion locks are per source type;
// resolution is single-flight.
func IngestLockKey(st schema.SourceType) string { return "ingest:" + string(st) }

const ResolveLockKey = "resolve"

// Repository is a backend-agnostic interface over the reconciliation
// engine's persisted state: staging tables, business tables, period
// facts and correlations.
//
// IMPORTANT: This interface is intentionally minimal and focused on what
// the engine needs. Each backend implements the semantics in its own
// idiomatic way (Postgres ON CONFLICT, SQLite OR IGNORE, SQL Server
// MERGE-free NOT EXISTS inserts).
//
// Write classification (inserted vs updated vs duplicate) is the
// engine's job: it reads existing payload hashes per chunk via
// SelectEquipmentHashes/SelectItemHashes and routes rows to Insert or
// Update. Backends stay dumb and the counts stay exact on every backend.
type Repository interface {
	// Close releases backend resources. Treat as "call once".
	Close()

	// EnsureSchema creates all tables as needed, including one raw
	// staging table per registered source type. Idempotent.
	EnsureSchema(ctx context.Context, sourceTypes []schema.SourceType) error

	// TryLock acquires the named advisory lock without blocking.
	//
	// Errors:
	//   - ErrLockHeld when another job holds it; safe to retry later.
	//
	// The returned release func must be called exactly once, with a
	// context that is still live at release time.
	TryLock(ctx context.Context, key string) (func(context.Context) error, error)

	// ---- batches + raw staging ----

	CreateSourceFile(ctx context.Context, sf *SourceFile) error
	// FinalizeSourceFile records the terminal status and counts. A batch
	// row is written exactly twice: once at start, once here.
	FinalizeSourceFile(ctx context.Context, sf *SourceFile) error
	ListSourceFiles(ctx context.Context, limit int) ([]SourceFile, error)

	InsertRawRecords(ctx context.Context, st schema.SourceType, recs []RawRecord) (int64, error)
	// PurgeRawRecords deletes staged rows older than the cutoff. This is
	// the only path that ever deletes raw data.
	PurgeRawRecords(ctx context.Context, st schema.SourceType, before time.Time) (int64, error)

	// ---- business tables ----

	SelectEquipmentHashes(ctx context.Context, keys []string) (map[string]string, error)
	InsertEquipment(ctx context.Context, rows []Equipment) error
	UpdateEquipment(ctx context.Context, rows []Equipment) error
	ListEquipment(ctx context.Context) ([]Equipment, error)

	SelectItemHashes(ctx context.Context, keys []string) (map[string]string, error)
	InsertInventoryItems(ctx context.Context, rows []InventoryItem) error
	UpdateInventoryItems(ctx context.Context, rows []InventoryItem) error
	ListInventoryItems(ctx context.Context) ([]InventoryItem, error)

	// InsertPeriodFacts appends facts idempotently (dedupe on source
	// type, period, store and row hash) and returns how many were
	// actually new.
	InsertPeriodFacts(ctx context.Context, rows []PeriodFact) (int64, error)

	// ---- correlations ----

	ListCorrelations(ctx context.Context) ([]CorrelationRecord, error)
	// UpsertCorrelations writes by (item_num, rental_class_num) pair key:
	// new pairs insert, existing pairs update confidence/tag count and
	// bump updated_at.
	UpsertCorrelations(ctx context.Context, rows []CorrelationRecord) error

	// ---- query interface (§ read-only collaborators) ----

	// GetCorrelationByEquipment returns the correlation for an equipment
	// key with Orphaned computed, or ErrNotFound.
	GetCorrelationByEquipment(ctx context.Context, itemNum string) (*CorrelationRecord, error)
	// ListUncorrelated returns natural keys on the given side
	// (SideEquipment or SideItems) with no correlation.
	ListUncorrelated(ctx context.Context, side string) ([]string, error)
	QualityReport(ctx context.Context) (*QualityReport, error)
}

// RawTableName returns the staging table for a source type, one table per
// type so vendor schema drift stays isolated.
func RawTableName(st schema.SourceType) string {
	return "raw_" + string(st)
}

// ---- backend factories (plug-in registry) ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	facMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
//     Double registration means ambiguous backend selection; fail fast.
func Register(kind string, f factory) {
	facMu.Lock()
	defer facMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever error the registered factory returns.
//
// Concurrency:
//   - Safe for concurrent use with Register; New takes a read lock while
//     selecting the factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	facMu.RLock()
	f := factories[cfg.Kind]
	facMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
