package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	ctx := context.Background()

	repo, err := New(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "recon.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(repo.Close)

	r := repo.(*Repo)
	if err := r.EnsureSchema(ctx, []schema.SourceType{schema.SourceEquipment}); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return r
}

func seedPair(t *testing.T, r *Repo, itemNum, classNum string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	err := r.InsertEquipment(ctx, []storage.Equipment{{
		ItemNum:     itemNum,
		Name:        "ROUND LINEN 90IN",
		SellPrice:   decimal.RequireFromString("45.00"),
		TurnoverYTD: decimal.Zero,
		PayloadHash: "h-equip-" + itemNum,
		CreatedAt:   now,
		UpdatedAt:   now,
	}})
	if err != nil {
		t.Fatalf("InsertEquipment: %v", err)
	}

	err = r.InsertInventoryItems(ctx, []storage.InventoryItem{{
		RentalClassNum: classNum,
		CommonName:     "round linen 90in",
		TagCount:       8,
		PayloadHash:    "h-item-" + classNum,
		CreatedAt:      now,
		UpdatedAt:      now,
	}})
	if err != nil {
		t.Fatalf("InsertInventoryItems: %v", err)
	}

	err = r.UpsertCorrelations(ctx, []storage.CorrelationRecord{{
		ItemNum:        itemNum,
		RentalClassNum: classNum,
		NormalizedKey:  itemNum,
		MatchType:      storage.MatchExact,
		Confidence:     100,
		TagCount:       8,
		CreatedAt:      now,
		UpdatedAt:      now,
	}})
	if err != nil {
		t.Fatalf("UpsertCorrelations: %v", err)
	}
}

func TestOrphanComputedAtQueryTime(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "63099", "63099")

	rep, err := r.QualityReport(ctx)
	if err != nil {
		t.Fatalf("QualityReport: %v", err)
	}
	if rep.OrphanedCount != 0 {
		t.Fatalf("OrphanedCount=%d before any deletion, want 0", rep.OrphanedCount)
	}

	c, err := r.GetCorrelationByEquipment(ctx, "63099")
	if err != nil {
		t.Fatalf("GetCorrelationByEquipment: %v", err)
	}
	if c.Orphaned {
		t.Fatalf("correlation reported orphaned while both sides exist")
	}

	// The referenced item disappears from a later import; the link row
	// must survive as audit trail but report orphaned.
	if _, err := r.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE rental_class_num = '63099'`); err != nil {
		t.Fatalf("delete item: %v", err)
	}

	rep, err = r.QualityReport(ctx)
	if err != nil {
		t.Fatalf("QualityReport: %v", err)
	}
	if rep.OrphanedCount != 1 {
		t.Fatalf("OrphanedCount=%d after deleting item, want 1", rep.OrphanedCount)
	}
	if rep.TotalCorrelations != 1 {
		t.Fatalf("TotalCorrelations=%d, want 1 (orphaned links are never deleted)", rep.TotalCorrelations)
	}

	c, err = r.GetCorrelationByEquipment(ctx, "63099")
	if err != nil {
		t.Fatalf("GetCorrelationByEquipment after deletion: %v", err)
	}
	if !c.Orphaned {
		t.Fatalf("correlation not reported orphaned after referenced item vanished")
	}
	if c.MatchType != storage.MatchExact || c.Confidence != 100 {
		t.Fatalf("orphaned link mutated: match=%s confidence=%d", c.MatchType, c.Confidence)
	}

	all, err := r.ListCorrelations(ctx)
	if err != nil {
		t.Fatalf("ListCorrelations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d correlation rows, want 1 still stored", len(all))
	}
}

func TestOrphanOnMissingEquipmentSide(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "63099", "63099")

	if _, err := r.db.ExecContext(ctx, `DELETE FROM equipment WHERE item_num = '63099'`); err != nil {
		t.Fatalf("delete equipment: %v", err)
	}

	c, err := r.GetCorrelationByEquipment(ctx, "63099")
	if err != nil {
		t.Fatalf("GetCorrelationByEquipment: %v", err)
	}
	if !c.Orphaned {
		t.Fatalf("missing equipment side must also orphan the link")
	}
}

func TestGetCorrelationByEquipment_NotFound(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.GetCorrelationByEquipment(context.Background(), "99999")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestUpsertCorrelations_PairKeyed(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "63099", "63099")

	// Re-resolving the same pair updates in place.
	now := time.Now().UTC()
	err := r.UpsertCorrelations(ctx, []storage.CorrelationRecord{{
		ItemNum:        "63099",
		RentalClassNum: "63099",
		NormalizedKey:  "63099",
		MatchType:      storage.MatchExact,
		Confidence:     100,
		TagCount:       12,
		CreatedAt:      now,
		UpdatedAt:      now,
	}})
	if err != nil {
		t.Fatalf("UpsertCorrelations: %v", err)
	}

	all, err := r.ListCorrelations(ctx)
	if err != nil {
		t.Fatalf("ListCorrelations: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d rows after re-upsert, want 1", len(all))
	}
	if all[0].TagCount != 12 {
		t.Fatalf("TagCount=%d, want refreshed 12", all[0].TagCount)
	}
}

func TestListUncorrelated(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedPair(t, r, "63099", "63099")

	now := time.Now().UTC()
	err := r.InsertEquipment(ctx, []storage.Equipment{{
		ItemNum:     "77777",
		Name:        "UNLINKED THING",
		SellPrice:   decimal.Zero,
		TurnoverYTD: decimal.Zero,
		PayloadHash: "h",
		CreatedAt:   now,
		UpdatedAt:   now,
	}})
	if err != nil {
		t.Fatalf("InsertEquipment: %v", err)
	}

	keys, err := r.ListUncorrelated(ctx, storage.SideEquipment)
	if err != nil {
		t.Fatalf("ListUncorrelated: %v", err)
	}
	if len(keys) != 1 || keys[0] != "77777" {
		t.Fatalf("uncorrelated equipment=%v, want [77777]", keys)
	}

	keys, err = r.ListUncorrelated(ctx, storage.SideItems)
	if err != nil {
		t.Fatalf("ListUncorrelated items: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("uncorrelated items=%v, want none", keys)
	}

	if _, err := r.ListUncorrelated(ctx, "bogus"); err == nil {
		t.Fatalf("expected error for unknown side")
	}
}

func TestTryLock_SingleHolder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	release, err := r.TryLock(ctx, storage.ResolveLockKey)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if _, err := r.TryLock(ctx, storage.ResolveLockKey); !errors.Is(err, storage.ErrLockHeld) {
		t.Fatalf("second TryLock err=%v, want ErrLockHeld", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	release2, err := r.TryLock(ctx, storage.ResolveLockKey)
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	_ = release2(ctx)
}

func TestSourceFileLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"b-old", "b-new"} {
		sf := &storage.SourceFile{
			BatchID:    id,
			SourceType: schema.SourceEquipment,
			FileName:   "equip.csv",
			Status:     storage.BatchRunning,
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
		}
		if err := r.CreateSourceFile(ctx, sf); err != nil {
			t.Fatalf("CreateSourceFile(%s): %v", id, err)
		}
		sf.RowsRead = 3
		sf.RowsStaged = 3
		sf.Status = storage.BatchOK
		sf.CommittedAt = sf.StartedAt.Add(time.Minute)
		if err := r.FinalizeSourceFile(ctx, sf); err != nil {
			t.Fatalf("FinalizeSourceFile(%s): %v", id, err)
		}
	}

	got, err := r.ListSourceFiles(ctx, 1)
	if err != nil {
		t.Fatalf("ListSourceFiles: %v", err)
	}
	if len(got) != 1 || got[0].BatchID != "b-new" {
		t.Fatalf("got %+v, want newest batch only", got)
	}
	if got[0].Status != storage.BatchOK || got[0].RowsStaged != 3 {
		t.Fatalf("finalized fields not persisted: %+v", got[0])
	}
	if got[0].CommittedAt.IsZero() {
		t.Fatalf("CommittedAt lost on round-trip")
	}
}
