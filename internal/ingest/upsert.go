package ingest

import (
	"context"

	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Natural-key upsert with exact counts, on any backend.
//
// The engine classifies each chunk against the existing payload hashes:
//   - key unknown            -> insert
//   - key known, hash same   -> skip (exact duplicate, counted)
//   - key known, hash differs-> update (overwrite + bump updated_at)
//
// Within-chunk duplicates collapse first (same key + same hash is counted
// as a duplicate; same key + different hash keeps the later row, matching
// "last write wins" across chunks too). Re-running the same file
// therefore yields zero inserts. Backends only ever see plain INSERT and
// UPDATE statements.

func (ing *Ingestor) upsertEquipment(ctx context.Context, rows []storage.Equipment) (storage.UpsertResult, error) {
	var res storage.UpsertResult

	dedup := make(map[string]storage.Equipment, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		prev, seen := dedup[r.ItemNum]
		if !seen {
			order = append(order, r.ItemNum)
			dedup[r.ItemNum] = r
			continue
		}
		if prev.PayloadHash == r.PayloadHash {
			res.SkippedDuplicate++
			continue
		}
		dedup[r.ItemNum] = r
	}

	existing, err := ing.Repo.SelectEquipmentHashes(ctx, order)
	if err != nil {
		return res, err
	}

	var inserts, updates []storage.Equipment
	for _, key := range order {
		row := dedup[key]
		hash, ok := existing[key]
		switch {
		case !ok:
			inserts = append(inserts, row)
		case hash == row.PayloadHash:
			res.SkippedDuplicate++
		default:
			updates = append(updates, row)
		}
	}

	if len(inserts) > 0 {
		if err := ing.Repo.InsertEquipment(ctx, inserts); err != nil {
			return res, err
		}
		res.Inserted += int64(len(inserts))
	}
	if len(updates) > 0 {
		if err := ing.Repo.UpdateEquipment(ctx, updates); err != nil {
			return res, err
		}
		res.Updated += int64(len(updates))
	}
	return res, nil
}

func (ing *Ingestor) upsertItems(ctx context.Context, rows []storage.InventoryItem) (storage.UpsertResult, error) {
	var res storage.UpsertResult

	dedup := make(map[string]storage.InventoryItem, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		prev, seen := dedup[r.RentalClassNum]
		if !seen {
			order = append(order, r.RentalClassNum)
			dedup[r.RentalClassNum] = r
			continue
		}
		if prev.PayloadHash == r.PayloadHash {
			res.SkippedDuplicate++
			continue
		}
		dedup[r.RentalClassNum] = r
	}

	existing, err := ing.Repo.SelectItemHashes(ctx, order)
	if err != nil {
		return res, err
	}

	var inserts, updates []storage.InventoryItem
	for _, key := range order {
		row := dedup[key]
		hash, ok := existing[key]
		switch {
		case !ok:
			inserts = append(inserts, row)
		case hash == row.PayloadHash:
			res.SkippedDuplicate++
		default:
			updates = append(updates, row)
		}
	}

	if len(inserts) > 0 {
		if err := ing.Repo.InsertInventoryItems(ctx, inserts); err != nil {
			return res, err
		}
		res.Inserted += int64(len(inserts))
	}
	if len(updates) > 0 {
		if err := ing.Repo.UpdateInventoryItems(ctx, updates); err != nil {
			return res, err
		}
		res.Updated += int64(len(updates))
	}
	return res, nil
}
