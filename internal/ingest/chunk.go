package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandahltim/RFID3-sub003/internal/normalize"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
	"github.com/sandahltim/RFID3-sub003/internal/transformer/builtin"
)

// processChunk stages one chunk verbatim, cleans it, and commits the
// family-appropriate business writes. The chunk either commits or fails
// whole; prior chunks are unaffected either way.
func (ing *Ingestor) processChunk(ctx context.Context, header []string, chunk []*transformer.Row, d *schema.Descriptor, res *BatchResult) error {
	now := time.Now()

	raws := make([]storage.RawRecord, 0, len(chunk))
	var equipment []storage.Equipment
	var items []storage.InventoryItem
	var facts []storage.PeriodFact

	norm := &normalize.Normalizer{Mapping: ing.Mapping, Cleaner: ing.Cleaner}

	for _, row := range chunk {
		payload := normalize.Payload(header, row)
		status := storage.RawProcessed

		switch d.Family {
		case schema.FamilyPeriodFact:
			rowFacts, warns, err := norm.Expand(row.Line, payload, d, res.BatchID)
			res.Warnings += int64(len(warns))
			if err != nil {
				status = storage.RawError
				res.SkippedRows++
				break
			}
			for i := range rowFacts {
				rowFacts[i].ImportedAt = now
			}
			facts = append(facts, rowFacts...)

		default:
			rec := normalize.RecordFromRow(header, row, d)
			values, warns, err := ing.Cleaner.Clean(row.Line, rec, d)
			res.Warnings += int64(len(warns))
			if err != nil {
				if !errors.Is(err, transformer.ErrRequiredKey) {
					return err
				}
				status = storage.RawError
				res.SkippedRows++
				break
			}

			hash := builtin.PayloadHash(payload)
			switch d.Family {
			case schema.FamilyEquipment:
				equipment = append(equipment, equipmentFromValues(values, hash, now))
			case schema.FamilyInventory:
				items = append(items, itemFromValues(values, hash, now))
			case schema.FamilyStaging:
				// cleaned for validation only; committed state is the
				// staged payload
			}
		}

		raws = append(raws, storage.RawRecord{
			BatchID:      res.BatchID,
			Line:         row.Line,
			ImportStatus: status,
			Payload:      payload,
		})
	}

	staged, err := ing.Repo.InsertRawRecords(ctx, d.Type, raws)
	if err != nil {
		return fmt.Errorf("stage chunk: %w", err)
	}
	res.RowsStaged += staged

	if len(equipment) > 0 {
		r, err := ing.upsertEquipment(ctx, equipment)
		if err != nil {
			return fmt.Errorf("upsert equipment: %w", err)
		}
		res.Upserts.Add(r)
	}
	if len(items) > 0 {
		r, err := ing.upsertItems(ctx, items)
		if err != nil {
			return fmt.Errorf("upsert inventory items: %w", err)
		}
		res.Upserts.Add(r)
	}
	if len(facts) > 0 {
		n, err := ing.Repo.InsertPeriodFacts(ctx, facts)
		if err != nil {
			return fmt.Errorf("insert period facts: %w", err)
		}
		res.FactsInserted += n
		res.Upserts.SkippedDuplicate += int64(len(facts)) - n
	}

	return nil
}
