package correlate

import (
	"context"

	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Read-side facade consumed by the query API and the report command.
// All writes flow through Resolver; these are plain delegations kept in
// one place so dashboard collaborators never touch the repository
// directly.

// Queries exposes the read-only correlation surface.
type Queries struct {
	Repo storage.Repository
}

// Correlation returns the correlation for an equipment key with orphan
// status computed, or storage.ErrNotFound.
func (q *Queries) Correlation(ctx context.Context, itemNum string) (*storage.CorrelationRecord, error) {
	return q.Repo.GetCorrelationByEquipment(ctx, itemNum)
}

// Uncorrelated lists natural keys on one side (storage.SideEquipment or
// storage.SideItems) with no correlation at all.
func (q *Queries) Uncorrelated(ctx context.Context, side string) ([]string, error) {
	return q.Repo.ListUncorrelated(ctx, side)
}

// Quality returns the data-quality roll-up: coverage percentage, orphan
// count and the per-tier breakdown.
func (q *Queries) Quality(ctx context.Context) (*storage.QualityReport, error) {
	return q.Repo.QualityReport(ctx)
}
