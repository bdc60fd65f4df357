// Package correlate establishes confidence-scored links between the POS
// equipment catalog and the RFID rental-class catalog. The two systems
// share no primary key; matching runs a strict tier ladder per candidate
// and the outcome is persisted as pair-keyed correlation records.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sandahltim/RFID3-sub003/internal/metrics"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Logger is the minimal logging interface used by the resolver.
type Logger interface {
	Printf(format string, v ...any)
}

// ErrResolutionRunning means another resolution pass holds the
// single-flight lock. The pass performs read-then-upsert cycles that are
// not safe under overlapping writers; retry after the holder finishes.
var ErrResolutionRunning = errors.New("correlate: resolution already running")

// Confidence per tier. First tier to match wins; no fallthrough.
const (
	ConfidenceExact      = 100
	ConfidenceNormalized = 95
	ConfidenceNameSim    = 70
)

// Result summarizes one resolution pass.
type Result struct {
	Created   int64
	Refreshed int64
	ByTier    map[string]int64
	Duration  time.Duration
}

// Resolver runs resolution passes.
type Resolver struct {
	Repo    storage.Repository
	Matcher NameMatcher
	Metrics metrics.Backend
	Logger  Logger
}

func (r *Resolver) logf() func(format string, v ...any) {
	if r.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return r.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (r *Resolver) matcher() NameMatcher {
	if r.Matcher == nil {
		return TokenPrefixMatcher{}
	}
	return r.Matcher
}

// Resolve runs one full resolution pass:
//
//  1. Refresh existing correlations whose RFID tag count drifted since
//     the last pass (update in place, never duplicate the pair).
//  2. For every equipment record and item with no active correlation,
//     walk the tier ladder; the first tier that matches creates the
//     record. A pair with no matching tier stays unlinked and remains
//     eligible for future passes.
//
// Concurrency: single-flight via the resolve advisory lock; overlapping
// invocations get ErrResolutionRunning. The pass is read-heavy and may
// run alongside ingestion of unrelated source types.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	logf := r.logf()
	start := time.Now()

	release, err := r.Repo.TryLock(ctx, storage.ResolveLockKey)
	if err != nil {
		if errors.Is(err, storage.ErrLockHeld) {
			return nil, ErrResolutionRunning
		}
		return nil, err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	equipment, err := r.Repo.ListEquipment(ctx)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	items, err := r.Repo.ListInventoryItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	existing, err := r.Repo.ListCorrelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list correlations: %w", err)
	}

	res := &Result{ByTier: map[string]int64{}}
	now := time.Now()

	tagCount := make(map[string]int64, len(items))
	for _, it := range items {
		tagCount[it.RentalClassNum] += it.TagCount
	}

	// Pass 1: refresh drifted tag counts on existing pairs.
	claimedEquipment := make(map[string]struct{}, len(existing))
	claimedItems := make(map[string]struct{}, len(existing))
	var refresh []storage.CorrelationRecord
	for _, c := range existing {
		claimedEquipment[c.ItemNum] = struct{}{}
		claimedItems[c.RentalClassNum] = struct{}{}
		if n, ok := tagCount[c.RentalClassNum]; ok && n != c.TagCount {
			c.TagCount = n
			c.UpdatedAt = now
			refresh = append(refresh, c)
		}
	}

	// Pass 2: tier ladder over unclaimed pairs only. A prior (possibly
	// higher-confidence) match is never displaced by a later pass.
	free := make([]storage.InventoryItem, 0, len(items))
	byExactKey := make(map[string]int)
	byNumericKey := make(map[int64]int)
	for _, it := range items {
		if _, taken := claimedItems[it.RentalClassNum]; taken {
			continue
		}
		free = append(free, it)
		i := len(free) - 1
		if k := canonKey(it.RentalClassNum); k != "" {
			if _, dup := byExactKey[k]; !dup {
				byExactKey[k] = i
			}
		}
		if n, ok := schema.NumericKey(it.RentalClassNum); ok {
			if _, dup := byNumericKey[n]; !dup {
				byNumericKey[n] = i
			}
		}
	}

	taken := make(map[int]struct{})
	match := r.matcher()
	var created []storage.CorrelationRecord

	claim := func(e storage.Equipment, idx int, matchType, normalizedKey string, confidence int) {
		it := free[idx]
		taken[idx] = struct{}{}
		created = append(created, storage.CorrelationRecord{
			ItemNum:        e.ItemNum,
			RentalClassNum: it.RentalClassNum,
			NormalizedKey:  normalizedKey,
			MatchType:      matchType,
			Confidence:     confidence,
			TagCount:       tagCount[it.RentalClassNum],
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		res.ByTier[matchType]++
	}

	for _, e := range equipment {
		if _, done := claimedEquipment[e.ItemNum]; done {
			continue
		}

		// Tier 1: exact key match. Literal equality of the canonical
		// keys; "12345.0" vs "12345" is NOT exact.
		if k := canonKey(e.ItemNum); k != "" {
			if idx, ok := byExactKey[k]; ok {
				if _, used := taken[idx]; !used {
					claim(e, idx, storage.MatchExact, k, ConfidenceExact)
					continue
				}
			}
		}

		// Tier 2: numeric equality after stripping leading zeros and
		// decimal artifacts. A non-numeric key disqualifies this tier
		// but the entity stays eligible below.
		if n, ok := schema.NumericKey(e.ItemNum); ok {
			if idx, found := byNumericKey[n]; found {
				if _, used := taken[idx]; !used {
					claim(e, idx, storage.MatchNormalized, fmt.Sprintf("%d", n), ConfidenceNormalized)
					continue
				}
			}
		}

		// Tier 3: name similarity via the pluggable comparator.
		for idx := range free {
			if _, used := taken[idx]; used {
				continue
			}
			if match.Match(e.Name, free[idx].CommonName) {
				claim(e, idx, storage.MatchNameSim, canonKey(e.ItemNum), ConfidenceNameSim)
				break
			}
		}
	}

	if len(refresh) > 0 {
		if err := r.Repo.UpsertCorrelations(ctx, refresh); err != nil {
			return nil, fmt.Errorf("refresh correlations: %w", err)
		}
		res.Refreshed = int64(len(refresh))
	}
	if len(created) > 0 {
		if err := r.Repo.UpsertCorrelations(ctx, created); err != nil {
			return nil, fmt.Errorf("write correlations: %w", err)
		}
		res.Created = int64(len(created))
	}

	res.Duration = time.Since(start).Truncate(time.Millisecond)

	m := r.metricsBackend()
	m.IncCounter("recon.resolve.created", res.Created)
	m.IncCounter("recon.resolve.refreshed", res.Refreshed)
	for tier, n := range res.ByTier {
		m.IncCounter("recon.resolve.by_tier", n, "tier:"+tier)
	}
	m.ObserveHistogram("recon.resolve.duration_ms", float64(res.Duration.Milliseconds()))

	logf("stage=resolve_done created=%d refreshed=%d exact=%d normalized=%d name=%d duration=%s",
		res.Created, res.Refreshed,
		res.ByTier[storage.MatchExact], res.ByTier[storage.MatchNormalized], res.ByTier[storage.MatchNameSim],
		res.Duration)

	return res, nil
}

func (r *Resolver) metricsBackend() metrics.Backend {
	if r.Metrics == nil {
		return metrics.Noop{}
	}
	return r.Metrics
}

// canonKey is the tier-1 key form: edge-trimmed, nothing else. Heavier
// normalization belongs to tier 2.
func canonKey(s string) string { return strings.TrimSpace(s) }
