// Package ingest drives batch ingestion: raw staging, normalization,
// cleaning and idempotent upsert into the business tables, in bounded
// chunks with cooperative cancellation at chunk boundaries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/metrics"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

// Logger is the minimal logging interface used by the ingestion engine.
// *log.Logger and *logrus.Logger both satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// BatchResult is the operational summary returned to the caller: what was
// read, what was committed, and what was absorbed as row-level trouble.
type BatchResult struct {
	BatchID    string
	SourceType schema.SourceType
	FileName   string

	RowsRead   int64
	RowsStaged int64

	Upserts       storage.UpsertResult
	FactsInserted int64

	// SkippedRows counts rows dropped for a missing/unparseable natural
	// key. Warnings counts field-level parse problems on retained rows.
	SkippedRows int64
	Warnings    int64

	Partial  bool
	Duration time.Duration
}

// Ingestor runs ingestion jobs. One value is safe for sequential reuse;
// concurrent jobs for the same source type are rejected by the per-type
// advisory lock, not by the Ingestor.
type Ingestor struct {
	Repo    storage.Repository
	Cleaner *transformer.Cleaner
	Mapping config.StoreMapping
	Metrics metrics.Backend
	Logger  Logger

	// ChunkSize bounds rows staged and committed per unit. Default 1000.
	ChunkSize int
	// Parser options forwarded to the format readers.
	Parser config.Options
}

func (ing *Ingestor) logf() func(format string, v ...any) {
	if ing.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return ing.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (ing *Ingestor) metrics() metrics.Backend {
	if ing.Metrics == nil {
		return metrics.Noop{}
	}
	return ing.Metrics
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Ingest stages and commits one file declared as sourceType.
//
// Failure semantics:
//   - SchemaMismatchError: nothing was written, the file is rejected.
//   - storage.ErrLockHeld (wrapped): another job owns this source type.
//   - A chunk commit error stops the batch; prior chunks stay committed
//     and the batch is finalized as partial/failed. The partial
//     BatchResult is returned alongside the error.
//   - ctx cancellation is honored between chunks; the batch is marked
//     partial and is safe to re-run (upsert absorbs the overlap).
func (ing *Ingestor) Ingest(ctx context.Context, path string, sourceType schema.SourceType) (*BatchResult, error) {
	logf := ing.logf()
	start := time.Now()

	d, err := schema.Lookup(sourceType)
	if err != nil {
		return nil, err
	}

	src, err := openSource(path, ing.Parser)
	if err != nil {
		return nil, err
	}

	header := src.Header()
	if d.HeaderOverlap(header) == 0 {
		expected := make([]string, 0)
		for c := range d.ExpectedColumns() {
			expected = append(expected, c)
		}
		return nil, &SchemaMismatchError{
			File:       filepath.Base(path),
			SourceType: string(sourceType),
			Expected:   expected,
			Found:      header,
		}
	}

	release, err := ing.Repo.TryLock(ctx, storage.IngestLockKey(sourceType))
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", sourceType, err)
	}
	defer func() {
		if release != nil {
			_ = release(context.WithoutCancel(ctx))
		}
	}()

	res := &BatchResult{
		BatchID:    uuid.NewString(),
		SourceType: sourceType,
		FileName:   filepath.Base(path),
	}

	sf := &storage.SourceFile{
		BatchID:    res.BatchID,
		SourceType: sourceType,
		FileName:   res.FileName,
		Status:     storage.BatchRunning,
		StartedAt:  start,
	}
	if err := ing.Repo.CreateSourceFile(ctx, sf); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	logf("stage=ingest_start batch=%s type=%s file=%s", res.BatchID, sourceType, res.FileName)

	runErr := ing.run(ctx, src, d, res)

	sf.RowsRead = res.RowsRead
	sf.RowsStaged = res.RowsStaged
	sf.CommittedAt = time.Now()
	switch {
	case runErr == nil:
		sf.Status = storage.BatchOK
	case res.RowsStaged > 0:
		sf.Status = storage.BatchPartial
		res.Partial = true
	default:
		sf.Status = storage.BatchFailed
	}
	// Finalize with a context that survives cancellation; the batch row
	// must record what actually happened.
	if ferr := ing.Repo.FinalizeSourceFile(context.WithoutCancel(ctx), sf); ferr != nil && runErr == nil {
		runErr = fmt.Errorf("finalize batch: %w", ferr)
	}

	res.Duration = durMS(start)

	m := ing.metrics()
	tag := "source:" + string(sourceType)
	m.IncCounter("recon.ingest.rows_read", res.RowsRead, tag)
	m.IncCounter("recon.ingest.rows_staged", res.RowsStaged, tag)
	m.IncCounter("recon.ingest.rows_skipped", res.SkippedRows, tag)
	m.IncCounter("recon.ingest.field_warnings", res.Warnings, tag)
	m.IncCounter("recon.ingest.inserted", res.Upserts.Inserted, tag)
	m.IncCounter("recon.ingest.updated", res.Upserts.Updated, tag)
	m.ObserveHistogram("recon.ingest.duration_ms", float64(res.Duration.Milliseconds()), tag)

	logf("stage=ingest_done batch=%s status=%s read=%d staged=%d inserted=%d updated=%d dup=%d facts=%d skipped=%d warnings=%d duration=%s",
		res.BatchID, sf.Status, res.RowsRead, res.RowsStaged,
		res.Upserts.Inserted, res.Upserts.Updated, res.Upserts.SkippedDuplicate,
		res.FactsInserted, res.SkippedRows, res.Warnings, res.Duration)

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

// run streams rows and processes them chunk by chunk. Cancellation is
// checked at chunk boundaries; a chunk in flight finishes or fails whole.
func (ing *Ingestor) run(ctx context.Context, src rowSource, d *schema.Descriptor, res *BatchResult) error {
	chunkSize := ing.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh := make(chan *transformer.Row, chunkSize)
	readErrCh := make(chan error, 1)
	var readRowErrs int64

	go func() {
		defer close(rowCh)
		readErrCh <- src.Stream(streamCtx, rowCh, func(line int, err error) {
			readRowErrs++
			ing.logf()("stage=read_error line=%d err=%v", line, err)
		})
	}()

	header := src.Header()
	chunk := make([]*transformer.Row, 0, chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := ing.processChunk(ctx, header, chunk, d, res)
		for _, r := range chunk {
			r.Free()
		}
		chunk = chunk[:0]
		return err
	}

	for row := range rowCh {
		res.RowsRead++
		chunk = append(chunk, row)
		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				cancel()
				drainRows(rowCh)
				return err
			}
			// Cooperative cancellation: only between chunks, never mid-row.
			select {
			case <-ctx.Done():
				cancel()
				drainRows(rowCh)
				return ctx.Err()
			default:
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}
	if err := <-readErrCh; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("read source: %w", err)
	}
	res.Warnings += readRowErrs
	return nil
}

// drainRows discards rows the reader already handed off. Dropped, not
// freed: the reader may still touch pooled rows while unwinding.
func drainRows(ch <-chan *transformer.Row) {
	for r := range ch {
		r.Drop()
	}
}
