// Package postgres implements storage.Repository on pgx/v5.
//
// It provides:
//   - Raw staging inserts via pgx batches
//   - Hash-classified entity upserts (plain INSERT/UPDATE per engine decision)
//   - Session advisory locks via pg_try_advisory_lock
//
// Lock behavior differs from the SQLite backend: Postgres advisory locks
// are session-scoped, so a crashed process releases them automatically.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed repository from a pgx DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) EnsureSchema(ctx context.Context, sourceTypes []schema.SourceType) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS source_files (
			batch_id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			file_name TEXT NOT NULL,
			rows_read BIGINT NOT NULL DEFAULT 0,
			rows_staged BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			committed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS equipment (
			item_num TEXT PRIMARY KEY,
			name TEXT,
			category TEXT,
			department TEXT,
			store_code TEXT,
			qty_owned BIGINT NOT NULL DEFAULT 0,
			sell_price NUMERIC(14,2),
			turnover_ytd NUMERIC(14,2),
			inactive BOOLEAN NOT NULL DEFAULT FALSE,
			payload_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			rental_class_num TEXT PRIMARY KEY,
			common_name TEXT,
			location TEXT,
			quantity BIGINT NOT NULL DEFAULT 0,
			tag_count BIGINT NOT NULL DEFAULT 0,
			last_scanned TIMESTAMPTZ,
			payload_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS correlations (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			item_num TEXT NOT NULL,
			rental_class_num TEXT NOT NULL,
			normalized_key TEXT NOT NULL,
			match_type TEXT NOT NULL,
			confidence BIGINT NOT NULL,
			tag_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (item_num, rental_class_num)
		)`,
		`CREATE TABLE IF NOT EXISTS period_facts (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			source_type TEXT NOT NULL,
			period_start DATE NOT NULL,
			store_code TEXT NOT NULL,
			metrics JSONB NOT NULL,
			row_hash TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			imported_at TIMESTAMPTZ NOT NULL,
			UNIQUE (source_type, period_start, store_code, row_hash)
		)`,
	}
	for _, st := range sourceTypes {
		t := storage.RawTableName(st)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
				batch_id TEXT NOT NULL,
				line BIGINT NOT NULL,
				import_status TEXT NOT NULL,
				payload JSONB NOT NULL
			)`, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_batch ON %s (batch_id)`, t, t),
		)
	}

	for _, q := range stmts {
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryLock acquires a session advisory lock. The lock rides on a dedicated
// connection held out of the pool until release, because advisory locks
// belong to the session that took them.
func (r *Repo) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	id := lockID(key)
	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&got); err != nil {
		conn.Release()
		return nil, err
	}
	if !got {
		conn.Release()
		return nil, fmt.Errorf("lock %q: %w", key, storage.ErrLockHeld)
	}
	return func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, id)
		return err
	}, nil
}

// lockID maps a lock key to the bigint keyspace pg advisory locks use.
func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func (r *Repo) CreateSourceFile(ctx context.Context, sf *storage.SourceFile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO source_files (batch_id, source_type, file_name, rows_read, rows_staged, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sf.BatchID, string(sf.SourceType), sf.FileName, sf.RowsRead, sf.RowsStaged, sf.Status, sf.StartedAt)
	return err
}

func (r *Repo) FinalizeSourceFile(ctx context.Context, sf *storage.SourceFile) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE source_files SET rows_read = $1, rows_staged = $2, status = $3, committed_at = $4 WHERE batch_id = $5`,
		sf.RowsRead, sf.RowsStaged, sf.Status, sf.CommittedAt, sf.BatchID)
	return err
}

func (r *Repo) ListSourceFiles(ctx context.Context, limit int) ([]storage.SourceFile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT batch_id, source_type, file_name, rows_read, rows_staged, status, started_at, committed_at
		 FROM source_files ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.SourceFile
	for rows.Next() {
		var sf storage.SourceFile
		var st string
		var committed *time.Time
		if err := rows.Scan(&sf.BatchID, &st, &sf.FileName, &sf.RowsRead, &sf.RowsStaged, &sf.Status, &sf.StartedAt, &committed); err != nil {
			return nil, err
		}
		sf.SourceType = schema.SourceType(st)
		if committed != nil {
			sf.CommittedAt = *committed
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}

// InsertRawRecords stages a chunk of raw rows using a pgx batch, which
// keeps the whole chunk on one round trip.
func (r *Repo) InsertRawRecords(ctx context.Context, st schema.SourceType, recs []storage.RawRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	q := fmt.Sprintf(`INSERT INTO %s (batch_id, line, import_status, payload) VALUES ($1, $2, $3, $4)`,
		storage.RawTableName(st))

	b := &pgx.Batch{}
	for _, rec := range recs {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload line %d: %w", rec.Line, err)
		}
		b.Queue(q, rec.BatchID, rec.Line, rec.ImportStatus, payload)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	var n int64
	for range recs {
		if _, err := br.Exec(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Repo) PurgeRawRecords(ctx context.Context, st schema.SourceType, before time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE batch_id IN (SELECT batch_id FROM source_files WHERE started_at < $1)`,
		storage.RawTableName(st)), before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *Repo) SelectEquipmentHashes(ctx context.Context, keys []string) (map[string]string, error) {
	return r.selectHashes(ctx, `equipment`, `item_num`, keys)
}

func (r *Repo) SelectItemHashes(ctx context.Context, keys []string) (map[string]string, error) {
	return r.selectHashes(ctx, `inventory_items`, `rental_class_num`, keys)
}

// selectHashes uses a parameterized IN (...) list (chunked) instead of
// ANY($1) arrays to avoid driver array-typing edge cases.
func (r *Repo) selectHashes(ctx context.Context, table, keyCol string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	const chunk = 2000

	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		part := keys[start:end]

		var b strings.Builder
		fmt.Fprintf(&b, "SELECT %s, payload_hash FROM %s WHERE %s IN (", keyCol, table, keyCol)
		args := make([]any, 0, len(part))
		for i, k := range part {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i+1)
			args = append(args, k)
		}
		b.WriteString(")")

		rows, err := r.pool.Query(ctx, b.String(), args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k, h any
			if err := rows.Scan(&k, &h); err != nil {
				rows.Close()
				return nil, err
			}
			out[storage.NormalizeKey(k)] = storage.NormalizeKey(h)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func (r *Repo) InsertEquipment(ctx context.Context, rows []storage.Equipment) error {
	b := &pgx.Batch{}
	for _, e := range rows {
		b.Queue(`INSERT INTO equipment (item_num, name, category, department, store_code, qty_owned, sell_price, turnover_ytd, inactive, payload_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ItemNum, e.Name, e.Category, e.Department, e.StoreCode, e.QtyOwned,
			e.SellPrice, e.TurnoverYTD, e.Inactive, e.PayloadHash, e.CreatedAt, e.UpdatedAt)
	}
	return r.sendBatch(ctx, b, len(rows))
}

func (r *Repo) UpdateEquipment(ctx context.Context, rows []storage.Equipment) error {
	b := &pgx.Batch{}
	for _, e := range rows {
		b.Queue(`UPDATE equipment SET name = $1, category = $2, department = $3, store_code = $4, qty_owned = $5, sell_price = $6, turnover_ytd = $7, inactive = $8, payload_hash = $9, updated_at = $10
			 WHERE item_num = $11`,
			e.Name, e.Category, e.Department, e.StoreCode, e.QtyOwned,
			e.SellPrice, e.TurnoverYTD, e.Inactive, e.PayloadHash, e.UpdatedAt, e.ItemNum)
	}
	return r.sendBatch(ctx, b, len(rows))
}

func (r *Repo) ListEquipment(ctx context.Context) ([]storage.Equipment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT item_num, COALESCE(name,''), COALESCE(category,''), COALESCE(department,''), COALESCE(store_code,''),
		        qty_owned, COALESCE(sell_price, 0), COALESCE(turnover_ytd, 0), inactive, payload_hash, created_at, updated_at
		 FROM equipment ORDER BY item_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Equipment
	for rows.Next() {
		var e storage.Equipment
		if err := rows.Scan(&e.ItemNum, &e.Name, &e.Category, &e.Department, &e.StoreCode,
			&e.QtyOwned, &e.SellPrice, &e.TurnoverYTD, &e.Inactive, &e.PayloadHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) InsertInventoryItems(ctx context.Context, rows []storage.InventoryItem) error {
	b := &pgx.Batch{}
	for _, it := range rows {
		b.Queue(`INSERT INTO inventory_items (rental_class_num, common_name, location, quantity, tag_count, last_scanned, payload_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.RentalClassNum, it.CommonName, it.Location, it.Quantity, it.TagCount,
			nullableTime(it.LastScanned), it.PayloadHash, it.CreatedAt, it.UpdatedAt)
	}
	return r.sendBatch(ctx, b, len(rows))
}

func (r *Repo) UpdateInventoryItems(ctx context.Context, rows []storage.InventoryItem) error {
	b := &pgx.Batch{}
	for _, it := range rows {
		b.Queue(`UPDATE inventory_items SET common_name = $1, location = $2, quantity = $3, tag_count = $4, last_scanned = $5, payload_hash = $6, updated_at = $7
			 WHERE rental_class_num = $8`,
			it.CommonName, it.Location, it.Quantity, it.TagCount,
			nullableTime(it.LastScanned), it.PayloadHash, it.UpdatedAt, it.RentalClassNum)
	}
	return r.sendBatch(ctx, b, len(rows))
}

func (r *Repo) ListInventoryItems(ctx context.Context) ([]storage.InventoryItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rental_class_num, COALESCE(common_name,''), COALESCE(location,''), quantity, tag_count,
		        last_scanned, payload_hash, created_at, updated_at
		 FROM inventory_items ORDER BY rental_class_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.InventoryItem
	for rows.Next() {
		var it storage.InventoryItem
		var scanned *time.Time
		if err := rows.Scan(&it.RentalClassNum, &it.CommonName, &it.Location, &it.Quantity, &it.TagCount,
			&scanned, &it.PayloadHash, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if scanned != nil {
			it.LastScanned = *scanned
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// InsertPeriodFacts is idempotent via ON CONFLICT DO NOTHING on the
// row-hash unique constraint; summed RowsAffected counts only new rows.
func (r *Repo) InsertPeriodFacts(ctx context.Context, rows []storage.PeriodFact) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, f := range rows {
		metrics, err := json.Marshal(f.Metrics)
		if err != nil {
			return 0, fmt.Errorf("marshal metrics: %w", err)
		}
		b.Queue(`INSERT INTO period_facts (source_type, period_start, store_code, metrics, row_hash, batch_id, imported_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (source_type, period_start, store_code, row_hash) DO NOTHING`,
			string(f.SourceType), f.PeriodStart, f.StoreCode, metrics, f.RowHash, f.BatchID, f.ImportedAt)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	var inserted int64
	for range rows {
		cmd, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += cmd.RowsAffected()
	}
	return inserted, nil
}

func (r *Repo) ListCorrelations(ctx context.Context) ([]storage.CorrelationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at
		 FROM correlations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.CorrelationRecord
	for rows.Next() {
		var c storage.CorrelationRecord
		if err := rows.Scan(&c.ID, &c.ItemNum, &c.RentalClassNum, &c.NormalizedKey, &c.MatchType,
			&c.Confidence, &c.TagCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertCorrelations(ctx context.Context, rows []storage.CorrelationRecord) error {
	b := &pgx.Batch{}
	for _, c := range rows {
		b.Queue(`INSERT INTO correlations (item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (item_num, rental_class_num) DO UPDATE SET
			   normalized_key = EXCLUDED.normalized_key,
			   match_type = EXCLUDED.match_type,
			   confidence = EXCLUDED.confidence,
			   tag_count = EXCLUDED.tag_count,
			   updated_at = EXCLUDED.updated_at`,
			c.ItemNum, c.RentalClassNum, c.NormalizedKey, c.MatchType, c.Confidence, c.TagCount,
			c.CreatedAt, c.UpdatedAt)
	}
	return r.sendBatch(ctx, b, len(rows))
}

const orphanExpr = `(NOT EXISTS (SELECT 1 FROM equipment e WHERE e.item_num = c.item_num)
	 OR NOT EXISTS (SELECT 1 FROM inventory_items i WHERE i.rental_class_num = c.rental_class_num))`

func (r *Repo) GetCorrelationByEquipment(ctx context.Context, itemNum string) (*storage.CorrelationRecord, error) {
	var c storage.CorrelationRecord
	err := r.pool.QueryRow(ctx,
		`SELECT id, item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at, `+orphanExpr+`
		 FROM correlations c WHERE item_num = $1 LIMIT 1`, itemNum).
		Scan(&c.ID, &c.ItemNum, &c.RentalClassNum, &c.NormalizedKey, &c.MatchType,
			&c.Confidence, &c.TagCount, &c.CreatedAt, &c.UpdatedAt, &c.Orphaned)
	if err == pgx.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) ListUncorrelated(ctx context.Context, side string) ([]string, error) {
	var q string
	switch side {
	case storage.SideEquipment:
		q = `SELECT item_num FROM equipment e
		     WHERE NOT EXISTS (SELECT 1 FROM correlations c WHERE c.item_num = e.item_num)
		     ORDER BY item_num`
	case storage.SideItems:
		q = `SELECT rental_class_num FROM inventory_items i
		     WHERE NOT EXISTS (SELECT 1 FROM correlations c WHERE c.rental_class_num = i.rental_class_num)
		     ORDER BY rental_class_num`
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *Repo) QualityReport(ctx context.Context) (*storage.QualityReport, error) {
	rep := &storage.QualityReport{ByConfidenceTier: map[string]int64{}}

	var correlated int64
	err := r.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM correlations),
		(SELECT COUNT(*) FROM equipment),
		(SELECT COUNT(*) FROM inventory_items),
		(SELECT COUNT(*) FROM correlations c WHERE `+orphanExpr+`),
		(SELECT COUNT(DISTINCT item_num) FROM correlations)`).
		Scan(&rep.TotalCorrelations, &rep.TotalEquipment, &rep.TotalItems, &rep.OrphanedCount, &correlated)
	if err != nil {
		return nil, err
	}
	if rep.TotalEquipment > 0 {
		rep.CorrelatedPct = float64(correlated) / float64(rep.TotalEquipment) * 100
	}

	rows, err := r.pool.Query(ctx, `SELECT match_type, COUNT(*) FROM correlations GROUP BY match_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		rep.ByConfidenceTier[tier] = n
	}
	return rep, rows.Err()
}

func (r *Repo) sendBatch(ctx context.Context, b *pgx.Batch, n int) error {
	if n == 0 {
		return nil
	}
	br := r.pool.SendBatch(ctx, b)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
