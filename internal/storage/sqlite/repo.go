// Package sqlite implements storage.Repository on modernc.org/sqlite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMPTZ. Timestamps are stored as
//     RFC3339Nano strings for reliable round-trip behavior and easy
//     debugging.
//   - Money columns are stored as TEXT and re-parsed with
//     shopspring/decimal; REAL affinity would silently lose cents.
//   - Advisory locks are a keyed lock table. Unlike Postgres session
//     locks these survive a crashed process; `DELETE FROM advisory_locks`
//     is the manual escape hatch.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

const timeLayout = time.RFC3339Nano

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens (and pings) a SQLite database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// The lock table depends on all statements seeing one database
	// connection's view promptly; SQLite writers serialize anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema creates all engine tables plus one raw staging table per
// source type. Idempotent; mirrors the create-if-not-exists behavior of
// the other backends.
func (r *Repo) EnsureSchema(ctx context.Context, sourceTypes []schema.SourceType) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS source_files (
			batch_id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			file_name TEXT NOT NULL,
			rows_read INTEGER NOT NULL DEFAULT 0,
			rows_staged INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			committed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS equipment (
			item_num TEXT PRIMARY KEY,
			name TEXT,
			category TEXT,
			department TEXT,
			store_code TEXT,
			qty_owned INTEGER NOT NULL DEFAULT 0,
			sell_price TEXT,
			turnover_ytd TEXT,
			inactive INTEGER NOT NULL DEFAULT 0,
			payload_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			rental_class_num TEXT PRIMARY KEY,
			common_name TEXT,
			location TEXT,
			quantity INTEGER NOT NULL DEFAULT 0,
			tag_count INTEGER NOT NULL DEFAULT 0,
			last_scanned TEXT,
			payload_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS correlations (
			id INTEGER PRIMARY KEY,
			item_num TEXT NOT NULL,
			rental_class_num TEXT NOT NULL,
			normalized_key TEXT NOT NULL,
			match_type TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			tag_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (item_num, rental_class_num)
		)`,
		`CREATE TABLE IF NOT EXISTS period_facts (
			id INTEGER PRIMARY KEY,
			source_type TEXT NOT NULL,
			period_start TEXT NOT NULL,
			store_code TEXT NOT NULL,
			metrics TEXT NOT NULL,
			row_hash TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			imported_at TEXT NOT NULL,
			UNIQUE (source_type, period_start, store_code, row_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS advisory_locks (
			lock_key TEXT PRIMARY KEY,
			acquired_at TEXT NOT NULL
		)`,
	}
	for _, st := range sourceTypes {
		t := storage.RawTableName(st)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY,
				batch_id TEXT NOT NULL,
				line INTEGER NOT NULL,
				import_status TEXT NOT NULL,
				payload TEXT NOT NULL
			)`, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_batch ON %s (batch_id)`, t, t),
		)
	}

	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryLock implements advisory locking with a keyed lock table:
// INSERT OR IGNORE either claims the key or affects zero rows.
func (r *Repo) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO advisory_locks (lock_key, acquired_at) VALUES (?, ?)`,
		key, time.Now().Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("lock %q: %w", key, storage.ErrLockHeld)
	}
	return func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM advisory_locks WHERE lock_key = ?`, key)
		return err
	}, nil
}

func (r *Repo) CreateSourceFile(ctx context.Context, sf *storage.SourceFile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO source_files (batch_id, source_type, file_name, rows_read, rows_staged, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sf.BatchID, string(sf.SourceType), sf.FileName, sf.RowsRead, sf.RowsStaged, sf.Status,
		sf.StartedAt.UTC().Format(timeLayout),
	)
	return err
}

func (r *Repo) FinalizeSourceFile(ctx context.Context, sf *storage.SourceFile) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE source_files SET rows_read = ?, rows_staged = ?, status = ?, committed_at = ? WHERE batch_id = ?`,
		sf.RowsRead, sf.RowsStaged, sf.Status, sf.CommittedAt.UTC().Format(timeLayout), sf.BatchID,
	)
	return err
}

func (r *Repo) ListSourceFiles(ctx context.Context, limit int) ([]storage.SourceFile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT batch_id, source_type, file_name, rows_read, rows_staged, status, started_at, COALESCE(committed_at, '')
		 FROM source_files ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.SourceFile
	for rows.Next() {
		var sf storage.SourceFile
		var st, started, committed string
		if err := rows.Scan(&sf.BatchID, &st, &sf.FileName, &sf.RowsRead, &sf.RowsStaged, &sf.Status, &started, &committed); err != nil {
			return nil, err
		}
		sf.SourceType = schema.SourceType(st)
		sf.StartedAt = parseTime(started)
		sf.CommittedAt = parseTime(committed)
		out = append(out, sf)
	}
	return out, rows.Err()
}

func (r *Repo) InsertRawRecords(ctx context.Context, st schema.SourceType, recs []storage.RawRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (batch_id, line, import_status, payload) VALUES (?, ?, ?, ?)`,
		storage.RawTableName(st)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, rec := range recs {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload line %d: %w", rec.Line, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.BatchID, rec.Line, rec.ImportStatus, string(payload)); err != nil {
			return 0, err
		}
		n++
	}
	return n, tx.Commit()
}

func (r *Repo) PurgeRawRecords(ctx context.Context, st schema.SourceType, before time.Time) (int64, error) {
	// Retention keys off the owning batch's start time; raw rows carry
	// no timestamp of their own.
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE batch_id IN (SELECT batch_id FROM source_files WHERE started_at < ?)`,
		storage.RawTableName(st)),
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) SelectEquipmentHashes(ctx context.Context, keys []string) (map[string]string, error) {
	return r.selectHashes(ctx, `equipment`, `item_num`, keys)
}

func (r *Repo) SelectItemHashes(ctx context.Context, keys []string) (map[string]string, error) {
	return r.selectHashes(ctx, `inventory_items`, `rental_class_num`, keys)
}

func (r *Repo) selectHashes(ctx context.Context, table, keyCol string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
	q := fmt.Sprintf(`SELECT %s, payload_hash FROM %s WHERE %s IN (%s)`, keyCol, table, keyCol, ph)

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, h any
		if err := rows.Scan(&k, &h); err != nil {
			return nil, err
		}
		out[storage.NormalizeKey(k)] = storage.NormalizeKey(h)
	}
	return out, rows.Err()
}

func (r *Repo) InsertEquipment(ctx context.Context, rows []storage.Equipment) error {
	return r.execPerRow(ctx,
		`INSERT INTO equipment (item_num, name, category, department, store_code, qty_owned, sell_price, turnover_ytd, inactive, payload_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			e := rows[i]
			return []any{
				e.ItemNum, e.Name, e.Category, e.Department, e.StoreCode, e.QtyOwned,
				e.SellPrice.String(), e.TurnoverYTD.String(), boolInt(e.Inactive), e.PayloadHash,
				e.CreatedAt.UTC().Format(timeLayout), e.UpdatedAt.UTC().Format(timeLayout),
			}
		})
}

func (r *Repo) UpdateEquipment(ctx context.Context, rows []storage.Equipment) error {
	return r.execPerRow(ctx,
		`UPDATE equipment SET name = ?, category = ?, department = ?, store_code = ?, qty_owned = ?, sell_price = ?, turnover_ytd = ?, inactive = ?, payload_hash = ?, updated_at = ?
		 WHERE item_num = ?`,
		len(rows), func(i int) []any {
			e := rows[i]
			return []any{
				e.Name, e.Category, e.Department, e.StoreCode, e.QtyOwned,
				e.SellPrice.String(), e.TurnoverYTD.String(), boolInt(e.Inactive), e.PayloadHash,
				e.UpdatedAt.UTC().Format(timeLayout), e.ItemNum,
			}
		})
}

func (r *Repo) ListEquipment(ctx context.Context) ([]storage.Equipment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_num, COALESCE(name,''), COALESCE(category,''), COALESCE(department,''), COALESCE(store_code,''),
		        qty_owned, COALESCE(sell_price,'0'), COALESCE(turnover_ytd,'0'), inactive, payload_hash, created_at, updated_at
		 FROM equipment ORDER BY item_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Equipment
	for rows.Next() {
		var e storage.Equipment
		var sell, turn, created, updated string
		var inactive int64
		if err := rows.Scan(&e.ItemNum, &e.Name, &e.Category, &e.Department, &e.StoreCode,
			&e.QtyOwned, &sell, &turn, &inactive, &e.PayloadHash, &created, &updated); err != nil {
			return nil, err
		}
		e.SellPrice = parseDecimal(sell)
		e.TurnoverYTD = parseDecimal(turn)
		e.Inactive = inactive != 0
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) InsertInventoryItems(ctx context.Context, rows []storage.InventoryItem) error {
	return r.execPerRow(ctx,
		`INSERT INTO inventory_items (rental_class_num, common_name, location, quantity, tag_count, last_scanned, payload_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			it := rows[i]
			return []any{
				it.RentalClassNum, it.CommonName, it.Location, it.Quantity, it.TagCount,
				formatNullableTime(it.LastScanned), it.PayloadHash,
				it.CreatedAt.UTC().Format(timeLayout), it.UpdatedAt.UTC().Format(timeLayout),
			}
		})
}

func (r *Repo) UpdateInventoryItems(ctx context.Context, rows []storage.InventoryItem) error {
	return r.execPerRow(ctx,
		`UPDATE inventory_items SET common_name = ?, location = ?, quantity = ?, tag_count = ?, last_scanned = ?, payload_hash = ?, updated_at = ?
		 WHERE rental_class_num = ?`,
		len(rows), func(i int) []any {
			it := rows[i]
			return []any{
				it.CommonName, it.Location, it.Quantity, it.TagCount,
				formatNullableTime(it.LastScanned), it.PayloadHash,
				it.UpdatedAt.UTC().Format(timeLayout), it.RentalClassNum,
			}
		})
}

func (r *Repo) ListInventoryItems(ctx context.Context) ([]storage.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rental_class_num, COALESCE(common_name,''), COALESCE(location,''), quantity, tag_count,
		        COALESCE(last_scanned,''), payload_hash, created_at, updated_at
		 FROM inventory_items ORDER BY rental_class_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.InventoryItem
	for rows.Next() {
		var it storage.InventoryItem
		var scanned, created, updated string
		if err := rows.Scan(&it.RentalClassNum, &it.CommonName, &it.Location, &it.Quantity, &it.TagCount,
			&scanned, &it.PayloadHash, &created, &updated); err != nil {
			return nil, err
		}
		it.LastScanned = parseTime(scanned)
		it.CreatedAt = parseTime(created)
		it.UpdatedAt = parseTime(updated)
		out = append(out, it)
	}
	return out, rows.Err()
}

// InsertPeriodFacts relies on INSERT OR IGNORE against the row-hash
// unique constraint; RowsAffected excludes ignored duplicates, which is
// exactly the "actually new" count.
func (r *Repo) InsertPeriodFacts(ctx context.Context, rows []storage.PeriodFact) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO period_facts (source_type, period_start, store_code, metrics, row_hash, batch_id, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, f := range rows {
		metrics, err := json.Marshal(f.Metrics)
		if err != nil {
			return 0, fmt.Errorf("marshal metrics: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			string(f.SourceType), f.PeriodStart.UTC().Format("2006-01-02"), f.StoreCode,
			string(metrics), f.RowHash, f.BatchID, f.ImportedAt.UTC().Format(timeLayout))
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}
	return inserted, tx.Commit()
}

func (r *Repo) ListCorrelations(ctx context.Context) ([]storage.CorrelationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at
		 FROM correlations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.CorrelationRecord
	for rows.Next() {
		c, err := scanCorrelation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertCorrelations(ctx context.Context, rows []storage.CorrelationRecord) error {
	return r.execPerRow(ctx,
		`INSERT INTO correlations (item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (item_num, rental_class_num) DO UPDATE SET
		   normalized_key = excluded.normalized_key,
		   match_type = excluded.match_type,
		   confidence = excluded.confidence,
		   tag_count = excluded.tag_count,
		   updated_at = excluded.updated_at`,
		len(rows), func(i int) []any {
			c := rows[i]
			return []any{
				c.ItemNum, c.RentalClassNum, c.NormalizedKey, c.MatchType, c.Confidence, c.TagCount,
				c.CreatedAt.UTC().Format(timeLayout), c.UpdatedAt.UTC().Format(timeLayout),
			}
		})
}

const orphanExpr = `(NOT EXISTS (SELECT 1 FROM equipment e WHERE e.item_num = c.item_num)
	 OR NOT EXISTS (SELECT 1 FROM inventory_items i WHERE i.rental_class_num = c.rental_class_num))`

func (r *Repo) GetCorrelationByEquipment(ctx context.Context, itemNum string) (*storage.CorrelationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at, `+orphanExpr+`
		 FROM correlations c WHERE item_num = ? LIMIT 1`, itemNum)

	var c storage.CorrelationRecord
	var created, updated string
	var orphaned int64
	err := row.Scan(&c.ID, &c.ItemNum, &c.RentalClassNum, &c.NormalizedKey, &c.MatchType,
		&c.Confidence, &c.TagCount, &created, &updated, &orphaned)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	c.Orphaned = orphaned != 0
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

	rows, err := r.db.QueryContext(ctx, q)
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

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM correlations`).Scan(&rep.TotalCorrelations); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM equipment`).Scan(&rep.TotalEquipment); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items`).Scan(&rep.TotalItems); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM correlations c WHERE `+orphanExpr).Scan(&rep.OrphanedCount); err != nil {
		return nil, err
	}

	var correlated int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT item_num) FROM correlations`).Scan(&correlated); err != nil {
		return nil, err
	}
	if rep.TotalEquipment > 0 {
		rep.CorrelatedPct = float64(correlated) / float64(rep.TotalEquipment) * 100
	}

	rows, err := r.db.QueryContext(ctx, `SELECT match_type, COUNT(*) FROM correlations GROUP BY match_type`)
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

// ---- helpers ----

// execPerRow runs one prepared statement per row inside a transaction.
// SQLite has no sendable batch API; a tx keeps chunk writes atomic.
func (r *Repo) execPerRow(ctx context.Context, q string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanCorrelation(scan func(dest ...any) error) (storage.CorrelationRecord, error) {
	var c storage.CorrelationRecord
	var created, updated string
	err := scan(&c.ID, &c.ItemNum, &c.RentalClassNum, &c.NormalizedKey, &c.MatchType,
		&c.Confidence, &c.TagCount, &created, &updated)
	if err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
