// Package mssql implements storage.Repository for Microsoft SQL Server.
//
// This implementation supports:
//   - Raw staging inserts (per-row within a transaction; SQL Server caps
//     parameters per statement well below a useful multi-row size).
//   - Hash-classified entity upserts (plain INSERT/UPDATE per engine decision).
//   - Advisory locks via sp_getapplock at Session scope.
//
// SQL Server has no ON CONFLICT; idempotent inserts use
// "INSERT ... WHERE NOT EXISTS" against the dedupe columns.
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
// Connectivity is validated via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty chunked loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) EnsureSchema(ctx context.Context, sourceTypes []schema.SourceType) error {
	stmts := []struct {
		table string
		ddl   string
	}{
		{"source_files", `CREATE TABLE source_files (
			batch_id NVARCHAR(64) NOT NULL PRIMARY KEY,
			source_type NVARCHAR(64) NOT NULL,
			file_name NVARCHAR(512) NOT NULL,
			rows_read BIGINT NOT NULL DEFAULT 0,
			rows_staged BIGINT NOT NULL DEFAULT 0,
			status NVARCHAR(16) NOT NULL,
			started_at DATETIMEOFFSET NOT NULL,
			committed_at DATETIMEOFFSET NULL
		)`},
		{"equipment", `CREATE TABLE equipment (
			item_num NVARCHAR(64) NOT NULL PRIMARY KEY,
			name NVARCHAR(512) NULL,
			category NVARCHAR(256) NULL,
			department NVARCHAR(256) NULL,
			store_code NVARCHAR(32) NULL,
			qty_owned BIGINT NOT NULL DEFAULT 0,
			sell_price DECIMAL(14,2) NULL,
			turnover_ytd DECIMAL(14,2) NULL,
			inactive BIT NOT NULL DEFAULT 0,
			payload_hash NVARCHAR(64) NOT NULL,
			created_at DATETIMEOFFSET NOT NULL,
			updated_at DATETIMEOFFSET NOT NULL
		)`},
		{"inventory_items", `CREATE TABLE inventory_items (
			rental_class_num NVARCHAR(64) NOT NULL PRIMARY KEY,
			common_name NVARCHAR(512) NULL,
			location NVARCHAR(256) NULL,
			quantity BIGINT NOT NULL DEFAULT 0,
			tag_count BIGINT NOT NULL DEFAULT 0,
			last_scanned DATETIMEOFFSET NULL,
			payload_hash NVARCHAR(64) NOT NULL,
			created_at DATETIMEOFFSET NOT NULL,
			updated_at DATETIMEOFFSET NOT NULL
		)`},
		{"correlations", `CREATE TABLE correlations (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			item_num NVARCHAR(64) NOT NULL,
			rental_class_num NVARCHAR(64) NOT NULL,
			normalized_key NVARCHAR(64) NOT NULL,
			match_type NVARCHAR(32) NOT NULL,
			confidence BIGINT NOT NULL,
			tag_count BIGINT NOT NULL DEFAULT 0,
			created_at DATETIMEOFFSET NOT NULL,
			updated_at DATETIMEOFFSET NOT NULL,
			CONSTRAINT uq_correlations_pair UNIQUE (item_num, rental_class_num)
		)`},
		{"period_facts", `CREATE TABLE period_facts (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			source_type NVARCHAR(64) NOT NULL,
			period_start DATE NOT NULL,
			store_code NVARCHAR(32) NOT NULL,
			metrics NVARCHAR(MAX) NOT NULL,
			row_hash NVARCHAR(64) NOT NULL,
			batch_id NVARCHAR(64) NOT NULL,
			imported_at DATETIMEOFFSET NOT NULL,
			CONSTRAINT uq_period_facts_row UNIQUE (source_type, period_start, store_code, row_hash)
		)`},
	}
	for _, st := range sourceTypes {
		t := storage.RawTableName(st)
		stmts = append(stmts, struct {
			table string
			ddl   string
		}{t, fmt.Sprintf(`CREATE TABLE %s (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			batch_id NVARCHAR(64) NOT NULL INDEX idx_%s_batch,
			line BIGINT NOT NULL,
			import_status NVARCHAR(16) NOT NULL,
			payload NVARCHAR(MAX) NOT NULL
		)`, t, t)})
	}

	for _, s := range stmts {
		q := fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN %s END`, s.table, s.ddl)
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: ensure schema %s: %w", s.table, err)
		}
	}
	return nil
}

// TryLock uses sp_getapplock with Session owner so the lock outlives
// individual statements but dies with the connection. The lock must be
// taken and released on the same session, hence the pinned sql.Conn.
func (r *Repo) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var result int
	err = conn.QueryRowContext(ctx,
		`DECLARE @r INT;
		 EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = 0;
		 SELECT @r`, key).Scan(&result)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if result < 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("lock %q: %w", key, storage.ErrLockHeld)
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		_, err := conn.ExecContext(ctx,
			`EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'`, key)
		return err
	}, nil
}

func (r *Repo) CreateSourceFile(ctx context.Context, sf *storage.SourceFile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO source_files (batch_id, source_type, file_name, rows_read, rows_staged, status, started_at)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,
		sf.BatchID, string(sf.SourceType), sf.FileName, sf.RowsRead, sf.RowsStaged, sf.Status, sf.StartedAt)
	return err
}

func (r *Repo) FinalizeSourceFile(ctx context.Context, sf *storage.SourceFile) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE source_files SET rows_read = @p1, rows_staged = @p2, status = @p3, committed_at = @p4 WHERE batch_id = @p5`,
		sf.RowsRead, sf.RowsStaged, sf.Status, sf.CommittedAt, sf.BatchID)
	return err
}

func (r *Repo) ListSourceFiles(ctx context.Context, limit int) ([]storage.SourceFile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT TOP (@p1) batch_id, source_type, file_name, rows_read, rows_staged, status, started_at, committed_at
		 FROM source_files ORDER BY started_at DESC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.SourceFile
	for rows.Next() {
		var sf storage.SourceFile
		var st string
		var committed sql.NullTime
		if err := rows.Scan(&sf.BatchID, &st, &sf.FileName, &sf.RowsRead, &sf.RowsStaged, &sf.Status, &sf.StartedAt, &committed); err != nil {
			return nil, err
		}
		sf.SourceType = schema.SourceType(st)
		if committed.Valid {
			sf.CommittedAt = committed.Time
		}
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
		`INSERT INTO %s (batch_id, line, import_status, payload) VALUES (@p1, @p2, @p3, @p4)`,
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
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE batch_id IN (SELECT batch_id FROM source_files WHERE started_at < @p1)`,
		storage.RawTableName(st)), before)
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

// selectHashes chunks the key list to stay under the 2100-parameter
// statement limit in SQL Server.
func (r *Repo) selectHashes(ctx context.Context, table, keyCol string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	const chunk = 1000

	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		part := keys[start:end]

		q := fmt.Sprintf(`SELECT %s, payload_hash FROM %s WHERE %s IN (%s)`,
			keyCol, table, keyCol, placeholders(len(part)))
		args := make([]any, len(part))
		for i, k := range part {
			args[i] = k
		}

		rows, err := r.db.QueryContext(ctx, q, args...)
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
	return r.execPerRow(ctx,
		`INSERT INTO equipment (item_num, name, category, department, store_code, qty_owned, sell_price, turnover_ytd, inactive, payload_hash, created_at, updated_at)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11, @p12)`,
		len(rows), func(i int) []any {
			e := rows[i]
			return []any{
				e.ItemNum, e.Name, e.Category, e.Department, e.StoreCode, e.QtyOwned,
				e.SellPrice.String(), e.TurnoverYTD.String(), e.Inactive, e.PayloadHash,
				e.CreatedAt, e.UpdatedAt,
			}
		})
}

func (r *Repo) UpdateEquipment(ctx context.Context, rows []storage.Equipment) error {
	return r.execPerRow(ctx,
		`UPDATE equipment SET name = @p1, category = @p2, department = @p3, store_code = @p4, qty_owned = @p5, sell_price = @p6, turnover_ytd = @p7, inactive = @p8, payload_hash = @p9, updated_at = @p10
		 WHERE item_num = @p11`,
		len(rows), func(i int) []any {
			e := rows[i]
			return []any{
				e.Name, e.Category, e.Department, e.StoreCode, e.QtyOwned,
				e.SellPrice.String(), e.TurnoverYTD.String(), e.Inactive, e.PayloadHash,
				e.UpdatedAt, e.ItemNum,
			}
		})
}

func (r *Repo) ListEquipment(ctx context.Context) ([]storage.Equipment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_num, COALESCE(name,''), COALESCE(category,''), COALESCE(department,''), COALESCE(store_code,''),
		        qty_owned, COALESCE(CONVERT(NVARCHAR(40), sell_price), '0'), COALESCE(CONVERT(NVARCHAR(40), turnover_ytd), '0'),
		        inactive, payload_hash, created_at, updated_at
		 FROM equipment ORDER BY item_num`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Equipment
	for rows.Next() {
		var e storage.Equipment
		var sell, turn string
		if err := rows.Scan(&e.ItemNum, &e.Name, &e.Category, &e.Department, &e.StoreCode,
			&e.QtyOwned, &sell, &turn, &e.Inactive, &e.PayloadHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.SellPrice = mustDecimal(sell)
		e.TurnoverYTD = mustDecimal(turn)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) InsertInventoryItems(ctx context.Context, rows []storage.InventoryItem) error {
	return r.execPerRow(ctx,
		`INSERT INTO inventory_items (rental_class_num, common_name, location, quantity, tag_count, last_scanned, payload_hash, created_at, updated_at)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9)`,
		len(rows), func(i int) []any {
			it := rows[i]
			return []any{
				it.RentalClassNum, it.CommonName, it.Location, it.Quantity, it.TagCount,
				nullableTime(it.LastScanned), it.PayloadHash, it.CreatedAt, it.UpdatedAt,
			}
		})
}

func (r *Repo) UpdateInventoryItems(ctx context.Context, rows []storage.InventoryItem) error {
	return r.execPerRow(ctx,
		`UPDATE inventory_items SET common_name = @p1, location = @p2, quantity = @p3, tag_count = @p4, last_scanned = @p5, payload_hash = @p6, updated_at = @p7
		 WHERE rental_class_num = @p8`,
		len(rows), func(i int) []any {
			it := rows[i]
			return []any{
				it.CommonName, it.Location, it.Quantity, it.TagCount,
				nullableTime(it.LastScanned), it.PayloadHash, it.UpdatedAt, it.RentalClassNum,
			}
		})
}

func (r *Repo) ListInventoryItems(ctx context.Context) ([]storage.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx,
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
		var scanned sql.NullTime
		if err := rows.Scan(&it.RentalClassNum, &it.CommonName, &it.Location, &it.Quantity, &it.TagCount,
			&scanned, &it.PayloadHash, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if scanned.Valid {
			it.LastScanned = scanned.Time
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// InsertPeriodFacts uses INSERT ... WHERE NOT EXISTS for idempotency;
// RowsAffected per statement is 1 for new rows and 0 for duplicates.
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
		`INSERT INTO period_facts (source_type, period_start, store_code, metrics, row_hash, batch_id, imported_at)
		 SELECT @p1, @p2, @p3, @p4, @p5, @p6, @p7
		 WHERE NOT EXISTS (
		   SELECT 1 FROM period_facts
		   WHERE source_type = @p1 AND period_start = @p2 AND store_code = @p3 AND row_hash = @p5
		 )`)
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
			string(f.SourceType), f.PeriodStart, f.StoreCode, string(metrics), f.RowHash, f.BatchID, f.ImportedAt)
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
		var c storage.CorrelationRecord
		if err := rows.Scan(&c.ID, &c.ItemNum, &c.RentalClassNum, &c.NormalizedKey, &c.MatchType,
			&c.Confidence, &c.TagCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCorrelations is an update-then-insert per pair. MERGE would also
// work but carries well-known concurrency caveats; the resolve lock
// already serializes writers.
func (r *Repo) UpsertCorrelations(ctx context.Context, rows []storage.CorrelationRecord) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	update, err := tx.PrepareContext(ctx,
		`UPDATE correlations SET normalized_key = @p1, match_type = @p2, confidence = @p3, tag_count = @p4, updated_at = @p5
		 WHERE item_num = @p6 AND rental_class_num = @p7`)
	if err != nil {
		return err
	}
	defer update.Close()

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO correlations (item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for _, c := range rows {
		res, err := update.ExecContext(ctx,
			c.NormalizedKey, c.MatchType, c.Confidence, c.TagCount, c.UpdatedAt,
			c.ItemNum, c.RentalClassNum)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := insert.ExecContext(ctx,
			c.ItemNum, c.RentalClassNum, c.NormalizedKey, c.MatchType, c.Confidence, c.TagCount,
			c.CreatedAt, c.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const orphanExpr = `(NOT EXISTS (SELECT 1 FROM equipment e WHERE e.item_num = c.item_num)
	 OR NOT EXISTS (SELECT 1 FROM inventory_items i WHERE i.rental_class_num = c.rental_class_num))`

func (r *Repo) GetCorrelationByEquipment(ctx context.Context, itemNum string) (*storage.CorrelationRecord, error) {
	var c storage.CorrelationRecord
	var orphaned bool
	err := r.db.QueryRowContext(ctx,
		`SELECT TOP 1 id, item_num, rental_class_num, normalized_key, match_type, confidence, tag_count, created_at, updated_at,
		        CASE WHEN `+orphanExpr+` THEN 1 ELSE 0 END
		 FROM correlations c WHERE item_num = @p1`, itemNum).
		Scan(&c.ID, &c.ItemNum, &c.RentalClassNum, &c.NormalizedKey, &c.MatchType,
			&c.Confidence, &c.TagCount, &c.CreatedAt, &c.UpdatedAt, &orphaned)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Orphaned = orphaned
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

	var correlated int64
	err := r.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT_BIG(*) FROM correlations),
		(SELECT COUNT_BIG(*) FROM equipment),
		(SELECT COUNT_BIG(*) FROM inventory_items),
		(SELECT COUNT_BIG(*) FROM correlations c WHERE `+orphanExpr+`),
		(SELECT COUNT_BIG(DISTINCT item_num) FROM correlations)`).
		Scan(&rep.TotalCorrelations, &rep.TotalEquipment, &rep.TotalItems, &rep.OrphanedCount, &correlated)
	if err != nil {
		return nil, err
	}
	if rep.TotalEquipment > 0 {
		rep.CorrelatedPct = float64(correlated) / float64(rep.TotalEquipment) * 100
	}

	rows, err := r.db.QueryContext(ctx, `SELECT match_type, COUNT_BIG(*) FROM correlations GROUP BY match_type`)
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

/* ---------- helpers ---------- */

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

func placeholders(n int) string {
	var b []byte
	for i := 1; i <= n; i++ {
		if i > 1 {
			b = append(b, ',', ' ')
		}
		b = append(b, fmt.Sprintf("@p%d", i)...)
	}
	return string(b)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
