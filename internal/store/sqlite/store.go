// Package sqlite implements core.LedgerStore on an embedded SQLite file via the
// pure Go modernc driver.
//
// SQLite has no row locks. Every transaction starts with BEGIN IMMEDIATE, which takes
// the database write lock up front, so transactions are fully serialised and the
// Lock* methods are plain reads.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"rackrunner/internal/core"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "rackrunner.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: in-process writers queue on the pool, which honours ctx.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&liteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type liteTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

// ── Racks ─────────────────────────────────────────────────────────────────────

const rackColumns = `id, capacity, status, opened_by, opened_at, closed_by, closed_at`

func scanRack(row scanner) (core.Rack, bool, error) {
	var (
		r        core.Rack
		status   string
		openedAt int64
		closedBy sql.NullString
		closedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Capacity, &status, &r.OpenedBy, &openedAt, &closedBy, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Rack{}, false, nil
	}
	if err != nil {
		return core.Rack{}, false, fmt.Errorf("failed to scan rack: %w", err)
	}
	if r.Status, err = core.ParseRackStatus(status); err != nil {
		return core.Rack{}, false, err
	}
	r.OpenedAt = fromNanos(openedAt)
	if closedBy.Valid {
		r.ClosedBy = &closedBy.String
	}
	if closedAt.Valid {
		t := fromNanos(closedAt.Int64)
		r.ClosedAt = &t
	}
	return r, true, nil
}

func (l *liteTx) LockRack(ctx context.Context, rackID string) (core.Rack, bool, error) {
	return l.GetRack(ctx, rackID)
}

func (l *liteTx) GetRack(ctx context.Context, rackID string) (core.Rack, bool, error) {
	return scanRack(l.tx.QueryRowContext(ctx, `SELECT `+rackColumns+` FROM racks WHERE id = ?`, rackID))
}

func (l *liteTx) InsertRack(ctx context.Context, r core.Rack) (bool, error) {
	res, err := l.tx.ExecContext(ctx, `
		INSERT INTO racks (id, capacity, status, opened_by, opened_at, closed_by, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Capacity, string(r.Status), r.OpenedBy, nanos(r.OpenedAt), r.ClosedBy, nullTime(r.ClosedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert rack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (l *liteTx) UpdateRack(ctx context.Context, r core.Rack) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE racks
		SET capacity = ?, status = ?, opened_by = ?, opened_at = ?, closed_by = ?, closed_at = ?
		WHERE id = ?
	`, r.Capacity, string(r.Status), r.OpenedBy, nanos(r.OpenedAt), r.ClosedBy, nullTime(r.ClosedAt), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rack: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("rack %s does not exist", r.ID)
	}
	return nil
}

// ── Rack items ────────────────────────────────────────────────────────────────

func (l *liteTx) InsertRackItems(ctx context.Context, items []core.RackItem) error {
	stmt, err := l.tx.PrepareContext(ctx, `
		INSERT INTO rack_items (rack_id, meal_code, batch_date, serial, scanned_by, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.RackID, it.MealCode, it.BatchDate, it.Serial, it.ScannedBy, nanos(it.ScannedAt)); err != nil {
			return fmt.Errorf("failed to insert rack item: %w", err)
		}
	}
	return nil
}

func (l *liteTx) CountRackItems(ctx context.Context, rackID string) (int, error) {
	var n int
	if err := l.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rack_items WHERE rack_id = ?`, rackID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rack items: %w", err)
	}
	return n, nil
}

func (l *liteTx) GroupRackItems(ctx context.Context, rackID string) ([]core.ItemGroup, error) {
	rows, err := l.tx.QueryContext(ctx, `
		SELECT meal_code, batch_date, COUNT(*)
		FROM rack_items
		WHERE rack_id = ?
		GROUP BY meal_code, batch_date
		ORDER BY batch_date, meal_code
	`, rackID)
	if err != nil {
		return nil, fmt.Errorf("failed to group rack items: %w", err)
	}
	defer rows.Close()

	var groups []core.ItemGroup
	for rows.Next() {
		var g core.ItemGroup
		if err := rows.Scan(&g.MealCode, &g.BatchDate, &g.Qty); err != nil {
			return nil, fmt.Errorf("failed to scan item group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (l *liteTx) DeleteRackItems(ctx context.Context, rackID string) (int, error) {
	res, err := l.tx.ExecContext(ctx, `DELETE FROM rack_items WHERE rack_id = ?`, rackID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rack items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ── Batches ───────────────────────────────────────────────────────────────────

const batchColumns = `id, meal_code, batch_date, qty_total, qty_available, from_rack_id, sealed_at`

func scanBatch(row scanner) (core.InventoryBatch, error) {
	var b core.InventoryBatch
	var sealedAt int64
	if err := row.Scan(&b.ID, &b.MealCode, &b.BatchDate, &b.QtyTotal, &b.QtyAvailable, &b.FromRackID, &sealedAt); err != nil {
		return core.InventoryBatch{}, err
	}
	b.SealedAt = fromNanos(sealedAt)
	return b, nil
}

func (l *liteTx) queryBatches(ctx context.Context, query string, args ...any) ([]core.InventoryBatch, error) {
	rows, err := l.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []core.InventoryBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (l *liteTx) InsertBatch(ctx context.Context, b core.InventoryBatch) (int64, error) {
	res, err := l.tx.ExecContext(ctx, `
		INSERT INTO inventory_batches (meal_code, batch_date, qty_total, qty_available, from_rack_id, sealed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.MealCode, b.BatchDate, b.QtyTotal, b.QtyAvailable, b.FromRackID, nanos(b.SealedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", err)
	}
	return res.LastInsertId()
}

func (l *liteTx) LockAvailableBatches(ctx context.Context, mealCode string) ([]core.InventoryBatch, error) {
	return l.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE meal_code = ? AND qty_available > 0
		ORDER BY batch_date, sealed_at, id
	`, mealCode)
}

func (l *liteTx) LockBatch(ctx context.Context, batchID int64) (core.InventoryBatch, bool, error) {
	b, err := scanBatch(l.tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE id = ?`, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.InventoryBatch{}, false, nil
	}
	if err != nil {
		return core.InventoryBatch{}, false, fmt.Errorf("failed to read batch: %w", err)
	}
	return b, true, nil
}

func (l *liteTx) DecrementBatch(ctx context.Context, batchID int64, qty int) error {
	res, err := l.tx.ExecContext(ctx, `UPDATE inventory_batches SET qty_available = qty_available - ? WHERE id = ?`, qty, batchID)
	if err != nil {
		return fmt.Errorf("failed to decrement batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("batch %d does not exist", batchID)
	}
	return nil
}

func (l *liteTx) BatchesFromRack(ctx context.Context, rackID string) ([]core.InventoryBatch, error) {
	return l.queryBatches(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE from_rack_id = ? ORDER BY id`, rackID)
}

func (l *liteTx) InventorySummary(ctx context.Context) (core.InventorySummary, error) {
	var sum core.InventorySummary
	rows, err := l.tx.QueryContext(ctx, `
		SELECT meal_code, COALESCE(SUM(qty_available), 0), COALESCE(SUM(qty_total), 0)
		FROM inventory_batches
		GROUP BY meal_code
		ORDER BY meal_code
	`)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize stock: %w", err)
	}
	for rows.Next() {
		var m core.MealStock
		if err := rows.Scan(&m.MealCode, &m.QtyAvailable, &m.QtyTotal); err != nil {
			rows.Close()
			return sum, fmt.Errorf("failed to scan meal stock: %w", err)
		}
		sum.ByMeal = append(sum.ByMeal, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, err
	}

	sum.ByBatch, err = l.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE qty_available > 0
		ORDER BY meal_code, batch_date, sealed_at, id
	`)
	return sum, err
}

// ── Requirements and allocations ──────────────────────────────────────────────

const requirementColumns = `id, day, meal_code, qty_needed, created_at`

func scanRequirement(row scanner) (core.PackingRequirement, error) {
	var r core.PackingRequirement
	var createdAt int64
	if err := row.Scan(&r.ID, &r.Day, &r.MealCode, &r.QtyNeeded, &createdAt); err != nil {
		return core.PackingRequirement{}, err
	}
	r.CreatedAt = fromNanos(createdAt)
	return r, nil
}

func (l *liteTx) InsertRequirement(ctx context.Context, r core.PackingRequirement) error {
	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO packing_requirements (id, day, meal_code, qty_needed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.Day, r.MealCode, r.QtyNeeded, nanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert requirement: %w", err)
	}
	return nil
}

func (l *liteTx) LockRequirement(ctx context.Context, requirementID string) (core.PackingRequirement, bool, error) {
	r, err := scanRequirement(l.tx.QueryRowContext(ctx,
		`SELECT `+requirementColumns+` FROM packing_requirements WHERE id = ?`, requirementID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.PackingRequirement{}, false, nil
	}
	if err != nil {
		return core.PackingRequirement{}, false, fmt.Errorf("failed to read requirement: %w", err)
	}
	return r, true, nil
}

func (l *liteTx) ListRequirements(ctx context.Context, day string) ([]core.PackingRequirement, error) {
	rows, err := l.tx.QueryContext(ctx, `
		SELECT `+requirementColumns+`
		FROM packing_requirements
		WHERE day = ?
		ORDER BY meal_code, created_at, id
	`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query requirements: %w", err)
	}
	defer rows.Close()

	var reqs []core.PackingRequirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (l *liteTx) SumAllocated(ctx context.Context, requirementID string) (int, error) {
	var sum int
	err := l.tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(qty), 0) FROM allocations WHERE requirement_id = ?`, requirementID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum allocations: %w", err)
	}
	return sum, nil
}

func (l *liteTx) InsertAllocation(ctx context.Context, a core.Allocation) (int64, error) {
	res, err := l.tx.ExecContext(ctx, `
		INSERT INTO allocations (requirement_id, batch_id, qty, allocated_by, allocated_at, override_fifo, override_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.RequirementID, a.BatchID, a.Qty, a.AllocatedBy, nanos(a.AllocatedAt), a.OverrideFIFO, a.OverrideReason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert allocation: %w", err)
	}
	return res.LastInsertId()
}

func (l *liteTx) AllocationsFor(ctx context.Context, requirementID string) ([]core.Allocation, error) {
	rows, err := l.tx.QueryContext(ctx, `
		SELECT id, requirement_id, batch_id, qty, allocated_by, allocated_at, override_fifo, override_reason
		FROM allocations
		WHERE requirement_id = ?
		ORDER BY id
	`, requirementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []core.Allocation
	for rows.Next() {
		var a core.Allocation
		var at int64
		var reason sql.NullString
		if err := rows.Scan(&a.ID, &a.RequirementID, &a.BatchID, &a.Qty, &a.AllocatedBy, &at, &a.OverrideFIFO, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.AllocatedAt = fromNanos(at)
		if reason.Valid {
			a.OverrideReason = &reason.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func (l *liteTx) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := l.tx.ExecContext(ctx, `INSERT INTO audit_log (action, actor, payload, ts) VALUES (?, ?, ?, ?)`,
		e.Action, e.Actor, string(e.Payload), nanos(e.At))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (l *liteTx) ListAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	rows, err := l.tx.QueryContext(ctx, `SELECT id, action, actor, payload, ts FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		var payload string
		var ts int64
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &payload, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.At = fromNanos(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
