// Package postgres implements core.LedgerStore on PostgreSQL through a pgx pool.
// Row locks are SELECT ... FOR UPDATE inside a READ COMMITTED transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rackrunner/internal/core"
)

// Store runs every ledger transaction on pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const dayLayout = "2006-01-02"

// day converts a YYYY-MM-DD string into a DATE parameter.
func day(s string) (time.Time, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ── Racks ─────────────────────────────────────────────────────────────────────

const rackColumns = `id, capacity, status, opened_by, opened_at, closed_by, closed_at`

func scanRack(row pgx.Row) (core.Rack, bool, error) {
	var r core.Rack
	var status string
	err := row.Scan(&r.ID, &r.Capacity, &status, &r.OpenedBy, &r.OpenedAt, &r.ClosedBy, &r.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Rack{}, false, nil
	}
	if err != nil {
		return core.Rack{}, false, fmt.Errorf("failed to scan rack: %w", err)
	}
	if r.Status, err = core.ParseRackStatus(status); err != nil {
		return core.Rack{}, false, err
	}
	r.OpenedAt = r.OpenedAt.UTC()
	if r.ClosedAt != nil {
		t := r.ClosedAt.UTC()
		r.ClosedAt = &t
	}
	return r, true, nil
}

func (p *pgTx) LockRack(ctx context.Context, rackID string) (core.Rack, bool, error) {
	return scanRack(p.tx.QueryRow(ctx, `SELECT `+rackColumns+` FROM racks WHERE id = $1 FOR UPDATE`, rackID))
}

func (p *pgTx) GetRack(ctx context.Context, rackID string) (core.Rack, bool, error) {
	return scanRack(p.tx.QueryRow(ctx, `SELECT `+rackColumns+` FROM racks WHERE id = $1`, rackID))
}

func (p *pgTx) InsertRack(ctx context.Context, r core.Rack) (bool, error) {
	tag, err := p.tx.Exec(ctx, `
		INSERT INTO racks (id, capacity, status, opened_by, opened_at, closed_by, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Capacity, string(r.Status), r.OpenedBy, r.OpenedAt, r.ClosedBy, r.ClosedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert rack: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *pgTx) UpdateRack(ctx context.Context, r core.Rack) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE racks
		SET capacity = $2, status = $3, opened_by = $4, opened_at = $5, closed_by = $6, closed_at = $7
		WHERE id = $1
	`, r.ID, r.Capacity, string(r.Status), r.OpenedBy, r.OpenedAt, r.ClosedBy, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to update rack: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("rack %s does not exist", r.ID)
	}
	return nil
}

// ── Rack items ────────────────────────────────────────────────────────────────

func (p *pgTx) InsertRackItems(ctx context.Context, items []core.RackItem) error {
	rows := make([][]any, len(items))
	for i, it := range items {
		d, err := day(it.BatchDate)
		if err != nil {
			return err
		}
		rows[i] = []any{it.RackID, it.MealCode, d, it.Serial, it.ScannedBy, it.ScannedAt}
	}
	_, err := p.tx.CopyFrom(ctx,
		pgx.Identifier{"rack_items"},
		[]string{"rack_id", "meal_code", "batch_date", "serial", "scanned_by", "scanned_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy rack items: %w", err)
	}
	return nil
}

func (p *pgTx) CountRackItems(ctx context.Context, rackID string) (int, error) {
	var n int
	if err := p.tx.QueryRow(ctx, `SELECT COUNT(*) FROM rack_items WHERE rack_id = $1`, rackID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rack items: %w", err)
	}
	return n, nil
}

func (p *pgTx) GroupRackItems(ctx context.Context, rackID string) ([]core.ItemGroup, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT meal_code, to_char(batch_date, 'YYYY-MM-DD'), COUNT(*)
		FROM rack_items
		WHERE rack_id = $1
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

func (p *pgTx) DeleteRackItems(ctx context.Context, rackID string) (int, error) {
	tag, err := p.tx.Exec(ctx, `DELETE FROM rack_items WHERE rack_id = $1`, rackID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rack items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Batches ───────────────────────────────────────────────────────────────────

const batchColumns = `id, meal_code, to_char(batch_date, 'YYYY-MM-DD'), qty_total, qty_available, from_rack_id, sealed_at`

func scanBatch(row pgx.Row) (core.InventoryBatch, error) {
	var b core.InventoryBatch
	if err := row.Scan(&b.ID, &b.MealCode, &b.BatchDate, &b.QtyTotal, &b.QtyAvailable, &b.FromRackID, &b.SealedAt); err != nil {
		return core.InventoryBatch{}, err
	}
	b.SealedAt = b.SealedAt.UTC()
	return b, nil
}

func (p *pgTx) queryBatches(ctx context.Context, sql string, args ...any) ([]core.InventoryBatch, error) {
	rows, err := p.tx.Query(ctx, sql, args...)
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

func (p *pgTx) InsertBatch(ctx context.Context, b core.InventoryBatch) (int64, error) {
	d, err := day(b.BatchDate)
	if err != nil {
		return 0, err
	}
	var id int64
	err = p.tx.QueryRow(ctx, `
		INSERT INTO inventory_batches (meal_code, batch_date, qty_total, qty_available, from_rack_id, sealed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, b.MealCode, d, b.QtyTotal, b.QtyAvailable, b.FromRackID, b.SealedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", err)
	}
	return id, nil
}

func (p *pgTx) LockAvailableBatches(ctx context.Context, mealCode string) ([]core.InventoryBatch, error) {
	return p.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE meal_code = $1 AND qty_available > 0
		ORDER BY batch_date, sealed_at, id
		FOR UPDATE
	`, mealCode)
}

func (p *pgTx) LockBatch(ctx context.Context, batchID int64) (core.InventoryBatch, bool, error) {
	b, err := scanBatch(p.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE id = $1 FOR UPDATE`, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.InventoryBatch{}, false, nil
	}
	if err != nil {
		return core.InventoryBatch{}, false, fmt.Errorf("failed to lock batch: %w", err)
	}
	return b, true, nil
}

func (p *pgTx) DecrementBatch(ctx context.Context, batchID int64, qty int) error {
	tag, err := p.tx.Exec(ctx, `UPDATE inventory_batches SET qty_available = qty_available - $2 WHERE id = $1`, batchID, qty)
	if err != nil {
		return fmt.Errorf("failed to decrement batch: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("batch %d does not exist", batchID)
	}
	return nil
}

func (p *pgTx) BatchesFromRack(ctx context.Context, rackID string) ([]core.InventoryBatch, error) {
	return p.queryBatches(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE from_rack_id = $1 ORDER BY id`, rackID)
}

func (p *pgTx) InventorySummary(ctx context.Context) (core.InventorySummary, error) {
	var sum core.InventorySummary
	rows, err := p.tx.Query(ctx, `
		SELECT meal_code, COALESCE(SUM(qty_available), 0), COALESCE(SUM(qty_total), 0)
		FROM inventory_batches
		GROUP BY meal_code
		ORDER BY meal_code
	`)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize stock: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m core.MealStock
		if err := rows.Scan(&m.MealCode, &m.QtyAvailable, &m.QtyTotal); err != nil {
			return sum, fmt.Errorf("failed to scan meal stock: %w", err)
		}
		sum.ByMeal = append(sum.ByMeal, m)
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}

	sum.ByBatch, err = p.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE qty_available > 0
		ORDER BY meal_code, batch_date, sealed_at, id
	`)
	return sum, err
}

// ── Requirements and allocations ──────────────────────────────────────────────

const requirementColumns = `id, to_char(day, 'YYYY-MM-DD'), meal_code, qty_needed, created_at`

func scanRequirement(row pgx.Row) (core.PackingRequirement, error) {
	var r core.PackingRequirement
	if err := row.Scan(&r.ID, &r.Day, &r.MealCode, &r.QtyNeeded, &r.CreatedAt); err != nil {
		return core.PackingRequirement{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (p *pgTx) InsertRequirement(ctx context.Context, r core.PackingRequirement) error {
	d, err := day(r.Day)
	if err != nil {
		return err
	}
	_, err = p.tx.Exec(ctx, `
		INSERT INTO packing_requirements (id, day, meal_code, qty_needed, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, d, r.MealCode, r.QtyNeeded, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert requirement: %w", err)
	}
	return nil
}

func (p *pgTx) LockRequirement(ctx context.Context, requirementID string) (core.PackingRequirement, bool, error) {
	r, err := scanRequirement(p.tx.QueryRow(ctx,
		`SELECT `+requirementColumns+` FROM packing_requirements WHERE id = $1 FOR UPDATE`, requirementID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.PackingRequirement{}, false, nil
	}
	if err != nil {
		return core.PackingRequirement{}, false, fmt.Errorf("failed to lock requirement: %w", err)
	}
	return r, true, nil
}

func (p *pgTx) ListRequirements(ctx context.Context, dayStr string) ([]core.PackingRequirement, error) {
	d, err := day(dayStr)
	if err != nil {
		return nil, err
	}
	rows, err := p.tx.Query(ctx, `
		SELECT `+requirementColumns+`
		FROM packing_requirements
		WHERE day = $1
		ORDER BY meal_code, created_at, id
	`, d)
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

func (p *pgTx) SumAllocated(ctx context.Context, requirementID string) (int, error) {
	var sum int
	err := p.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM allocations WHERE requirement_id = $1`, requirementID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum allocations: %w", err)
	}
	return sum, nil
}

func (p *pgTx) InsertAllocation(ctx context.Context, a core.Allocation) (int64, error) {
	var id int64
	err := p.tx.QueryRow(ctx, `
		INSERT INTO allocations (requirement_id, batch_id, qty, allocated_by, allocated_at, override_fifo, override_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.RequirementID, a.BatchID, a.Qty, a.AllocatedBy, a.AllocatedAt, a.OverrideFIFO, a.OverrideReason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert allocation: %w", err)
	}
	return id, nil
}

func (p *pgTx) AllocationsFor(ctx context.Context, requirementID string) ([]core.Allocation, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT id, requirement_id, batch_id, qty, allocated_by, allocated_at, override_fifo, override_reason
		FROM allocations
		WHERE requirement_id = $1
		ORDER BY id
	`, requirementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []core.Allocation
	for rows.Next() {
		var a core.Allocation
		if err := rows.Scan(&a.ID, &a.RequirementID, &a.BatchID, &a.Qty, &a.AllocatedBy, &a.AllocatedAt, &a.OverrideFIFO, &a.OverrideReason); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.AllocatedAt = a.AllocatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func (p *pgTx) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := p.tx.Exec(ctx, `
		INSERT INTO audit_log (action, actor, payload, ts) VALUES ($1, $2, $3::jsonb, $4)
	`, e.Action, e.Actor, string(e.Payload), e.At)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (p *pgTx) ListAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT id, action, actor, payload::text, ts
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &payload, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
