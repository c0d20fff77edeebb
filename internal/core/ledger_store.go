package core

import "context"

// LedgerStore is the durable backing store for every rack, batch, requirement,
// allocation and audit row. Services hold no other state.
type LedgerStore interface {
	// WithTx runs fn inside one transaction. The transaction commits if fn returns nil
	// and rolls back otherwise; row locks taken through the LedgerTx are held until then.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the transaction-scoped view of the store.
//
// Lock* methods take exclusive row locks (SELECT ... FOR UPDATE or equivalent) that block
// until granted or ctx is done. Mutations of rack, requirement and batch rows are only
// legal on rows this transaction has locked; drivers may reject writes that are not.
type LedgerTx interface {
	// ── Racks ───────────────────────────────────────────────────────────────

	// LockRack locks the rack row. ok is false when no row exists.
	LockRack(ctx context.Context, rackID string) (rack Rack, ok bool, err error)
	// InsertRack creates the rack row. inserted is false when a concurrent transaction
	// created the same id first; the caller should LockRack again.
	InsertRack(ctx context.Context, rack Rack) (inserted bool, err error)
	UpdateRack(ctx context.Context, rack Rack) error
	GetRack(ctx context.Context, rackID string) (rack Rack, ok bool, err error)

	// ── Rack items ──────────────────────────────────────────────────────────

	InsertRackItems(ctx context.Context, items []RackItem) error
	CountRackItems(ctx context.Context, rackID string) (int, error)
	// GroupRackItems aggregates items by (meal code, batch date), ordered by batch date then meal code.
	GroupRackItems(ctx context.Context, rackID string) ([]ItemGroup, error)
	DeleteRackItems(ctx context.Context, rackID string) (int, error)

	// ── Batches ─────────────────────────────────────────────────────────────

	InsertBatch(ctx context.Context, batch InventoryBatch) (int64, error)
	// LockAvailableBatches locks every batch of mealCode with qty_available > 0 and returns
	// them in FIFO order: batch_date ASC, sealed_at ASC, id ASC.
	LockAvailableBatches(ctx context.Context, mealCode string) ([]InventoryBatch, error)
	LockBatch(ctx context.Context, batchID int64) (batch InventoryBatch, ok bool, err error)
	DecrementBatch(ctx context.Context, batchID int64, qty int) error
	BatchesFromRack(ctx context.Context, rackID string) ([]InventoryBatch, error)
	InventorySummary(ctx context.Context) (InventorySummary, error)

	// ── Requirements and allocations ────────────────────────────────────────

	InsertRequirement(ctx context.Context, req PackingRequirement) error
	LockRequirement(ctx context.Context, requirementID string) (req PackingRequirement, ok bool, err error)
	ListRequirements(ctx context.Context, day string) ([]PackingRequirement, error)
	SumAllocated(ctx context.Context, requirementID string) (int, error)
	InsertAllocation(ctx context.Context, alloc Allocation) (int64, error)
	AllocationsFor(ctx context.Context, requirementID string) ([]Allocation, error)

	// ── Audit ───────────────────────────────────────────────────────────────

	RecordAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}
