// Package memory is an in-process core.LedgerStore.
//
// It implements the same row-locking contract as the SQL drivers: Lock* calls take an
// exclusive per-row lock held until the transaction ends (lock keys exist for absent
// rows too, so a lock on a missing rack also serialises its creation), and writes to
// rack, batch and requirement rows the transaction has not locked are refused.
// Rollback replays an undo log.
//
// Reads that do not lock are not isolated: they observe uncommitted writes of other
// transactions. The services only make decisions on locked rows, so this is enough
// for tests and local runs; it is not a general-purpose database.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"rackrunner/internal/core"
)

var (
	ErrNotLocked = errors.New("memory: row not locked by this transaction")
	ErrTxDone    = errors.New("memory: transaction already finished")
)

type rowLock struct {
	owner    int64
	released chan struct{}
}

// Store holds every ledger row in memory. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	racks    map[string]core.Rack
	items    map[string][]core.RackItem
	batches  map[int64]core.InventoryBatch
	reqs     map[string]core.PackingRequirement
	allocs   []core.Allocation
	audit    []core.AuditEntry
	locks    map[string]*rowLock
	itemSeq  int64
	batchSeq int64
	allocSeq int64
	auditSeq int64

	txSeq atomic.Int64
}

func New() *Store {
	return &Store{
		racks:   make(map[string]core.Rack),
		items:   make(map[string][]core.RackItem),
		batches: make(map[int64]core.InventoryBatch),
		reqs:    make(map[string]core.PackingRequirement),
		locks:   make(map[string]*rowLock),
	}
}

// WithTx runs fn in a transaction. Locks are released after commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{s: s, id: s.txSeq.Add(1), held: make(map[string]bool)}
	defer tx.release()
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.done = true
	return nil
}

type memTx struct {
	s    *Store
	id   int64
	held map[string]bool
	undo []func()
	done bool
}

func rackKey(id string) string { return "rack:" + id }
func batchKey(id int64) string { return "batch:" + strconv.FormatInt(id, 10) }
func reqKey(id string) string { return "req:" + id }

// lock blocks until the row lock is free or ctx is done. Re-entrant within a transaction.
func (t *memTx) lock(ctx context.Context, key string) error {
	if t.done {
		return ErrTxDone
	}
	if t.held[key] {
		return nil
	}
	for {
		t.s.mu.Lock()
		l := t.s.locks[key]
		if l == nil {
			t.s.locks[key] = &rowLock{owner: t.id, released: make(chan struct{})}
			t.s.mu.Unlock()
			t.held[key] = true
			return nil
		}
		wait := l.released
		t.s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", key, ctx.Err())
		}
	}
}

func (t *memTx) release() {
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for key := range t.held {
		if l := t.s.locks[key]; l != nil && l.owner == t.id {
			close(l.released)
			delete(t.s.locks, key)
		}
	}
	t.held = nil
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// write runs fn under the store mutex after checking the transaction holds key.
// An empty key skips the lock check.
func (t *memTx) write(key string, fn func()) error {
	if t.done {
		return ErrTxDone
	}
	if key != "" && !t.held[key] {
		return fmt.Errorf("%w: %s", ErrNotLocked, key)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	fn()
	return nil
}

func (t *memTx) read(fn func()) error {
	if t.done {
		return ErrTxDone
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	fn()
	return nil
}

// ── Racks ─────────────────────────────────────────────────────────────────────

func (t *memTx) LockRack(ctx context.Context, rackID string) (core.Rack, bool, error) {
	if err := t.lock(ctx, rackKey(rackID)); err != nil {
		return core.Rack{}, false, err
	}
	return t.GetRack(ctx, rackID)
}

func (t *memTx) InsertRack(ctx context.Context, rack core.Rack) (bool, error) {
	if err := t.lock(ctx, rackKey(rack.ID)); err != nil {
		return false, err
	}
	inserted := false
	err := t.write(rackKey(rack.ID), func() {
		if _, exists := t.s.racks[rack.ID]; exists {
			return
		}
		t.s.racks[rack.ID] = rack
		t.undo = append(t.undo, func() { delete(t.s.racks, rack.ID) })
		inserted = true
	})
	return inserted, err
}

func (t *memTx) UpdateRack(_ context.Context, rack core.Rack) error {
	var missing bool
	err := t.write(rackKey(rack.ID), func() {
		prev, ok := t.s.racks[rack.ID]
		if !ok {
			missing = true
			return
		}
		t.s.racks[rack.ID] = rack
		t.undo = append(t.undo, func() { t.s.racks[rack.ID] = prev })
	})
	if err == nil && missing {
		return fmt.Errorf("memory: rack %s does not exist", rack.ID)
	}
	return err
}

func (t *memTx) GetRack(_ context.Context, rackID string) (rack core.Rack, ok bool, err error) {
	err = t.read(func() { rack, ok = t.s.racks[rackID] })
	return rack, ok, err
}

// ── Rack items ────────────────────────────────────────────────────────────────

func (t *memTx) InsertRackItems(_ context.Context, items []core.RackItem) error {
	if len(items) == 0 {
		return nil
	}
	rackID := items[0].RackID
	for _, it := range items {
		if it.RackID != rackID {
			return fmt.Errorf("memory: items span racks %s and %s", rackID, it.RackID)
		}
	}
	return t.write(rackKey(rackID), func() {
		prev := t.s.items[rackID]
		next := slices.Clip(prev)
		for _, it := range items {
			t.s.itemSeq++
			it.ID = t.s.itemSeq
			next = append(next, it)
		}
		t.s.items[rackID] = next
		t.undo = append(t.undo, func() { t.s.items[rackID] = prev })
	})
}

func (t *memTx) CountRackItems(_ context.Context, rackID string) (n int, err error) {
	err = t.read(func() { n = len(t.s.items[rackID]) })
	return n, err
}

func (t *memTx) GroupRackItems(_ context.Context, rackID string) ([]core.ItemGroup, error) {
	var groups []core.ItemGroup
	err := t.read(func() {
		index := make(map[[2]string]int)
		for _, it := range t.s.items[rackID] {
			k := [2]string{it.MealCode, it.BatchDate}
			i, ok := index[k]
			if !ok {
				i = len(groups)
				index[k] = i
				groups = append(groups, core.ItemGroup{MealCode: it.MealCode, BatchDate: it.BatchDate})
			}
			groups[i].Qty++
		}
	})
	slices.SortFunc(groups, func(a, b core.ItemGroup) int {
		return cmp.Or(cmp.Compare(a.BatchDate, b.BatchDate), cmp.Compare(a.MealCode, b.MealCode))
	})
	return groups, err
}

func (t *memTx) DeleteRackItems(_ context.Context, rackID string) (int, error) {
	var n int
	err := t.write(rackKey(rackID), func() {
		prev, ok := t.s.items[rackID]
		if !ok {
			return
		}
		n = len(prev)
		delete(t.s.items, rackID)
		t.undo = append(t.undo, func() { t.s.items[rackID] = prev })
	})
	return n, err
}

// ── Batches ───────────────────────────────────────────────────────────────────

func (t *memTx) InsertBatch(ctx context.Context, batch core.InventoryBatch) (int64, error) {
	if err := t.read(func() {
		t.s.batchSeq++
		batch.ID = t.s.batchSeq
	}); err != nil {
		return 0, err
	}
	if err := t.lock(ctx, batchKey(batch.ID)); err != nil {
		return 0, err
	}
	err := t.write(batchKey(batch.ID), func() {
		t.s.batches[batch.ID] = batch
		t.undo = append(t.undo, func() { delete(t.s.batches, batch.ID) })
	})
	return batch.ID, err
}

func fifoOrder(a, b core.InventoryBatch) int {
	return cmp.Or(
		cmp.Compare(a.BatchDate, b.BatchDate),
		a.SealedAt.Compare(b.SealedAt),
		cmp.Compare(a.ID, b.ID),
	)
}

func (t *memTx) LockAvailableBatches(ctx context.Context, mealCode string) ([]core.InventoryBatch, error) {
	var candidates []core.InventoryBatch
	if err := t.read(func() {
		for _, b := range t.s.batches {
			// Drained batches stay candidates: the drain may be uncommitted and roll back.
			if b.MealCode == mealCode {
				candidates = append(candidates, b)
			}
		}
	}); err != nil {
		return nil, err
	}
	slices.SortFunc(candidates, fifoOrder)

	// Lock in FIFO order so allocators on the same meal code never wait on each other in a cycle,
	// then re-read: a batch may have been drained or rolled back while we waited.
	out := make([]core.InventoryBatch, 0, len(candidates))
	for _, c := range candidates {
		if err := t.lock(ctx, batchKey(c.ID)); err != nil {
			return nil, err
		}
		var cur core.InventoryBatch
		var ok bool
		if err := t.read(func() { cur, ok = t.s.batches[c.ID] }); err != nil {
			return nil, err
		}
		if ok && cur.QtyAvailable > 0 {
			out = append(out, cur)
		}
	}
	return out, nil
}

func (t *memTx) LockBatch(ctx context.Context, batchID int64) (b core.InventoryBatch, ok bool, err error) {
	if err := t.lock(ctx, batchKey(batchID)); err != nil {
		return core.InventoryBatch{}, false, err
	}
	err = t.read(func() { b, ok = t.s.batches[batchID] })
	return b, ok, err
}

func (t *memTx) DecrementBatch(_ context.Context, batchID int64, qty int) error {
	var missing bool
	err := t.write(batchKey(batchID), func() {
		prev, ok := t.s.batches[batchID]
		if !ok {
			missing = true
			return
		}
		next := prev
		next.QtyAvailable -= qty
		t.s.batches[batchID] = next
		t.undo = append(t.undo, func() { t.s.batches[batchID] = prev })
	})
	if err == nil && missing {
		return fmt.Errorf("memory: batch %d does not exist", batchID)
	}
	return err
}

func (t *memTx) BatchesFromRack(_ context.Context, rackID string) ([]core.InventoryBatch, error) {
	out := []core.InventoryBatch{}
	err := t.read(func() {
		for _, b := range t.s.batches {
			if b.FromRackID == rackID {
				out = append(out, b)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.InventoryBatch) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (t *memTx) InventorySummary(_ context.Context) (core.InventorySummary, error) {
	var sum core.InventorySummary
	err := t.read(func() {
		index := make(map[string]int)
		for _, b := range t.s.batches {
			i, ok := index[b.MealCode]
			if !ok {
				i = len(sum.ByMeal)
				index[b.MealCode] = i
				sum.ByMeal = append(sum.ByMeal, core.MealStock{MealCode: b.MealCode})
			}
			sum.ByMeal[i].QtyAvailable += b.QtyAvailable
			sum.ByMeal[i].QtyTotal += b.QtyTotal
			if b.QtyAvailable > 0 {
				sum.ByBatch = append(sum.ByBatch, b)
			}
		}
	})
	slices.SortFunc(sum.ByMeal, func(a, b core.MealStock) int { return cmp.Compare(a.MealCode, b.MealCode) })
	slices.SortFunc(sum.ByBatch, func(a, b core.InventoryBatch) int {
		return cmp.Or(cmp.Compare(a.MealCode, b.MealCode), fifoOrder(a, b))
	})
	return sum, err
}

// ── Requirements and allocations ──────────────────────────────────────────────

func (t *memTx) InsertRequirement(ctx context.Context, req core.PackingRequirement) error {
	if err := t.lock(ctx, reqKey(req.ID)); err != nil {
		return err
	}
	var dup bool
	err := t.write(reqKey(req.ID), func() {
		if _, exists := t.s.reqs[req.ID]; exists {
			dup = true
			return
		}
		t.s.reqs[req.ID] = req
		t.undo = append(t.undo, func() { delete(t.s.reqs, req.ID) })
	})
	if err == nil && dup {
		return fmt.Errorf("memory: requirement %s already exists", req.ID)
	}
	return err
}

func (t *memTx) LockRequirement(ctx context.Context, requirementID string) (r core.PackingRequirement, ok bool, err error) {
	if err := t.lock(ctx, reqKey(requirementID)); err != nil {
		return core.PackingRequirement{}, false, err
	}
	err = t.read(func() { r, ok = t.s.reqs[requirementID] })
	return r, ok, err
}

func (t *memTx) ListRequirements(_ context.Context, day string) ([]core.PackingRequirement, error) {
	var out []core.PackingRequirement
	err := t.read(func() {
		for _, r := range t.s.reqs {
			if r.Day == day {
				out = append(out, r)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.PackingRequirement) int {
		return cmp.Or(cmp.Compare(a.MealCode, b.MealCode), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (t *memTx) SumAllocated(_ context.Context, requirementID string) (sum int, err error) {
	err = t.read(func() {
		for _, a := range t.s.allocs {
			if a.RequirementID == requirementID {
				sum += a.Qty
			}
		}
	})
	return sum, err
}

func (t *memTx) InsertAllocation(_ context.Context, alloc core.Allocation) (int64, error) {
	if !t.held[reqKey(alloc.RequirementID)] {
		return 0, fmt.Errorf("%w: %s", ErrNotLocked, reqKey(alloc.RequirementID))
	}
	err := t.write(batchKey(alloc.BatchID), func() {
		t.s.allocSeq++
		alloc.ID = t.s.allocSeq
		t.s.allocs = append(t.s.allocs, alloc)
		id := alloc.ID
		t.undo = append(t.undo, func() {
			t.s.allocs = slices.DeleteFunc(t.s.allocs, func(a core.Allocation) bool { return a.ID == id })
		})
	})
	return alloc.ID, err
}

func (t *memTx) AllocationsFor(_ context.Context, requirementID string) ([]core.Allocation, error) {
	var out []core.Allocation
	err := t.read(func() {
		for _, a := range t.s.allocs {
			if a.RequirementID == requirementID {
				out = append(out, a)
			}
		}
	})
	return out, err
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func (t *memTx) RecordAudit(_ context.Context, entry core.AuditEntry) error {
	return t.write("", func() {
		t.s.auditSeq++
		entry.ID = t.s.auditSeq
		t.s.audit = append(t.s.audit, entry)
		id := entry.ID
		t.undo = append(t.undo, func() {
			t.s.audit = slices.DeleteFunc(t.s.audit, func(e core.AuditEntry) bool { return e.ID == id })
		})
	})
}

func (t *memTx) ListAudit(_ context.Context, limit int) ([]core.AuditEntry, error) {
	var out []core.AuditEntry
	err := t.read(func() {
		for i := len(t.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, t.s.audit[i])
		}
	})
	return out, err
}
