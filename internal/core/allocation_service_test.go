package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rackrunner/internal/core"
	"rackrunner/internal/store/memory"
)

// seedHH seals one rack holding HH x5 dated 2025-01-01 and HH x5 dated 2025-01-02.
func seedHH(t *testing.T, f *rackFixture) (older, newer int64) {
	t.Helper()
	f.open(t, "R-SEED")
	f.scan(t, "R-SEED", "HH", "2025-01-02", 5)
	f.scan(t, "R-SEED", "HH", "2025-01-01", 5)
	res := f.seal(t, "R-SEED")
	if len(res.Batches) != 2 {
		t.Fatalf("Expected 2 seeded batches, got %d", len(res.Batches))
	}
	return res.Batches[0].BatchID, res.Batches[1].BatchID
}

func importOne(t *testing.T, f *rackFixture, meal string, qty int) string {
	t.Helper()
	ids, err := f.planner.ImportRequirements(f.ctx, "2025-02-01", "u1", []core.RequirementInput{{MealCode: meal, QtyNeeded: qty}})
	if err != nil {
		t.Fatalf("ImportRequirements failed: %v", err)
	}
	return ids[0]
}

func batchAvailable(t *testing.T, f *rackFixture, batchID int64) int {
	t.Helper()
	sum, err := f.planner.InventorySummary(f.ctx)
	if err != nil {
		t.Fatalf("InventorySummary failed: %v", err)
	}
	for _, b := range sum.ByBatch {
		if b.ID == batchID {
			return b.QtyAvailable
		}
	}
	return 0
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestAllocate_FIFOOrder(t *testing.T) {
	f := setupRackTest(t, nil)
	b1, b2 := seedHH(t, f)
	reqID := importOne(t, f, "HH", 7)

	res, err := f.alloc.Allocate(f.ctx, reqID, "u1", nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	want := []core.BatchTake{{BatchID: b1, Qty: 5}, {BatchID: b2, Qty: 2}}
	if len(res.Allocations) != len(want) {
		t.Fatalf("Expected %v, got %v", want, res.Allocations)
	}
	for i := range want {
		if res.Allocations[i] != want[i] {
			t.Errorf("Allocation %d: expected %v, got %v", i, want[i], res.Allocations[i])
		}
	}
	if res.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", res.Remaining)
	}
	if got := batchAvailable(t, f, b2); got != 3 {
		t.Errorf("Expected 3 left in newer batch, got %d", got)
	}
}

func TestAllocate_SatisfiedRequirementIsNoop(t *testing.T) {
	f := setupRackTest(t, nil)
	_, b2 := seedHH(t, f)
	reqID := importOne(t, f, "HH", 7)

	if _, err := f.alloc.Allocate(f.ctx, reqID, "u1", nil); err != nil {
		t.Fatalf("First allocate failed: %v", err)
	}
	res, err := f.alloc.Allocate(f.ctx, reqID, "u1", nil)
	if err != nil {
		t.Fatalf("Second allocate failed: %v", err)
	}
	if len(res.Allocations) != 0 || res.Remaining != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
	if got := batchAvailable(t, f, b2); got != 3 {
		t.Errorf("Expected no batch mutation, newer batch has %d", got)
	}
}

func TestAllocate_PartialStock(t *testing.T) {
	f := setupRackTest(t, nil)
	f.open(t, "R-1")
	f.scan(t, "R-1", "GI", "2025-01-01", 4)
	f.scan(t, "R-1", "GI", "2025-01-03", 2)
	f.seal(t, "R-1")
	reqID := importOne(t, f, "GI", 10)

	res, err := f.alloc.Allocate(f.ctx, reqID, "u1", nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	taken := 0
	for _, a := range res.Allocations {
		taken += a.Qty
	}
	if taken != 6 || res.Remaining != 4 {
		t.Errorf("Expected 6 taken / 4 remaining, got %d / %d", taken, res.Remaining)
	}

	statuses, err := f.planner.ListRequirements(f.ctx, "2025-02-01")
	if err != nil {
		t.Fatalf("ListRequirements failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Outstanding != 4 {
		t.Fatalf("Expected outstanding 4, got %+v", statuses)
	}
	if statuses[0].FillRatio.String() != "0.6" {
		t.Errorf("Expected fill ratio 0.6, got %s", statuses[0].FillRatio)
	}
}

func TestAllocate_QuantityCap(t *testing.T) {
	f := setupRackTest(t, nil)
	b1, _ := seedHH(t, f)
	reqID := importOne(t, f, "HH", 8)

	qty := 3
	res, err := f.alloc.Allocate(f.ctx, reqID, "u1", &qty)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(res.Allocations) != 1 || res.Allocations[0] != (core.BatchTake{BatchID: b1, Qty: 3}) {
		t.Errorf("Expected [(b1,3)], got %v", res.Allocations)
	}

	// A cap above the outstanding quantity is clamped.
	qty = 50
	res, err = f.alloc.Allocate(f.ctx, reqID, "u1", &qty)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	taken := 0
	for _, a := range res.Allocations {
		taken += a.Qty
	}
	if taken != 5 || res.Remaining != 0 {
		t.Errorf("Expected the remaining 5 to be taken, got %d (remaining %d)", taken, res.Remaining)
	}

	zero := 0
	if _, err := f.alloc.Allocate(f.ctx, reqID, "u1", &zero); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Expected validation error for zero qty, got %v", err)
	}
}

func TestAllocate_UnknownRequirement(t *testing.T) {
	f := setupRackTest(t, nil)
	if _, err := f.alloc.Allocate(f.ctx, "nope", "u1", nil); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestAllocate_OtherMealUntouched(t *testing.T) {
	f := setupRackTest(t, nil)
	b1, _ := seedHH(t, f)
	reqID := importOne(t, f, "GI", 3)

	res, err := f.alloc.Allocate(f.ctx, reqID, "u1", nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(res.Allocations) != 0 || res.Remaining != 3 {
		t.Errorf("Expected nothing allocated for GI, got %+v", res)
	}
	if got := batchAvailable(t, f, b1); got != 5 {
		t.Errorf("Expected HH batch untouched, got %d", got)
	}
}

func TestAllocate_ConcurrentNeverDoubleSpends(t *testing.T) {
	f := setupRackTest(t, nil)
	f.open(t, "R-1")
	f.scan(t, "R-1", "HH", "2025-01-01", 5)
	f.scan(t, "R-1", "HH", "2025-01-02", 5)
	f.scan(t, "R-1", "HH", "2025-01-03", 10)
	f.seal(t, "R-1")

	lines := make([]core.RequirementInput, 10)
	for i := range lines {
		lines[i] = core.RequirementInput{MealCode: "HH", QtyNeeded: 3}
	}
	ids, err := f.planner.ImportRequirements(f.ctx, "2025-02-01", "u1", lines)
	if err != nil {
		t.Fatalf("ImportRequirements failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		taken     int
		remaining int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.alloc.Allocate(f.ctx, id, "u1", nil)
			if err != nil {
				t.Errorf("Allocate %s failed: %v", id, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, a := range res.Allocations {
				taken += a.Qty
			}
			remaining += res.Remaining
		}(id)
	}
	wg.Wait()

	if taken != 20 || remaining != 10 {
		t.Errorf("Expected 20 taken / 10 unmet, got %d / %d", taken, remaining)
	}
	sum, err := f.planner.InventorySummary(f.ctx)
	if err != nil {
		t.Fatalf("InventorySummary failed: %v", err)
	}
	if len(sum.ByBatch) != 0 {
		t.Errorf("Expected every batch drained, got %+v", sum.ByBatch)
	}
	if len(sum.ByMeal) != 1 || sum.ByMeal[0].QtyAvailable != 0 || sum.ByMeal[0].QtyTotal != 20 {
		t.Errorf("Unexpected meal stock %+v", sum.ByMeal)
	}
}

func TestOverride_BypassesFIFO(t *testing.T) {
	f := setupRackTest(t, nil)
	b1, b2 := seedHH(t, f)
	reqID := importOne(t, f, "HH", 2)

	alloc, err := f.alloc.Override(f.ctx, core.OverrideInput{
		RequirementID: reqID, BatchID: b2, Qty: 2, UserID: "u1", Reason: "customer asked for fresher stock",
	})
	if err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	if !alloc.OverrideFIFO || alloc.OverrideReason == nil || *alloc.OverrideReason != "customer asked for fresher stock" {
		t.Errorf("Expected flagged allocation with reason, got %+v", alloc)
	}
	if got := batchAvailable(t, f, b1); got != 5 {
		t.Errorf("Expected older batch untouched, got %d", got)
	}
	if got := batchAvailable(t, f, b2); got != 3 {
		t.Errorf("Expected newer batch at 3, got %d", got)
	}

	statuses, err := f.planner.ListRequirements(f.ctx, "2025-02-01")
	if err != nil {
		t.Fatalf("ListRequirements failed: %v", err)
	}
	if !statuses[0].HasOverride || statuses[0].Outstanding != 0 {
		t.Errorf("Expected satisfied requirement with override flag, got %+v", statuses[0])
	}
}

func TestOverride_MayOverAllocateAndGoNegative(t *testing.T) {
	f := setupRackTest(t, nil)
	b1, _ := seedHH(t, f)
	reqID := importOne(t, f, "HH", 2)

	if _, err := f.alloc.Override(f.ctx, core.OverrideInput{
		RequirementID: reqID, BatchID: b1, Qty: 8, UserID: "u1", Reason: "recount pending",
	}); err != nil {
		t.Fatalf("Override failed: %v", err)
	}

	view, err := f.racks.GetRack(f.ctx, "R-SEED")
	if err != nil {
		t.Fatalf("GetRack failed: %v", err)
	}
	for _, b := range view.Batches {
		if b.ID == b1 && b.QtyAvailable != -3 {
			t.Errorf("Expected override to drive batch to -3, got %d", b.QtyAvailable)
		}
	}

	statuses, err := f.planner.ListRequirements(f.ctx, "2025-02-01")
	if err != nil {
		t.Fatalf("ListRequirements failed: %v", err)
	}
	if statuses[0].Allocated != 8 || statuses[0].FillRatio.String() != "4" {
		t.Errorf("Expected over-allocation 8 (ratio 4), got %d (%s)", statuses[0].Allocated, statuses[0].FillRatio)
	}
}

func TestOverride_RejectsWithoutMutation(t *testing.T) {
	f := setupRackTest(t, nil)
	b1, _ := seedHH(t, f)
	reqID := importOne(t, f, "HH", 2)

	tests := []struct {
		name string
		in   core.OverrideInput
		want error
	}{
		{"empty reason", core.OverrideInput{RequirementID: reqID, BatchID: b1, Qty: 1, Reason: ""}, core.ErrValidation},
		{"short reason", core.OverrideInput{RequirementID: reqID, BatchID: b1, Qty: 1, Reason: "  ok "}, core.ErrValidation},
		{"zero qty", core.OverrideInput{RequirementID: reqID, BatchID: b1, Qty: 0, Reason: "valid reason"}, core.ErrValidation},
		{"unknown requirement", core.OverrideInput{RequirementID: "nope", BatchID: b1, Qty: 1, Reason: "valid reason"}, core.ErrNotFound},
		{"unknown batch", core.OverrideInput{RequirementID: reqID, BatchID: 9999, Qty: 1, Reason: "valid reason"}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.alloc.Override(f.ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := batchAvailable(t, f, b1); got != 5 {
		t.Errorf("Expected no mutation, batch has %d", got)
	}
	statuses, err := f.planner.ListRequirements(f.ctx, "2025-02-01")
	if err != nil {
		t.Fatalf("ListRequirements failed: %v", err)
	}
	if statuses[0].Allocated != 0 {
		t.Errorf("Expected no allocation rows, got %d", statuses[0].Allocated)
	}
}

// ── Rollback ──────────────────────────────────────────────────────────────────

var errInjected = errors.New("injected failure")

// faultStore fails the named LedgerTx method inside every transaction.
type faultStore struct {
	core.LedgerStore
	fail string
}

func (s *faultStore) WithTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	return s.LedgerStore.WithTx(ctx, func(tx core.LedgerTx) error {
		return fn(&faultTx{LedgerTx: tx, fail: s.fail})
	})
}

type faultTx struct {
	core.LedgerTx
	fail string
}

func (t *faultTx) DeleteRackItems(ctx context.Context, rackID string) (int, error) {
	if t.fail == "DeleteRackItems" {
		return 0, errInjected
	}
	return t.LedgerTx.DeleteRackItems(ctx, rackID)
}

func (t *faultTx) InsertAllocation(ctx context.Context, a core.Allocation) (int64, error) {
	if t.fail == "InsertAllocation" {
		return 0, errInjected
	}
	return t.LedgerTx.InsertAllocation(ctx, a)
}

func (t *faultTx) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	if t.fail == "RecordAudit" && e.Action == core.AuditAllocate {
		return errInjected
	}
	return t.LedgerTx.RecordAudit(ctx, e)
}

func TestClose_FailureRollsBackEverything(t *testing.T) {
	store := memory.New()
	good := newFixture(store, nil)
	good.open(t, "R-1")
	good.scan(t, "R-1", "HH", "2025-01-01", 3)

	bad := newFixture(&faultStore{LedgerStore: store, fail: "DeleteRackItems"}, nil)
	_, err := bad.racks.Close(bad.ctx, "R-1", "u1")
	if !errors.Is(err, core.ErrPersistence) || !errors.Is(err, errInjected) {
		t.Fatalf("Expected wrapped persistence error, got %v", err)
	}

	view, err := good.racks.GetRack(good.ctx, "R-1")
	if err != nil {
		t.Fatalf("GetRack failed: %v", err)
	}
	if view.Rack.Status != core.RackStatusOpen {
		t.Errorf("Expected rack still OPEN, got %s", view.Rack.Status)
	}
	if view.PendingItems != 3 {
		t.Errorf("Expected 3 items kept, got %d", view.PendingItems)
	}
	if len(view.Batches) != 0 {
		t.Errorf("Expected no batches, got %d", len(view.Batches))
	}

	// The rack is still sealable afterwards.
	if res := good.seal(t, "R-1"); res.TotalUnits != 3 {
		t.Errorf("Expected 3 units sealed, got %d", res.TotalUnits)
	}
}

func TestAllocate_FailureRollsBackDecrements(t *testing.T) {
	for _, fail := range []string{"InsertAllocation", "RecordAudit"} {
		t.Run(fail, func(t *testing.T) {
			store := memory.New()
			good := newFixture(store, nil)
			b1, b2 := seedHH(t, good)
			reqID := importOne(t, good, "HH", 7)

			bad := newFixture(&faultStore{LedgerStore: store, fail: fail}, nil)
			if _, err := bad.alloc.Allocate(bad.ctx, reqID, "u1", nil); !errors.Is(err, errInjected) {
				t.Fatalf("Expected injected failure, got %v", err)
			}

			if got := batchAvailable(t, good, b1); got != 5 {
				t.Errorf("Expected older batch restored to 5, got %d", got)
			}
			if got := batchAvailable(t, good, b2); got != 5 {
				t.Errorf("Expected newer batch restored to 5, got %d", got)
			}

			res, err := good.alloc.Allocate(good.ctx, reqID, "u1", nil)
			if err != nil {
				t.Fatalf("Retry failed: %v", err)
			}
			if res.Remaining != 0 || len(res.Allocations) != 2 {
				t.Errorf("Expected a clean retry, got %+v", res)
			}
		})
	}
}

func TestAllocate_CancelledWhileWaiting(t *testing.T) {
	f := setupRackTest(t, nil)
	seedHH(t, f)
	reqID := importOne(t, f, "HH", 2)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.WithTx(f.ctx, func(tx core.LedgerTx) error {
			if _, _, err := tx.LockRequirement(f.ctx, reqID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.alloc.Allocate(ctx, reqID, "u1", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded while blocked on the row lock, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Holder transaction failed: %v", err)
	}
}
