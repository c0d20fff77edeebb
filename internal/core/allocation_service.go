package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rackrunner/internal/metrics"
)

// MinOverrideReasonLen is the shortest trimmed reason accepted for a FIFO override.
const MinOverrideReasonLen = 3

// AllocationService allocates inventory batches against packing requirements.
type AllocationService interface {
	// Allocate takes units oldest-batch-first until the requirement is satisfied, qty is
	// reached or stock runs out. qty, if non-nil, caps the amount taken in this call.
	// A satisfied requirement returns an empty result without touching any batch.
	Allocate(ctx context.Context, requirementID, userID string, qty *int) (*AllocationResult, error)
	// Override allocates from an operator-chosen batch, ignoring FIFO order, the requirement's
	// outstanding quantity and the batch's availability floor. A reason is mandatory.
	Override(ctx context.Context, in OverrideInput) (*Allocation, error)
}

type allocationService struct {
	store LedgerStore
}

func NewAllocationService(store LedgerStore) AllocationService {
	return &allocationService{store: store}
}

func (s *allocationService) Allocate(ctx context.Context, requirementID, userID string, qty *int) (*AllocationResult, error) {
	requirementID = strings.TrimSpace(requirementID)
	if requirementID == "" {
		return nil, invalid("requirement_id", "must not be empty")
	}
	if qty != nil && *qty <= 0 {
		return nil, invalid("qty", "must be positive")
	}

	res := AllocationResult{RequirementID: requirementID, Allocations: []BatchTake{}}
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		req, ok, err := tx.LockRequirement(ctx, requirementID)
		if err != nil {
			return fmt.Errorf("failed to lock requirement %s: %w", requirementID, err)
		}
		if !ok {
			return &NotFoundError{Entity: "requirement", ID: requirementID}
		}

		already, err := tx.SumAllocated(ctx, requirementID)
		if err != nil {
			return fmt.Errorf("failed to sum allocations: %w", err)
		}
		outstanding := req.QtyNeeded - already
		if outstanding <= 0 {
			return nil
		}
		target := outstanding
		if qty != nil && *qty < target {
			target = *qty
		}

		batches, err := tx.LockAvailableBatches(ctx, req.MealCode)
		if err != nil {
			return fmt.Errorf("failed to lock batches for %s: %w", req.MealCode, err)
		}

		now := stamp()
		remaining := target
		for _, b := range batches {
			if remaining == 0 {
				break
			}
			// Zero-available rows can be observed when a concurrent allocation drained
			// the batch while we waited for its lock.
			if b.QtyAvailable <= 0 {
				continue
			}
			take := min(b.QtyAvailable, remaining)
			if err := tx.DecrementBatch(ctx, b.ID, take); err != nil {
				return fmt.Errorf("failed to decrement batch %d: %w", b.ID, err)
			}
			if _, err := tx.InsertAllocation(ctx, Allocation{
				RequirementID: requirementID,
				BatchID:       b.ID,
				Qty:           take,
				AllocatedBy:   userID,
				AllocatedAt:   now,
			}); err != nil {
				return fmt.Errorf("failed to insert allocation: %w", err)
			}
			res.Allocations = append(res.Allocations, BatchTake{BatchID: b.ID, Qty: take})
			remaining -= take
		}
		res.Remaining = remaining

		return recordAudit(ctx, tx, AuditAllocate, userID, map[string]any{
			"requirement_id": requirementID,
			"meal_code":      req.MealCode,
			"target":         target,
			"allocations":    res.Allocations,
			"remaining":      remaining,
		}, now)
	})
	if err != nil {
		return nil, classify("allocate", err)
	}

	allocated := 0
	for _, a := range res.Allocations {
		allocated += a.Qty
	}
	metrics.UnitsAllocated.WithLabelValues("fifo").Add(float64(allocated))
	metrics.UnitsUnmet.Add(float64(res.Remaining))
	return &res, nil
}

func (s *allocationService) Override(ctx context.Context, in OverrideInput) (*Allocation, error) {
	in.RequirementID = strings.TrimSpace(in.RequirementID)
	reason := strings.TrimSpace(in.Reason)
	if in.RequirementID == "" {
		return nil, invalid("requirement_id", "must not be empty")
	}
	if in.Qty <= 0 {
		return nil, invalid("qty", "must be positive")
	}
	if len([]rune(reason)) < MinOverrideReasonLen {
		return nil, invalid("reason", fmt.Sprintf("must be at least %d characters", MinOverrideReasonLen))
	}

	var out Allocation
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		if _, ok, err := tx.LockRequirement(ctx, in.RequirementID); err != nil {
			return fmt.Errorf("failed to lock requirement %s: %w", in.RequirementID, err)
		} else if !ok {
			return &NotFoundError{Entity: "requirement", ID: in.RequirementID}
		}
		batch, ok, err := tx.LockBatch(ctx, in.BatchID)
		if err != nil {
			return fmt.Errorf("failed to lock batch %d: %w", in.BatchID, err)
		}
		if !ok {
			return &NotFoundError{Entity: "batch", ID: strconv.FormatInt(in.BatchID, 10)}
		}

		if err := tx.DecrementBatch(ctx, batch.ID, in.Qty); err != nil {
			return fmt.Errorf("failed to decrement batch %d: %w", batch.ID, err)
		}
		now := stamp()
		out = Allocation{
			RequirementID:  in.RequirementID,
			BatchID:        batch.ID,
			Qty:            in.Qty,
			AllocatedBy:    in.UserID,
			AllocatedAt:    now,
			OverrideFIFO:   true,
			OverrideReason: &reason,
		}
		id, err := tx.InsertAllocation(ctx, out)
		if err != nil {
			return fmt.Errorf("failed to insert override allocation: %w", err)
		}
		out.ID = id

		return recordAudit(ctx, tx, AuditOverride, in.UserID, map[string]any{
			"requirement_id": in.RequirementID,
			"batch_id":       batch.ID,
			"qty":            in.Qty,
			"reason":         reason,
			"available_was":  batch.QtyAvailable,
		}, now)
	})
	if err != nil {
		return nil, classify("override allocation", err)
	}
	metrics.UnitsAllocated.WithLabelValues("override").Add(float64(in.Qty))
	return &out, nil
}
