package core

import (
	"context"
	"fmt"
	"time"
)

// materialize converts every item of the rack into inventory batches, one per
// (meal code, batch date) group, and deletes the items. It must run inside the
// close transaction while the rack row is locked: either all batches exist and
// no items remain, or nothing changed.
//
// All batches share sealedAt; groups arrive ordered by batch date so that
// same-seal batches keep a deterministic FIFO order through their ids.
func materialize(ctx context.Context, tx LedgerTx, rackID string, sealedAt time.Time) ([]SealedBatch, error) {
	groups, err := tx.GroupRackItems(ctx, rackID)
	if err != nil {
		return nil, fmt.Errorf("failed to group items for rack %s: %w", rackID, err)
	}

	batches := make([]SealedBatch, 0, len(groups))
	for _, g := range groups {
		id, err := tx.InsertBatch(ctx, InventoryBatch{
			MealCode:     g.MealCode,
			BatchDate:    g.BatchDate,
			QtyTotal:     g.Qty,
			QtyAvailable: g.Qty,
			FromRackID:   rackID,
			SealedAt:     sealedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert batch %s/%s: %w", g.MealCode, g.BatchDate, err)
		}
		batches = append(batches, SealedBatch{BatchID: id, MealCode: g.MealCode, BatchDate: g.BatchDate, Qty: g.Qty})
	}

	if _, err := tx.DeleteRackItems(ctx, rackID); err != nil {
		return nil, fmt.Errorf("failed to clear items for rack %s: %w", rackID, err)
	}
	return batches, nil
}
