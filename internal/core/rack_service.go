package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rackrunner/internal/metrics"
)

// RackService manages the rack lifecycle: open, scan items in, close (seal) into inventory batches.
// Every operation runs in its own ledger transaction under the rack row lock.
type RackService interface {
	// Open creates the rack or re-opens a non-open one. Opening an OPEN rack is a no-op.
	// capacity, if non-nil, replaces the stored capacity.
	Open(ctx context.Context, rackID, userID string, capacity *int) (*Rack, error)
	// Scan appends in.Quantity identical items to an OPEN rack.
	Scan(ctx context.Context, in ScanInput) (*ScanResult, error)
	// Close seals an OPEN rack: its items become inventory batches and the rack becomes SEALED.
	// Label production happens after the commit and cannot fail the seal.
	Close(ctx context.Context, rackID, userID string) (*SealResult, error)
	// GetRack returns the rack with its pending item count and the batches it produced.
	GetRack(ctx context.Context, rackID string) (*RackView, error)
	// LatestLabel returns the archived PDF label from the rack's most recent seal.
	LatestLabel(ctx context.Context, rackID string) ([]byte, error)
}

type rackService struct {
	store           LedgerStore
	defaultCapacity int
	labels          *LabelPipeline
}

// NewRackService wires a RackService. labels may be nil to skip label production.
func NewRackService(store LedgerStore, defaultCapacity int, labels *LabelPipeline) RackService {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultRackCapacity
	}
	return &rackService{store: store, defaultCapacity: defaultCapacity, labels: labels}
}

func (s *rackService) Open(ctx context.Context, rackID, userID string, capacity *int) (*Rack, error) {
	rackID = strings.TrimSpace(rackID)
	if rackID == "" {
		return nil, invalid("rack_id", "must not be empty")
	}
	if capacity != nil && *capacity <= 0 {
		return nil, invalid("capacity", "must be positive")
	}

	var out Rack
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		now := stamp()
		rack, ok, err := tx.LockRack(ctx, rackID)
		if err != nil {
			return fmt.Errorf("failed to lock rack %s: %w", rackID, err)
		}

		if !ok {
			rack = Rack{
				ID:       rackID,
				Capacity: s.capacity(capacity, 0),
				Status:   RackStatusOpen,
				OpenedBy: userID,
				OpenedAt: now,
			}
			inserted, err := tx.InsertRack(ctx, rack)
			if err != nil {
				return fmt.Errorf("failed to create rack %s: %w", rackID, err)
			}
			if inserted {
				out = rack
				return recordAudit(ctx, tx, AuditRackOpen, userID, openPayload(rack, true), now)
			}
			// Another transaction created the row between our lock attempt and insert.
			rack, ok, err = tx.LockRack(ctx, rackID)
			if err != nil {
				return fmt.Errorf("failed to lock rack %s: %w", rackID, err)
			}
			if !ok {
				return fmt.Errorf("rack %s missing after concurrent create", rackID)
			}
		}

		if rack.Status == RackStatusOpen {
			out = rack
			return nil
		}
		if !rack.Status.CanTransitionTo(RackStatusOpen) {
			return &InvalidStateError{RackID: rackID, Status: rack.Status, Want: RackStatusOpen}
		}

		rack.Status = RackStatusOpen
		rack.OpenedBy = userID
		rack.OpenedAt = now
		rack.ClosedBy = nil
		rack.ClosedAt = nil
		rack.Capacity = s.capacity(capacity, rack.Capacity)
		if err := tx.UpdateRack(ctx, rack); err != nil {
			return fmt.Errorf("failed to reopen rack %s: %w", rackID, err)
		}
		out = rack
		return recordAudit(ctx, tx, AuditRackOpen, userID, openPayload(rack, false), now)
	})
	if err != nil {
		return nil, classify("open rack", err)
	}
	return &out, nil
}

// capacity resolves requested ?? existing ?? default.
func (s *rackService) capacity(requested *int, existing int) int {
	if requested != nil && *requested > 0 {
		return *requested
	}
	if existing > 0 {
		return existing
	}
	return s.defaultCapacity
}

func openPayload(r Rack, created bool) map[string]any {
	return map[string]any{"rack_id": r.ID, "capacity": r.Capacity, "created": created}
}

func (s *rackService) Scan(ctx context.Context, in ScanInput) (*ScanResult, error) {
	in.RackID = strings.TrimSpace(in.RackID)
	in.MealCode = strings.TrimSpace(in.MealCode)
	if in.RackID == "" {
		return nil, invalid("rack_id", "must not be empty")
	}
	if in.MealCode == "" {
		return nil, invalid("meal_code", "must not be empty")
	}
	batchDate := NormalizeBatchDate(in.BatchDate)
	if !ValidDay(batchDate) {
		return nil, invalid("batch_date", "must be YYYY-MM-DD or YYYYMMDD")
	}
	if in.Quantity < 0 || in.Quantity > MaxScanQuantity {
		return nil, invalid("quantity", fmt.Sprintf("must be between 1 and %d", MaxScanQuantity))
	}
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	var serial *string
	if s := strings.TrimSpace(in.Serial); s != "" {
		serial = &s
	}

	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		rack, ok, err := tx.LockRack(ctx, in.RackID)
		if err != nil {
			return fmt.Errorf("failed to lock rack %s: %w", in.RackID, err)
		}
		if !ok || rack.Status != RackStatusOpen {
			return &InvalidStateError{RackID: in.RackID, Status: rack.Status, Want: RackStatusOpen}
		}

		now := stamp()
		items := make([]RackItem, qty)
		for i := range items {
			// The same serial goes on every unit of a batch scan.
			items[i] = RackItem{
				RackID:    in.RackID,
				MealCode:  in.MealCode,
				BatchDate: batchDate,
				Serial:    serial,
				ScannedBy: in.UserID,
				ScannedAt: now,
			}
		}
		if err := tx.InsertRackItems(ctx, items); err != nil {
			return fmt.Errorf("failed to insert rack items: %w", err)
		}
		return recordAudit(ctx, tx, AuditRackScan, in.UserID, map[string]any{
			"rack_id": in.RackID, "meal_code": in.MealCode, "batch_date": batchDate, "quantity": qty,
		}, now)
	})
	if err != nil {
		return nil, classify("scan into rack", err)
	}
	metrics.UnitsScanned.Add(float64(qty))
	return &ScanResult{RackID: in.RackID, MealCode: in.MealCode, BatchDate: batchDate, Count: qty}, nil
}

func (s *rackService) Close(ctx context.Context, rackID, userID string) (*SealResult, error) {
	rackID = strings.TrimSpace(rackID)
	if rackID == "" {
		return nil, invalid("rack_id", "must not be empty")
	}

	var res SealResult
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		rack, ok, err := tx.LockRack(ctx, rackID)
		if err != nil {
			return fmt.Errorf("failed to lock rack %s: %w", rackID, err)
		}
		if !ok {
			return &NotFoundError{Entity: "rack", ID: rackID}
		}
		if rack.Status != RackStatusOpen {
			return &InvalidStateError{RackID: rackID, Status: rack.Status, Want: RackStatusOpen}
		}

		sealedAt := stamp()
		batches, err := materialize(ctx, tx, rackID, sealedAt)
		if err != nil {
			return err
		}

		rack.Status = RackStatusSealed
		rack.ClosedBy = &userID
		rack.ClosedAt = &sealedAt
		if err := tx.UpdateRack(ctx, rack); err != nil {
			return fmt.Errorf("failed to seal rack %s: %w", rackID, err)
		}

		res = newSealResult(rackID, sealedAt, batches)
		return recordAudit(ctx, tx, AuditRackClose, userID, map[string]any{
			"rack_id": rackID, "total_units": res.TotalUnits, "batches": batches,
		}, sealedAt)
	})
	if err != nil {
		return nil, classify("close rack", err)
	}

	metrics.RacksSealed.Inc()
	metrics.UnitsSealed.Add(float64(res.TotalUnits))
	metrics.BatchesCreated.Add(float64(len(res.Batches)))

	s.labels.produce(ctx, &res)
	return &res, nil
}

func (s *rackService) GetRack(ctx context.Context, rackID string) (*RackView, error) {
	var view RackView
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		rack, ok, err := tx.GetRack(ctx, rackID)
		if err != nil {
			return fmt.Errorf("failed to fetch rack %s: %w", rackID, err)
		}
		if !ok {
			return &NotFoundError{Entity: "rack", ID: rackID}
		}
		pending, err := tx.CountRackItems(ctx, rackID)
		if err != nil {
			return fmt.Errorf("failed to count rack items: %w", err)
		}
		batches, err := tx.BatchesFromRack(ctx, rackID)
		if err != nil {
			return fmt.Errorf("failed to fetch batches for rack %s: %w", rackID, err)
		}
		view = RackView{Rack: rack, PendingItems: pending, Batches: batches}
		return nil
	})
	if err != nil {
		return nil, classify("get rack", err)
	}
	return &view, nil
}

func (s *rackService) LatestLabel(ctx context.Context, rackID string) ([]byte, error) {
	return s.labels.latest(ctx, rackID)
}

func newSealResult(rackID string, sealedAt time.Time, batches []SealedBatch) SealResult {
	res := SealResult{RackID: rackID, SealedAt: sealedAt, Batches: batches}
	index := make(map[string]int)
	for _, b := range batches {
		res.TotalUnits += b.Qty
		i, ok := index[b.MealCode]
		if !ok {
			i = len(res.MealCounts)
			index[b.MealCode] = i
			res.MealCounts = append(res.MealCounts, MealCount{MealCode: b.MealCode})
		}
		res.MealCounts[i].Qty += b.Qty
	}
	return res
}
