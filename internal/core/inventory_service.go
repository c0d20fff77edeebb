package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAuditLimit is the number of audit entries returned when the caller gives none.
const DefaultAuditLimit = 50

// MaxAuditLimit caps one audit page.
const MaxAuditLimit = 100

// PlannerService covers the read side of the freezer and the packing plan:
// requirement import and status, stock summary, audit trail.
type PlannerService interface {
	// ImportRequirements inserts one requirement per line for day in a single transaction
	// and returns the generated ids in input order.
	ImportRequirements(ctx context.Context, day, userID string, lines []RequirementInput) ([]string, error)
	// ListRequirements returns every requirement for day with its allocation progress.
	ListRequirements(ctx context.Context, day string) ([]RequirementStatus, error)
	// InventorySummary returns stock per meal and the available batches in FIFO order.
	InventorySummary(ctx context.Context) (*InventorySummary, error)
	// AuditTrail returns the newest audit entries first. limit ≤ 0 uses the service default;
	// larger limits are clamped to MaxAuditLimit.
	AuditTrail(ctx context.Context, limit int) ([]AuditEntry, error)
}

type plannerService struct {
	store      LedgerStore
	auditLimit int
}

func NewPlannerService(store LedgerStore, auditLimit int) PlannerService {
	if auditLimit <= 0 {
		auditLimit = DefaultAuditLimit
	}
	return &plannerService{store: store, auditLimit: auditLimit}
}

// ── Requirements ──────────────────────────────────────────────────────────────

func (s *plannerService) ImportRequirements(ctx context.Context, day, userID string, lines []RequirementInput) ([]string, error) {
	day = strings.TrimSpace(day)
	if !ValidDay(day) {
		return nil, invalid("day", "must be YYYY-MM-DD")
	}
	if len(lines) == 0 {
		return nil, invalid("items", "must not be empty")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.MealCode) == "" {
			return nil, invalid(fmt.Sprintf("items[%d].meal_code", i), "must not be empty")
		}
		if l.QtyNeeded < 0 {
			return nil, invalid(fmt.Sprintf("items[%d].qty_needed", i), "must not be negative")
		}
	}

	ids := make([]string, 0, len(lines))
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		now := stamp()
		for _, l := range lines {
			req := PackingRequirement{
				ID:        uuid.NewString(),
				Day:       day,
				MealCode:  strings.TrimSpace(l.MealCode),
				QtyNeeded: l.QtyNeeded,
				CreatedAt: now,
			}
			if err := tx.InsertRequirement(ctx, req); err != nil {
				return fmt.Errorf("failed to insert requirement for %s: %w", req.MealCode, err)
			}
			ids = append(ids, req.ID)
		}
		return recordAudit(ctx, tx, AuditRequirementsImport, userID, map[string]any{
			"day": day, "count": len(lines), "ids": ids,
		}, now)
	})
	if err != nil {
		return nil, classify("import requirements", err)
	}
	return ids, nil
}

func (s *plannerService) ListRequirements(ctx context.Context, day string) ([]RequirementStatus, error) {
	day = strings.TrimSpace(day)
	if !ValidDay(day) {
		return nil, invalid("day", "must be YYYY-MM-DD")
	}

	var out []RequirementStatus
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		reqs, err := tx.ListRequirements(ctx, day)
		if err != nil {
			return fmt.Errorf("failed to list requirements: %w", err)
		}
		out = make([]RequirementStatus, 0, len(reqs))
		for _, r := range reqs {
			allocs, err := tx.AllocationsFor(ctx, r.ID)
			if err != nil {
				return fmt.Errorf("failed to load allocations for %s: %w", r.ID, err)
			}
			out = append(out, requirementStatus(r, allocs))
		}
		return nil
	})
	if err != nil {
		return nil, classify("list requirements", err)
	}
	return out, nil
}

func requirementStatus(r PackingRequirement, allocs []Allocation) RequirementStatus {
	st := RequirementStatus{PackingRequirement: r}
	for _, a := range allocs {
		st.Allocated += a.Qty
		if a.OverrideFIFO {
			st.HasOverride = true
		}
	}
	st.Outstanding = max(r.QtyNeeded-st.Allocated, 0)
	if r.QtyNeeded == 0 {
		st.FillRatio = decimal.NewFromInt(1)
	} else {
		st.FillRatio = decimal.NewFromInt(int64(st.Allocated)).
			Div(decimal.NewFromInt(int64(r.QtyNeeded))).
			Round(4)
	}
	return st
}

// ── Stock and audit ───────────────────────────────────────────────────────────

func (s *plannerService) InventorySummary(ctx context.Context) (*InventorySummary, error) {
	var sum InventorySummary
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		var err error
		sum, err = tx.InventorySummary(ctx)
		if err != nil {
			return fmt.Errorf("failed to summarize inventory: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classify("inventory summary", err)
	}
	if sum.ByMeal == nil {
		sum.ByMeal = []MealStock{}
	}
	if sum.ByBatch == nil {
		sum.ByBatch = []InventoryBatch{}
	}
	return &sum, nil
}

func (s *plannerService) AuditTrail(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = s.auditLimit
	}
	limit = min(limit, MaxAuditLimit)
	var entries []AuditEntry
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		var err error
		entries, err = tx.ListAudit(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classify("audit trail", err)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
