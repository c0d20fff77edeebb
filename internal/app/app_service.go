package app

import (
	"context"
	"fmt"
	"strings"

	"rackrunner/internal/core"

	"github.com/google/uuid"
)

type appService struct {
	racks      core.RackService
	allocation core.AllocationService
	planner    core.PlannerService
	scanner    *core.TokenScanner
}

// NewAppService constructs an appService that satisfies ApplicationService.
// scanner may be nil, in which case ScanToken reports a validation error.
func NewAppService(
	racks core.RackService,
	allocation core.AllocationService,
	planner core.PlannerService,
	scanner *core.TokenScanner,
) ApplicationService {
	return &appService{
		racks:      racks,
		allocation: allocation,
		planner:    planner,
		scanner:    scanner,
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func invalid(field, message string) error {
	return &core.ValidationError{Field: field, Message: message}
}

// requireUUID checks that an actor or requirement id is a UUID.
func requireUUID(field, v string) error {
	if _, err := uuid.Parse(strings.TrimSpace(v)); err != nil {
		return invalid(field, "must be a UUID")
	}
	return nil
}

func requireText(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid(field, "must not be empty")
	}
	return nil
}

// ── Racks ────────────────────────────────────────────────────────────────────

// OpenRack opens or re-opens a rack.
func (s *appService) OpenRack(ctx context.Context, req OpenRackRequest) (*RackResult, error) {
	if err := requireText("rack_id", req.RackID); err != nil {
		return nil, err
	}
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	rack, err := s.racks.Open(ctx, req.RackID, req.UserID, req.Capacity)
	if err != nil {
		return nil, err
	}
	return &RackResult{Rack: rack}, nil
}

// ScanItems appends units to an OPEN rack.
func (s *appService) ScanItems(ctx context.Context, req ScanRequest) (*core.ScanResult, error) {
	if err := requireText("rack_id", req.RackID); err != nil {
		return nil, err
	}
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	if err := requireText("meal_code", req.MealCode); err != nil {
		return nil, err
	}
	if !core.ValidDay(core.NormalizeBatchDate(req.BatchDate)) {
		return nil, invalid("batch_date", "must be YYYY-MM-DD or YYYYMMDD")
	}
	if req.Quantity < 0 || req.Quantity > MaxScanQuantity {
		return nil, invalid("quantity", fmt.Sprintf("must be between 1 and %d", MaxScanQuantity))
	}
	return s.racks.Scan(ctx, core.ScanInput{
		RackID:    req.RackID,
		UserID:    req.UserID,
		MealCode:  req.MealCode,
		BatchDate: req.BatchDate,
		Serial:    req.Serial,
		Quantity:  req.Quantity,
	})
}

// CloseRack seals an OPEN rack.
func (s *appService) CloseRack(ctx context.Context, req CloseRackRequest) (*core.SealResult, error) {
	if err := requireText("rack_id", req.RackID); err != nil {
		return nil, err
	}
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	return s.racks.Close(ctx, req.RackID, req.UserID)
}

// GetRack returns a rack read view.
func (s *appService) GetRack(ctx context.Context, rackID string) (*core.RackView, error) {
	if err := requireText("rack_id", rackID); err != nil {
		return nil, err
	}
	return s.racks.GetRack(ctx, rackID)
}

// RackLabel returns the latest archived label PDF.
func (s *appService) RackLabel(ctx context.Context, rackID string) ([]byte, error) {
	if err := requireText("rack_id", rackID); err != nil {
		return nil, err
	}
	return s.racks.LatestLabel(ctx, rackID)
}

// ScanToken dispatches a signed QR token.
func (s *appService) ScanToken(ctx context.Context, req ScanTokenRequest) (*core.TokenScanResult, error) {
	if s.scanner == nil {
		return nil, invalid("token", "QR scanning is not configured")
	}
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	if err := requireText("token", req.Token); err != nil {
		return nil, err
	}
	return s.scanner.Scan(ctx, strings.TrimSpace(req.ActiveRackID), req.UserID, req.Token)
}

// ── Packing ──────────────────────────────────────────────────────────────────

// ImportRequirements records a day's demand.
func (s *appService) ImportRequirements(ctx context.Context, req ImportRequirementsRequest) (*ImportResult, error) {
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	ids, err := s.planner.ImportRequirements(ctx, req.Day, req.UserID, req.Items)
	if err != nil {
		return nil, err
	}
	return &ImportResult{Day: strings.TrimSpace(req.Day), RequirementIDs: ids}, nil
}

// ListRequirements returns a day's requirements with allocation progress.
func (s *appService) ListRequirements(ctx context.Context, day string) (*RequirementsResult, error) {
	day = strings.TrimSpace(day)
	if !core.ValidDay(day) {
		return nil, invalid("day", "must be YYYY-MM-DD")
	}
	reqs, err := s.planner.ListRequirements(ctx, day)
	if err != nil {
		return nil, err
	}
	return &RequirementsResult{Day: day, Requirements: reqs}, nil
}

// Allocate fills a requirement in FIFO order.
func (s *appService) Allocate(ctx context.Context, req AllocateRequest) (*core.AllocationResult, error) {
	if err := requireUUID("requirement_id", req.RequirementID); err != nil {
		return nil, err
	}
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	return s.allocation.Allocate(ctx, req.RequirementID, req.UserID, req.Qty)
}

// Override allocates from a named batch.
func (s *appService) Override(ctx context.Context, req OverrideRequest) (*core.Allocation, error) {
	if err := requireUUID("requirement_id", req.RequirementID); err != nil {
		return nil, err
	}
	if err := requireUUID("user_id", req.UserID); err != nil {
		return nil, err
	}
	if req.BatchID <= 0 {
		return nil, invalid("batch_id", "must be positive")
	}
	return s.allocation.Override(ctx, core.OverrideInput{
		RequirementID: req.RequirementID,
		BatchID:       req.BatchID,
		Qty:           req.Qty,
		UserID:        req.UserID,
		Reason:        req.Reason,
	})
}

// ── Reads ────────────────────────────────────────────────────────────────────

// InventorySummary returns the freezer view.
func (s *appService) InventorySummary(ctx context.Context) (*core.InventorySummary, error) {
	return s.planner.InventorySummary(ctx)
}

// AuditTrail returns the newest audit entries first.
func (s *appService) AuditTrail(ctx context.Context, limit int) (*AuditResult, error) {
	entries, err := s.planner.AuditTrail(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &AuditResult{Items: entries}, nil
}
