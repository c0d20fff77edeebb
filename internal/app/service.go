package app

import (
	"context"

	"rackrunner/internal/core"
)

// ApplicationService is the single interface all UI adapters (CLI, Web) call.
// It validates boundary input (user ids, dates, quantity caps) and delegates to the
// core services. Implementations must contain no display logic of any kind.
type ApplicationService interface {
	// OpenRack opens (or re-opens) a rack. Opening an OPEN rack is a no-op.
	OpenRack(ctx context.Context, req OpenRackRequest) (*RackResult, error)

	// ScanItems appends scanned units to an OPEN rack.
	ScanItems(ctx context.Context, req ScanRequest) (*core.ScanResult, error)

	// CloseRack seals an OPEN rack, materializing its items into inventory batches.
	// The label is produced after the seal commits; label failures are reported on the result.
	CloseRack(ctx context.Context, req CloseRackRequest) (*core.SealResult, error)

	// GetRack returns a rack with its pending item count and the batches it produced.
	GetRack(ctx context.Context, rackID string) (*core.RackView, error)

	// RackLabel returns the most recently archived label PDF for a rack.
	RackLabel(ctx context.Context, rackID string) ([]byte, error)

	// ScanToken dispatches a signed QR token: rack tokens open the rack, meal tokens
	// scan into the active rack.
	ScanToken(ctx context.Context, req ScanTokenRequest) (*core.TokenScanResult, error)

	// ImportRequirements records the packing demand for one day in a single transaction.
	ImportRequirements(ctx context.Context, req ImportRequirementsRequest) (*ImportResult, error)

	// ListRequirements returns a day's requirements with their allocation progress.
	ListRequirements(ctx context.Context, day string) (*RequirementsResult, error)

	// Allocate fills a requirement from available batches in FIFO order.
	Allocate(ctx context.Context, req AllocateRequest) (*core.AllocationResult, error)

	// Override allocates from a named batch, bypassing FIFO. Requires a reason.
	Override(ctx context.Context, req OverrideRequest) (*core.Allocation, error)

	// InventorySummary returns stock per meal and the available batches in FIFO order.
	InventorySummary(ctx context.Context) (*core.InventorySummary, error)

	// AuditTrail returns the newest audit entries first. limit ≤ 0 uses the configured default.
	AuditTrail(ctx context.Context, limit int) (*AuditResult, error)
}
