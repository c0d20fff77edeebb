package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryBatch is a dated lot of identical meal units produced by sealing a rack.
// Only QtyAvailable ever changes after insert.
type InventoryBatch struct {
	ID           int64     `json:"id"`
	MealCode     string    `json:"meal_code"`
	BatchDate    string    `json:"batch_date"` // YYYY-MM-DD
	QtyTotal     int       `json:"qty_total"`
	QtyAvailable int       `json:"qty_available"`
	FromRackID   string    `json:"from_rack_id"`
	SealedAt     time.Time `json:"sealed_at"`
}

// PackingRequirement is a demand line: qty_needed units of a meal for a packing day.
type PackingRequirement struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"` // YYYY-MM-DD
	MealCode  string    `json:"meal_code"`
	QtyNeeded int       `json:"qty_needed"`
	CreatedAt time.Time `json:"created_at"`
}

// RequirementInput is one line of a requirements import.
type RequirementInput struct {
	MealCode  string `json:"meal_code"`
	QtyNeeded int    `json:"qty_needed"`
}

// RequirementStatus is a read view of a requirement with its allocation progress.
// FillRatio is allocated/needed rounded to 4 places; it exceeds 1 only through overrides.
type RequirementStatus struct {
	PackingRequirement
	Allocated   int             `json:"allocated"`
	Outstanding int             `json:"outstanding"`
	HasOverride bool            `json:"has_override"`
	FillRatio   decimal.Decimal `json:"fill_ratio"`
}

// Allocation links qty units of one batch to one requirement. Never updated or deleted.
type Allocation struct {
	ID             int64     `json:"id"`
	RequirementID  string    `json:"requirement_id"`
	BatchID        int64     `json:"batch_id"`
	Qty            int       `json:"qty"`
	AllocatedBy    string    `json:"allocated_by"`
	AllocatedAt    time.Time `json:"allocated_at"`
	OverrideFIFO   bool      `json:"override_fifo"`
	OverrideReason *string   `json:"override_reason,omitempty"`
}

// BatchTake is one (batch, qty) pair chosen by the FIFO allocator.
type BatchTake struct {
	BatchID int64 `json:"batch_id"`
	Qty     int   `json:"qty"`
}

// AllocationResult is returned by AllocationService.Allocate.
// Remaining > 0 means stock ran out before the target was met.
type AllocationResult struct {
	RequirementID string      `json:"requirement_id"`
	Allocations   []BatchTake `json:"allocations"`
	Remaining     int         `json:"remaining"`
}

// OverrideInput is the input for AllocationService.Override.
type OverrideInput struct {
	RequirementID string
	BatchID       int64
	Qty           int
	UserID        string
	Reason        string
}

// MealStock aggregates batch quantities for one meal code.
type MealStock struct {
	MealCode     string `json:"meal_code"`
	QtyAvailable int    `json:"qty_available"`
	QtyTotal     int    `json:"qty_total"`
}

// InventorySummary is the freezer view: totals per meal and open batches in FIFO order.
type InventorySummary struct {
	ByMeal  []MealStock      `json:"by_meal"`
	ByBatch []InventoryBatch `json:"by_batch"`
}

// Audit actions emitted by the services.
const (
	AuditRackOpen           = "rack.open"
	AuditRackScan           = "rack.scan"
	AuditRackClose          = "rack.close"
	AuditRequirementsImport = "packing.import"
	AuditAllocate           = "packing.allocate"
	AuditOverride           = "packing.override"
)

// AuditEntry is one append-only record of a state-changing action.
type AuditEntry struct {
	ID      int64           `json:"id"`
	Action  string          `json:"action"`
	Actor   string          `json:"actor"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"ts"`
}
