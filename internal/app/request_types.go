package app

import "rackrunner/internal/core"

// MaxScanQuantity is the largest quantity one scan request may carry.
const MaxScanQuantity = core.MaxScanQuantity

// OpenRackRequest is the input for OpenRack. A nil Capacity keeps the rack's previous
// capacity, or the configured default for a new rack.
type OpenRackRequest struct {
	RackID   string `json:"rack_id"`
	UserID   string `json:"user_id"`
	Capacity *int   `json:"capacity,omitempty"`
}

// ScanRequest is the input for ScanItems. BatchDate accepts YYYY-MM-DD or YYYYMMDD.
type ScanRequest struct {
	RackID    string `json:"rack_id"`
	UserID    string `json:"user_id"`
	MealCode  string `json:"meal_code"`
	BatchDate string `json:"batch_date"`
	Serial    string `json:"serial,omitempty"`
	Quantity  int    `json:"quantity,omitempty"` // 0 means 1
}

// CloseRackRequest is the input for CloseRack.
type CloseRackRequest struct {
	RackID string `json:"rack_id"`
	UserID string `json:"user_id"`
}

// ScanTokenRequest is the input for ScanToken. ActiveRackID is required for meal tokens.
type ScanTokenRequest struct {
	ActiveRackID string `json:"active_rack_id,omitempty"`
	UserID       string `json:"user_id"`
	Token        string `json:"token"`
}

// ImportRequirementsRequest is the input for ImportRequirements.
type ImportRequirementsRequest struct {
	Day    string                  `json:"day"` // YYYY-MM-DD
	UserID string                  `json:"user_id"`
	Items  []core.RequirementInput `json:"items"`
}

// AllocateRequest is the input for Allocate. A nil Qty allocates the whole outstanding amount.
type AllocateRequest struct {
	RequirementID string `json:"requirement_id"`
	UserID        string `json:"user_id"`
	Qty           *int   `json:"qty,omitempty"`
}

// OverrideRequest is the input for Override.
type OverrideRequest struct {
	RequirementID string `json:"requirement_id"`
	BatchID       int64  `json:"batch_id"`
	Qty           int    `json:"qty"`
	UserID        string `json:"user_id"`
	Reason        string `json:"reason"`
}
