package core

import (
	"fmt"
	"time"
)

// DefaultRackCapacity is applied when neither the caller nor an existing rack row supplies one.
const DefaultRackCapacity = 24

// RackStatus is the lifecycle state of a rack row.
// A rack with no row at all is treated as closed (RackStatusNone).
//
//	(none) → OPEN → SEALED → OPEN ...
//	SEALED → IN_FREEZER → IN_USE   (reserved, not reachable through RackService)
type RackStatus string

const (
	RackStatusNone      RackStatus = ""
	RackStatusOpen      RackStatus = "OPEN"
	RackStatusSealed    RackStatus = "SEALED"
	RackStatusInFreezer RackStatus = "IN_FREEZER"
	RackStatusInUse     RackStatus = "IN_USE"
)

// MaxScanQuantity caps a single scan so a mistyped or forged quantity cannot flood a rack.
const MaxScanQuantity = 1000

var rackTransitions = map[RackStatus][]RackStatus{
	RackStatusNone:      {RackStatusOpen},
	RackStatusOpen:      {RackStatusSealed},
	RackStatusSealed:    {RackStatusOpen, RackStatusInFreezer},
	RackStatusInFreezer: {RackStatusOpen, RackStatusInUse},
	RackStatusInUse:     {RackStatusOpen},
}

// CanTransitionTo reports whether the transition table permits s → next.
func (s RackStatus) CanTransitionTo(next RackStatus) bool {
	for _, allowed := range rackTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseRackStatus converts a stored status string into a RackStatus.
func ParseRackStatus(s string) (RackStatus, error) {
	switch st := RackStatus(s); st {
	case RackStatusOpen, RackStatusSealed, RackStatusInFreezer, RackStatusInUse:
		return st, nil
	}
	return RackStatusNone, fmt.Errorf("unknown rack status %q", s)
}

// Rack is a mobile unit that collects scanned meal items until it is sealed.
// Capacity is advisory; scans beyond it are accepted.
type Rack struct {
	ID       string     `json:"id"`
	Capacity int        `json:"capacity"`
	Status   RackStatus `json:"status"`
	OpenedBy string     `json:"opened_by"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedBy *string    `json:"closed_by,omitempty"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// RackItem is one scanned unit sitting in an OPEN rack. Items only exist between scan and seal.
type RackItem struct {
	ID        int64     `json:"id"`
	RackID    string    `json:"rack_id"`
	MealCode  string    `json:"meal_code"`
	BatchDate string    `json:"batch_date"` // YYYY-MM-DD
	Serial    *string   `json:"serial,omitempty"`
	ScannedBy string    `json:"scanned_by"`
	ScannedAt time.Time `json:"scanned_at"`
}

// ItemGroup is the (meal code, batch date) aggregate the materializer turns into one batch.
type ItemGroup struct {
	MealCode  string
	BatchDate string
	Qty       int
}

// ScanInput is the input for RackService.Scan. Quantity ≤ 0 means 1.
type ScanInput struct {
	RackID    string
	UserID    string
	MealCode  string
	BatchDate string
	Serial    string
	Quantity  int
}

// ScanResult echoes what was appended to the rack.
type ScanResult struct {
	RackID    string `json:"rack_id"`
	MealCode  string `json:"meal_code"`
	BatchDate string `json:"batch_date"`
	Count     int    `json:"count"`
}

// SealedBatch describes one batch materialized by a seal.
type SealedBatch struct {
	BatchID   int64  `json:"batch_id"`
	MealCode  string `json:"meal_code"`
	BatchDate string `json:"batch_date"`
	Qty       int    `json:"qty"`
}

// MealCount is a per-meal unit total printed on a rack label.
type MealCount struct {
	MealCode string `json:"meal_code"`
	Qty      int    `json:"qty"`
}

// SealResult is returned by RackService.Close.
// The seal itself is committed before any label work starts, so Label* fields are best-effort:
// LabelError is set when signing, rendering or archiving failed after a successful seal.
type SealResult struct {
	RackID     string        `json:"rack_id"`
	SealedAt   time.Time     `json:"sealed_at"`
	Batches    []SealedBatch `json:"batches"`
	TotalUnits int           `json:"total_units"`
	MealCounts []MealCount   `json:"meal_counts"`
	Token      string        `json:"token,omitempty"`
	Label      []byte        `json:"-"`
	LabelKey   string        `json:"label_key,omitempty"`
	LabelError string        `json:"label_error,omitempty"`
}

// RackLabel is everything the label renderer prints for a sealed rack.
type RackLabel struct {
	RackID     string
	SealedAt   time.Time
	TotalUnits int
	MealCounts []MealCount
	Token      string
}

// RackView is a read view of a rack with its pending items and the batches it produced.
type RackView struct {
	Rack         Rack             `json:"rack"`
	PendingItems int              `json:"pending_items"`
	Batches      []InventoryBatch `json:"batches"`
}
