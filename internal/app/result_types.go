package app

import "rackrunner/internal/core"

// RackResult is returned by OpenRack.
type RackResult struct {
	Rack *core.Rack `json:"rack"`
}

// ImportResult is returned by ImportRequirements; ids follow the input order.
type ImportResult struct {
	Day            string   `json:"day"`
	RequirementIDs []string `json:"requirement_ids"`
}

// RequirementsResult is returned by ListRequirements.
type RequirementsResult struct {
	Day          string                   `json:"day"`
	Requirements []core.RequirementStatus `json:"requirements"`
}

// AuditResult is returned by AuditTrail.
type AuditResult struct {
	Items []core.AuditEntry `json:"items"`
}
