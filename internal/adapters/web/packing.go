package web

import (
	"net/http"
	"strconv"

	"rackrunner/internal/app"
)

// importRequirements handles POST /packing/requirements/import.
func (h *Handler) importRequirements(w http.ResponseWriter, r *http.Request) {
	var req app.ImportRequirementsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.ImportRequirements(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// listRequirements handles GET /packing/requirements?day=YYYY-MM-DD.
func (h *Handler) listRequirements(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListRequirements(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// allocate handles POST /packing/allocate.
func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req app.AllocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.Allocate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// override handles POST /packing/override.
func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	var req app.OverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.Override(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// inventorySummary handles GET /inventory/summary.
func (h *Handler) inventorySummary(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.InventorySummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// auditTrail handles GET /audit?limit=N.
func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, "limit must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		limit = n
	}
	res, err := h.svc.AuditTrail(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
