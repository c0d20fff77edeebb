package web

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"rackrunner/internal/app"
	"rackrunner/internal/core"
)

// openRack handles POST /racks/open.
func (h *Handler) openRack(w http.ResponseWriter, r *http.Request) {
	var req app.OpenRackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.OpenRack(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// scanItems handles POST /racks/scan.
func (h *Handler) scanItems(w http.ResponseWriter, r *http.Request) {
	var req app.ScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.ScanItems(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

type closeResponse struct {
	*core.SealResult
	// Label is the rendered PDF as a data URL, so a browser can print it without a second request.
	Label string `json:"label,omitempty"`
}

// closeRack handles POST /racks/close.
func (h *Handler) closeRack(w http.ResponseWriter, r *http.Request) {
	var req app.CloseRackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.CloseRack(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := closeResponse{SealResult: res}
	if len(res.Label) > 0 {
		resp.Label = "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(res.Label)
	}
	writeJSON(w, resp)
}

// getRack handles GET /racks/{id}.
func (h *Handler) getRack(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetRack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// rackLabel handles GET /racks/{id}/label and streams the archived PDF.
func (h *Handler) rackLabel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pdf, err := h.svc.RackLabel(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": id + ".pdf"}))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	_, _ = w.Write(pdf)
}

// scanToken handles POST /scan/qr.
func (h *Handler) scanToken(w http.ResponseWriter, r *http.Request) {
	var req app.ScanTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = actor(r, req.UserID)
	res, err := h.svc.ScanToken(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
