package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rackrunner/internal/app"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
}

// NewHandler creates and wires the chi router with all routes.
// An empty jwtSecret leaves the mutating routes unauthenticated.
func NewHandler(svc app.ApplicationService, allowedOrigins []string, jwtSecret string) http.Handler {
	h := &Handler{svc: svc, jwtSecret: jwtSecret}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Instrument)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))

	// ── Health and metrics (public) ──────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	// ── Reads (public) ───────────────────────────────────────────────────────
	r.Get("/racks/{id}", h.getRack)
	r.Get("/racks/{id}/label", h.rackLabel)
	r.Get("/inventory/summary", h.inventorySummary)
	r.Get("/packing/requirements", h.listRequirements)
	r.Get("/audit", h.auditTrail)

	// ── Mutations (token required when JWT_SECRET is set) ────────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(chimw.RequestSize(1 << 20)) // 1 MB

		r.Post("/racks/open", h.openRack)
		r.Post("/racks/scan", h.scanItems)
		r.Post("/racks/close", h.closeRack)
		r.Post("/scan/qr", h.scanToken)

		r.Post("/packing/requirements/import", h.importRequirements)
		r.Post("/packing/allocate", h.allocate)
		r.Post("/packing/override", h.override)
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by the RequestSize middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
