package web

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddleware_PanicKeepsStationRequestID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Instrument)
	r.Use(Recoverer)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("scanner fell over") })

	rec := do(t, r, http.MethodGet, "/boom", nil, "X-Request-ID", "station-7-0042")
	expectStatus(t, rec, http.StatusInternalServerError)
	if got := rec.Header().Get("X-Request-ID"); got != "station-7-0042" {
		t.Errorf("Expected caller request id echoed, got %q", got)
	}
	got := decode[errorResponse](t, rec)
	if got.Code != "INTERNAL_ERROR" || got.RequestID != "station-7-0042" {
		t.Errorf("Unexpected error body %+v", got)
	}

	rec = do(t, r, http.MethodGet, "/boom", nil, "X-Request-ID", "bad id; drop table")
	if got := rec.Header().Get("X-Request-ID"); got == "bad id; drop table" || got == "" {
		t.Errorf("Expected malformed request id to be replaced, got %q", got)
	}
}
