package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/runstore"
	"git.home.luguber.info/inful/nbrunner/internal/server/responses"
)

// RunHandlers expose the run history.
type RunHandlers struct {
	store        runstore.Store
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewRunHandlers creates the run history handlers.
func NewRunHandlers(store runstore.Store) *RunHandlers {
	return &RunHandlers{store: store, errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default())}
}

// HandleList returns the most recent runs (?limit=, default 50).
func (h *RunHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a non-negative integer").WithContext("limit", raw).Build())
			return
		}
		limit = n
	}
	runs, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	respond(h.errorAdapter, w, r, http.StatusOK, responses.RunsResponse{Status: responses.StatusSuccess, Runs: runs})
}

// HandleGet returns one run with its state transitions.
func (h *RunHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	respond(h.errorAdapter, w, r, http.StatusOK, responses.RunResponse{Status: responses.StatusSuccess, Run: run})
}

// HandleReport serves the rendered HTML report of a run.
func (h *RunHandlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src data:; style-src 'unsafe-inline'")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}
