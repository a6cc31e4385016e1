package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/notebook"
	"git.home.luguber.info/inful/nbrunner/internal/pipeline"
	"git.home.luguber.info/inful/nbrunner/internal/server/responses"
)

// Runner executes notebook requests.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
	ExecutionAvailable() bool
}

// NotebookHandlers trigger runs and inspect the configured notebook.
type NotebookHandlers struct {
	runner       Runner
	cfg          ConfigSource
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewNotebookHandlers creates the notebook handlers.
func NewNotebookHandlers(runner Runner, cfg ConfigSource) *NotebookHandlers {
	return &NotebookHandlers{runner: runner, cfg: cfg, errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default())}
}

// HandleRunNotebook runs the pipeline synchronously and reports its outcome. The
// run is not aborted when the client goes away.
func (h *NotebookHandlers) HandleRunNotebook(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(r, &req); err != nil {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	req.Trigger = pipeline.TriggerHTTP

	res := h.runner.Run(r.Context(), req)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusInternalServerError
	}
	respond(h.errorAdapter, w, r, status, res)
}

// HandleListSteps lists the step: tags of the notebook in the application checkout.
// ?notebook_path= selects another notebook relative to the checkout.
func (h *NotebookHandlers) HandleListSteps(w http.ResponseWriter, r *http.Request) {
	doc := h.cfg.Load()
	rel := r.URL.Query().Get("notebook_path")
	if rel == "" {
		rel = doc.GitHub().NotebookPath
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError,
			ferrors.ValidationError("notebook path must be relative").WithContext("notebook_path", rel).Build())
		return
	}

	nb, err := notebook.ReadFile(filepath.Join(doc.Service().AppDir, filepath.FromSlash(rel)))
	if err != nil {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	respond(h.errorAdapter, w, r, http.StatusOK, responses.StepsResponse{
		Status: responses.StatusSuccess,
		Steps:  nb.Steps(),
	})
}
