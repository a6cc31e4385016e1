package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// PageHandlers serve the static HTML pages.
type PageHandlers struct {
	dir string
}

// NewPageHandlers serves pages from dir.
func NewPageHandlers(dir string) *PageHandlers { return &PageHandlers{dir: dir} }

// HandleHome serves page.html.
func (h *PageHandlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.serve(w, "page.html", "<h2>Error loading homepage</h2>")
}

// HandleConfigPage serves index.html.
func (h *PageHandlers) HandleConfigPage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, "index.html", "<h2>Error loading configuration page</h2>")
}

func (h *PageHandlers) serve(w http.ResponseWriter, name, fallback string) {
	path := filepath.Join(h.dir, name)
	data, err := os.ReadFile(path) // #nosec G304 -- fixed file names under the static directory
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		slog.Error("Failed to load page", logfields.Path(path), logfields.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallback))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
