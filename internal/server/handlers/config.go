package handlers

import (
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/nbrunner/internal/config"
	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/server/responses"
)

// ConfigSource supplies the current configuration document.
type ConfigSource interface {
	Load() config.Document
}

// ConfigStore is a ConfigSource that can be patched.
type ConfigStore interface {
	ConfigSource
	Save(p config.Patch) (config.Document, error)
}

// ConfigHandlers serve the configuration document.
type ConfigHandlers struct {
	store        ConfigStore
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewConfigHandlers creates the configuration handlers.
func NewConfigHandlers(store ConfigStore) *ConfigHandlers {
	return &ConfigHandlers{store: store, errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default())}
}

// HandleGetConfig returns the full document, defaults included.
func (h *ConfigHandlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	respond(h.errorAdapter, w, r, http.StatusOK, responses.ConfigResponse{
		Status: responses.StatusSuccess,
		Config: h.store.Load(),
	})
}

// HandleSaveConfig merges the posted fields into the document. Fields that are not
// posted keep their stored value.
func (h *ConfigHandlers) HandleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.Patch
	if err := decodeJSON(r, &patch); err != nil {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	if _, err := h.store.Save(patch); err != nil {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	respond(h.errorAdapter, w, r, http.StatusOK, responses.MessageResponse{
		Status:  responses.StatusSuccess,
		Message: "Configuration saved successfully",
	})
}
