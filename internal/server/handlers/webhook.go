package handlers

import (
	"context"
	"log/slog"
	"net/http"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
	"git.home.luguber.info/inful/nbrunner/internal/server/responses"
)

// MainRef is the only ref whose pushes update the application checkout.
const MainRef = "refs/heads/main"

// Puller fast-forwards a local checkout.
type Puller interface {
	Pull(ctx context.Context, dir, token string) error
}

// TokenSource resolves the repository token.
type TokenSource interface {
	Resolve(ctx context.Context) (string, bool)
}

// WebhookHandlers react to push notifications.
type WebhookHandlers struct {
	puller       Puller
	cfg          ConfigSource
	tokens       TokenSource
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewWebhookHandlers creates the webhook handlers.
func NewWebhookHandlers(puller Puller, cfg ConfigSource, tokens TokenSource) *WebhookHandlers {
	return &WebhookHandlers{puller: puller, cfg: cfg, tokens: tokens, errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default())}
}

type pushPayload struct {
	Ref string `json:"ref"`
}

// HandleWebhook pulls service.app_dir when main was pushed.
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var p pushPayload
	if err := decodeJSON(r, &p); err != nil {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	if p.Ref != MainRef {
		slog.Debug("Webhook ignored", slog.String("ref", p.Ref))
		respond(h.errorAdapter, w, r, http.StatusOK, responses.MessageResponse{Status: responses.StatusNoAction})
		return
	}

	dir := h.cfg.Load().Service().AppDir
	token, _ := h.tokens.Resolve(r.Context())
	if err := h.puller.Pull(context.WithoutCancel(r.Context()), dir, token); err != nil {
		h.errorAdapter.WriteErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	slog.Info("Application checkout updated", logfields.Path(dir))
	respond(h.errorAdapter, w, r, http.StatusOK, responses.MessageResponse{Status: responses.StatusSuccess})
}
