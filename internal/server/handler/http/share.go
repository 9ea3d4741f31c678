package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/middleware"
	"github.com/atinyakov/keyvault/internal/models"
)

// ShareService defines the share-record operations required by the
// ShareHandler.
type ShareService interface {
	Put(ctx context.Context, caller string, share models.Share) (*models.Share, error)
	Get(ctx context.Context, caller, id string) (*models.Share, error)
	ListByItem(ctx context.Context, caller, itemID string) ([]models.Share, error)
	Incoming(ctx context.Context, caller string) ([]models.Share, error)
}

// ShareHandler serves share records. Slots are opaque ciphertext.
type ShareHandler struct {
	ShareService ShareService
	Log          *zap.Logger
}

// Put handles PUT /api/shares/{id}. The path id wins over the body.
func (h *ShareHandler) Put(w http.ResponseWriter, r *http.Request) {
	var share models.Share
	if !decode(w, r, &share) {
		return
	}
	share.ID = chi.URLParam(r, "id")
	out, err := h.ShareService.Put(r.Context(), middleware.GetUserIDFromContext(r.Context()), share)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/shares/{id}.
func (h *ShareHandler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.ShareService.Get(r.Context(), middleware.GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListByItem handles GET /api/items/{id}/shares.
func (h *ShareHandler) ListByItem(w http.ResponseWriter, r *http.Request) {
	out, err := h.ShareService.ListByItem(r.Context(), middleware.GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Incoming handles GET /api/shares/incoming.
func (h *ShareHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	out, err := h.ShareService.Incoming(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
