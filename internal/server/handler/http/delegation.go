package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/middleware"
	"github.com/atinyakov/keyvault/internal/models"
)

// DelegationService defines the handshake operations required by the
// DelegationHandler.
type DelegationService interface {
	Open(ctx context.Context, owner, delegate, role string) (*models.Delegation, error)
	Get(ctx context.Context, caller, token string) (*models.Delegation, error)
	Claim(ctx context.Context, caller, token string, publicKey, signature []byte) (*models.Delegation, error)
	Share(ctx context.Context, caller, token string, encryptedKEK []byte, wrappedByDelegateKEK bool) (*models.Delegation, error)
	Reencrypt(ctx context.Context, caller, token string, wrapped []byte) (*models.Delegation, error)
}

// DelegationHandler serves /api/delegations. Steps applied out of order
// answer 409.
type DelegationHandler struct {
	DelegationService DelegationService
	Log               *zap.Logger
}

// Open handles POST /api/delegations.
func (h *DelegationHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req models.OpenDelegationRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.DelegationService.Open(r.Context(), middleware.GetUserIDFromContext(r.Context()), req.Delegate, req.Role)
	h.respond(w, http.StatusCreated, d, err)
}

// Get handles GET /api/delegations/{token}.
func (h *DelegationHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.DelegationService.Get(r.Context(), middleware.GetUserIDFromContext(r.Context()), chi.URLParam(r, "token"))
	h.respond(w, http.StatusOK, d, err)
}

// Claim handles POST /api/delegations/{token}/claim.
func (h *DelegationHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req models.ClaimRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.DelegationService.Claim(r.Context(), middleware.GetUserIDFromContext(r.Context()),
		chi.URLParam(r, "token"), req.PublicKey, req.Signature)
	h.respond(w, http.StatusOK, d, err)
}

// Share handles POST /api/delegations/{token}/share.
func (h *DelegationHandler) Share(w http.ResponseWriter, r *http.Request) {
	var req models.ShareKEKRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.DelegationService.Share(r.Context(), middleware.GetUserIDFromContext(r.Context()),
		chi.URLParam(r, "token"), req.EncryptedKEK, req.WrappedByDelegateKEK)
	h.respond(w, http.StatusOK, d, err)
}

// Reencrypt handles POST /api/delegations/{token}/reencrypt.
func (h *DelegationHandler) Reencrypt(w http.ResponseWriter, r *http.Request) {
	var req models.WrappedKeyRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.DelegationService.Reencrypt(r.Context(), middleware.GetUserIDFromContext(r.Context()),
		chi.URLParam(r, "token"), req.Wrapped)
	h.respond(w, http.StatusOK, d, err)
}

func (h *DelegationHandler) respond(w http.ResponseWriter, status int, d *models.Delegation, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, status, d)
}
