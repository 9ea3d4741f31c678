package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/middleware"
	"github.com/atinyakov/keyvault/internal/models"
)

// KeyService defines the wrapped-key operations required by the KeyHandler.
type KeyService interface {
	Profile(ctx context.Context, login string) (*models.User, error)
	GetKEK(ctx context.Context, owner string) (*models.KeyRecord, error)
	CreateKEK(ctx context.Context, owner string, wrapped []byte) (*models.KeyRecord, error)
	GetDEK(ctx context.Context, owner, id string) (*models.KeyRecord, error)
	CreateDEK(ctx context.Context, owner string, wrapped []byte) (*models.KeyRecord, error)
	GetArtifacts(ctx context.Context, owner string) (*models.MasterKeyArtifacts, error)
	CreateArtifacts(ctx context.Context, owner string, a models.MasterKeyArtifacts) error
	CreateChildUser(ctx context.Context, parent string, child models.ChildUser) (*models.ChildUser, error)
	GetChildUser(ctx context.Context, parent, login string) (*models.ChildUser, error)
}

// KeyHandler serves wrapped keys, the profile and dependent identities.
// All routes require a session.
type KeyHandler struct {
	KeyService KeyService
	Log        *zap.Logger
}

// Profile handles GET /api/me.
func (h *KeyHandler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.KeyService.Profile(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetKEK handles GET /api/keys/kek.
func (h *KeyHandler) GetKEK(w http.ResponseWriter, r *http.Request) {
	rec, err := h.KeyService.GetKEK(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PutKEK handles PUT /api/keys/kek. An existing KEK answers 409.
func (h *KeyHandler) PutKEK(w http.ResponseWriter, r *http.Request) {
	var req models.WrappedKeyRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.KeyService.CreateKEK(r.Context(), middleware.GetUserIDFromContext(r.Context()), req.Wrapped)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CreateDEK handles POST /api/keys/deks. A profile that already has a DEK
// answers 409.
func (h *KeyHandler) CreateDEK(w http.ResponseWriter, r *http.Request) {
	var req models.WrappedKeyRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.KeyService.CreateDEK(r.Context(), middleware.GetUserIDFromContext(r.Context()), req.Wrapped)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetDEK handles GET /api/keys/deks/{id}.
func (h *KeyHandler) GetDEK(w http.ResponseWriter, r *http.Request) {
	rec, err := h.KeyService.GetDEK(r.Context(), middleware.GetUserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetMaster handles GET /api/keys/master.
func (h *KeyHandler) GetMaster(w http.ResponseWriter, r *http.Request) {
	a, err := h.KeyService.GetArtifacts(r.Context(), middleware.GetUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PutMaster handles PUT /api/keys/master.
func (h *KeyHandler) PutMaster(w http.ResponseWriter, r *http.Request) {
	var a models.MasterKeyArtifacts
	if !decode(w, r, &a) {
		return
	}
	if err := h.KeyService.CreateArtifacts(r.Context(), middleware.GetUserIDFromContext(r.Context()), a); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// CreateChild handles POST /api/children.
func (h *KeyHandler) CreateChild(w http.ResponseWriter, r *http.Request) {
	var child models.ChildUser
	if !decode(w, r, &child) {
		return
	}
	out, err := h.KeyService.CreateChildUser(r.Context(), middleware.GetUserIDFromContext(r.Context()), child)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetChild handles GET /api/children/{login}.
func (h *KeyHandler) GetChild(w http.ResponseWriter, r *http.Request) {
	out, err := h.KeyService.GetChildUser(r.Context(), middleware.GetUserIDFromContext(r.Context()), chi.URLParam(r, "login"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
