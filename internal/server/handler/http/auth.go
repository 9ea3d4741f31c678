// Package http provides the keystore's HTTP handlers and routing.
package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/service"
)

// AuthService defines the SRP operations required by the AuthHandler.
type AuthService interface {
	Register(ctx context.Context, login string, salt, verifier []byte) error
	Challenge(ctx context.Context, login string, clientPublic []byte) (*models.Challenge, []byte, error)
	Verify(ctx context.Context, challengeID string, proof []byte) (*service.SessionGrant, error)
}

// AuthHandler handles HTTP requests for registration and SRP login.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	Log         *zap.Logger
}

// Register handles POST /api/srp/users. A taken identity answers 409.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.AuthService.Register(r.Context(), req.Identity, req.Salt, req.Verifier); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Challenge handles POST /api/srp/challenges, the second SRP message.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req models.ChallengeRequest
	if !decode(w, r, &req) {
		return
	}
	ch, salt, err := h.AuthService.Challenge(r.Context(), req.Identity, req.ClientPublic)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChallengeResponse{
		ChallengeID:  ch.ID,
		Salt:         salt,
		ServerPublic: ch.ServerPublic,
	})
}

// Session handles POST /api/srp/sessions. A wrong proof answers 401.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req models.ProofRequest
	if !decode(w, r, &req) {
		return
	}
	grant, err := h.AuthService.Verify(r.Context(), req.ChallengeID, req.Proof)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SessionResponse{
		Token:       grant.Token,
		ServerProof: grant.ServerProof,
		ExpiresAt:   grant.ExpiresAt,
	})
}
