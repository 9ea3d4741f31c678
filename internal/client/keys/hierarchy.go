// Package keys bootstraps the per-identity key hierarchy:
//
//	PDK (password + secret key) wraps KEK, KEK wraps DEK.
//
// Only wrapped keys are stored by the keystore. Bootstrap is idempotent: a
// second run loads what the first one stored, and a run interrupted after
// persisting the KEK completes the DEK on the next attempt.
package keys

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/secret"
)

// ErrVerificationFailed is returned when a stored key cannot be unwrapped
// or a passphrase does not match its verification artifact.
var ErrVerificationFailed = errors.New("key verification failed")

// Backend is the keystore surface the hierarchy needs.
type Backend interface {
	Profile(ctx context.Context, s *models.Session) (*models.User, error)
	GetKEK(ctx context.Context, s *models.Session) (*models.KeyRecord, error)
	PutKEK(ctx context.Context, s *models.Session, wrapped []byte) (*models.KeyRecord, error)
	GetDEK(ctx context.Context, s *models.Session, id string) (*models.KeyRecord, error)
	// CreateDEK stores the profile DEK and sets the profile pointer in one
	// step. It fails with apierrors.ErrConflict once a pointer exists.
	CreateDEK(ctx context.Context, s *models.Session, wrapped []byte) (*models.KeyRecord, error)
	GetMasterArtifacts(ctx context.Context, s *models.Session) (*models.MasterKeyArtifacts, error)
	PutMasterArtifacts(ctx context.Context, s *models.Session, a models.MasterKeyArtifacts) error
}

// Keys is an unwrapped KEK and DEK pair. Call Zero when done.
type Keys struct {
	KEK   []byte
	DEK   []byte
	DEKID string
}

// Zero wipes both keys.
func (k *Keys) Zero() {
	if k == nil {
		return
	}
	crypto.Zero(k.KEK)
	crypto.Zero(k.DEK)
}

// Hierarchy loads or creates the keys of a logged-in identity.
type Hierarchy struct {
	backend    Backend
	crypto     crypto.Primitives
	iterations int
	log        *zap.Logger
}

// Option configures a Hierarchy.
type Option func(*Hierarchy)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hierarchy) { h.log = l }
}

// WithIterations sets the PBKDF2 iteration count for the PDK and for new
// master keys.
func WithIterations(n int) Option {
	return func(h *Hierarchy) { h.iterations = n }
}

// New returns a Hierarchy.
func New(backend Backend, c crypto.Primitives, opts ...Option) *Hierarchy {
	h := &Hierarchy{
		backend:    backend,
		crypto:     c,
		iterations: crypto.DefaultIterations,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Bootstrap derives the PDK from password and the session's secret, then
// loads or creates the KEK and DEK.
func (h *Hierarchy) Bootstrap(ctx context.Context, s *models.Session, password string) (*Keys, error) {
	if s.Secret.SecretKey == "" {
		return nil, fmt.Errorf("%w: session carries no secret", secret.ErrInvalidSecret)
	}
	pdk := secret.PDK(h.crypto, password, s.Secret, h.iterations)
	defer crypto.Zero(pdk)
	return h.BootstrapWithPDK(ctx, s, pdk)
}

// BootstrapWithPDK loads or creates the KEK under wrappingKey and the DEK
// under the KEK.
func (h *Hierarchy) BootstrapWithPDK(ctx context.Context, s *models.Session, wrappingKey []byte) (*Keys, error) {
	kek, err := h.loadOrCreateKEK(ctx, s, wrappingKey)
	if err != nil {
		return nil, err
	}
	dek, dekID, err := h.loadOrCreateDEK(ctx, s, kek)
	if err != nil {
		crypto.Zero(kek)
		return nil, err
	}
	return &Keys{KEK: kek, DEK: dek, DEKID: dekID}, nil
}

func (h *Hierarchy) loadOrCreateKEK(ctx context.Context, s *models.Session, wrappingKey []byte) ([]byte, error) {
	rec, err := h.backend.GetKEK(ctx, s)
	if errors.Is(err, apierrors.ErrNotFound) {
		rec, err = h.createKEK(ctx, s, wrappingKey)
	}
	if err != nil {
		return nil, fmt.Errorf("load kek: %w", err)
	}
	kek, err := h.crypto.AEADDecrypt(wrappingKey, rec.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap kek: %w", ErrVerificationFailed, err)
	}
	return kek, nil
}

func (h *Hierarchy) createKEK(ctx context.Context, s *models.Session, wrappingKey []byte) (*models.KeyRecord, error) {
	kek, err := h.crypto.RandomKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := h.crypto.AEADEncrypt(wrappingKey, kek)
	crypto.Zero(kek)
	if err != nil {
		return nil, err
	}
	rec, err := h.backend.PutKEK(ctx, s, wrapped)
	if errors.Is(err, apierrors.ErrConflict) {
		// Another bootstrap got there first; its KEK is authoritative.
		h.log.Debug("kek already stored, reloading", zap.String("identity", s.Identity))
		return h.backend.GetKEK(ctx, s)
	}
	if err != nil {
		return nil, err
	}
	h.log.Info("kek created", zap.String("identity", s.Identity))
	return rec, nil
}

func (h *Hierarchy) loadOrCreateDEK(ctx context.Context, s *models.Session, kek []byte) ([]byte, string, error) {
	profile, err := h.backend.Profile(ctx, s)
	if err != nil {
		return nil, "", fmt.Errorf("load profile: %w", err)
	}

	var rec *models.KeyRecord
	if profile.DEKID != "" {
		rec, err = h.backend.GetDEK(ctx, s, profile.DEKID)
		if err != nil {
			return nil, "", fmt.Errorf("load dek %s: %w", profile.DEKID, err)
		}
	} else {
		rec, err = h.createDEK(ctx, s, kek)
		if err != nil {
			return nil, "", err
		}
	}

	dek, err := h.crypto.AEADDecrypt(kek, rec.Wrapped)
	if err != nil {
		return nil, "", fmt.Errorf("%w: unwrap dek: %w", ErrVerificationFailed, err)
	}
	return dek, rec.ID, nil
}

func (h *Hierarchy) createDEK(ctx context.Context, s *models.Session, kek []byte) (*models.KeyRecord, error) {
	dek, err := h.crypto.RandomKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := h.crypto.AEADEncrypt(kek, dek)
	crypto.Zero(dek)
	if err != nil {
		return nil, err
	}
	rec, err := h.backend.CreateDEK(ctx, s, wrapped)
	if errors.Is(err, apierrors.ErrConflict) {
		// The profile already points at a DEK, from a concurrent bootstrap
		// or an earlier attempt whose response was lost.
		h.log.Debug("dek already stored, reloading", zap.String("identity", s.Identity))
		profile, err := h.backend.Profile(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		return h.backend.GetDEK(ctx, s, profile.DEKID)
	}
	if err != nil {
		return nil, fmt.Errorf("store dek: %w", err)
	}
	h.log.Info("dek created", zap.String("identity", s.Identity), zap.String("dek_id", rec.ID))
	return rec, nil
}
