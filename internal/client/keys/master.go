package keys

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

const (
	masterSaltSize  = 16
	masterTokenSize = 32
)

// CreateMasterKey derives a master encryption key (MEK) from passphrase
// alone and stores the artifacts needed to re-derive and verify it. If
// artifacts already exist the passphrase is checked against them instead.
func (h *Hierarchy) CreateMasterKey(ctx context.Context, s *models.Session, passphrase string) ([]byte, error) {
	salt, err := crypto.RandomBytes(masterSaltSize)
	if err != nil {
		return nil, err
	}
	token, err := crypto.RandomBytes(masterTokenSize)
	if err != nil {
		return nil, err
	}

	mek := h.crypto.DeriveKey([]byte(passphrase), salt, h.iterations)
	enc, err := h.crypto.AEADEncrypt(mek, append(append([]byte{}, token...), salt...))
	if err != nil {
		crypto.Zero(mek)
		return nil, err
	}

	err = h.backend.PutMasterArtifacts(ctx, s, models.MasterKeyArtifacts{
		Derivation:   models.DerivationArtifact{Salt: salt, Iterations: h.iterations},
		Verification: models.VerificationArtifact{Token: token, EncryptedTokenAndSalt: enc},
	})
	if errors.Is(err, apierrors.ErrConflict) {
		crypto.Zero(mek)
		return h.DeriveMasterKey(ctx, s, passphrase)
	}
	if err != nil {
		crypto.Zero(mek)
		return nil, fmt.Errorf("store master key artifacts: %w", err)
	}
	h.log.Info("master key created", zap.String("identity", s.Identity))
	return mek, nil
}

// DeriveMasterKey re-derives the MEK and checks it against the stored
// verification artifact. A wrong passphrase yields ErrVerificationFailed.
func (h *Hierarchy) DeriveMasterKey(ctx context.Context, s *models.Session, passphrase string) ([]byte, error) {
	a, err := h.backend.GetMasterArtifacts(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("load master key artifacts: %w", err)
	}

	mek := h.crypto.DeriveKey([]byte(passphrase), a.Derivation.Salt, a.Derivation.Iterations)
	pt, err := h.crypto.AEADDecrypt(mek, a.Verification.EncryptedTokenAndSalt)
	if err != nil {
		crypto.Zero(mek)
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	want := append(append([]byte{}, a.Verification.Token...), a.Derivation.Salt...)
	if subtle.ConstantTimeCompare(pt, want) != 1 {
		crypto.Zero(mek)
		return nil, fmt.Errorf("%w: verification token mismatch", ErrVerificationFailed)
	}
	return mek, nil
}

// BootstrapWithPassphrase derives the MEK (creating it on first use) and
// bootstraps the KEK and DEK under it.
func (h *Hierarchy) BootstrapWithPassphrase(ctx context.Context, s *models.Session, passphrase string) (*Keys, error) {
	mek, err := h.DeriveMasterKey(ctx, s, passphrase)
	if errors.Is(err, apierrors.ErrNotFound) {
		mek, err = h.CreateMasterKey(ctx, s, passphrase)
	}
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(mek)
	return h.BootstrapWithPDK(ctx, s, mek)
}
