// Package auth runs the zero-knowledge registration and login handshake.
// The keystore only ever sees an SRP salt and verifier; the password and
// the secret key never leave the client.
package auth

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

// srpSaltSize is the length of the random SRP salt chosen at registration.
const srpSaltSize = 16

var (
	// ErrLoginFailed is returned when the keystore rejects the proof or
	// its own proof does not verify.
	ErrLoginFailed = errors.New("login failed")
	// ErrAlreadyRegistered is returned when the identity already exists.
	ErrAlreadyRegistered = errors.New("identity already registered")
)

// Backend is the keystore side of the handshake.
type Backend interface {
	Register(ctx context.Context, req models.RegisterRequest) error
	Challenge(ctx context.Context, req models.ChallengeRequest) (*models.ChallengeResponse, error)
	Session(ctx context.Context, req models.ProofRequest) (*models.SessionResponse, error)
}

// Handshake performs registration and login for one client.
type Handshake struct {
	backend    Backend
	crypto     crypto.Primitives
	iterations int
	log        *zap.Logger
}

// Option configures a Handshake.
type Option func(*Handshake)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handshake) { h.log = l }
}

// WithIterations sets the PBKDF2 iteration count of the SRP password
// derivation. Every client of an identity must use the same value.
func WithIterations(n int) Option {
	return func(h *Handshake) { h.iterations = n }
}

// New returns a Handshake talking to backend.
func New(backend Backend, c crypto.Primitives, opts ...Option) *Handshake {
	h := &Handshake{
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

// Register creates identityHandle with an SRP verifier derived from
// password and sec. The handle must match the one embedded in sec, or a
// later Login could never succeed.
func (h *Handshake) Register(ctx context.Context, identityHandle, password string, sec secret.Secret) error {
	if identityHandle == "" || identityHandle != sec.IdentityHandle {
		return fmt.Errorf("%w: handle %q does not match secret", secret.ErrInvalidSecret, identityHandle)
	}

	salt, err := crypto.RandomBytes(srpSaltSize)
	if err != nil {
		return err
	}
	srpPassword := secret.SRPPassword(h.crypto, password, sec, h.iterations)
	verifier := h.crypto.SRPVerifier(identityHandle, srpPassword, salt)
	crypto.Zero(srpPassword)

	err = h.backend.Register(ctx, models.RegisterRequest{
		Identity: identityHandle,
		Salt:     salt,
		Verifier: verifier,
	})
	if errors.Is(err, apierrors.ErrConflict) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, identityHandle)
	}
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	h.log.Info("identity registered", zap.String("identity", identityHandle))
	return nil
}

// Login proves knowledge of password and sec without revealing either,
// verifies the keystore's proof, and returns the session.
func (h *Handshake) Login(ctx context.Context, password string, sec secret.Secret) (*models.Session, error) {
	identity := sec.IdentityHandle
	if identity == "" {
		return nil, secret.ErrInvalidSecret
	}

	srpPassword := secret.SRPPassword(h.crypto, password, sec, h.iterations)
	client, err := h.crypto.NewSRPClient(identity, srpPassword)
	crypto.Zero(srpPassword)
	if err != nil {
		return nil, err
	}

	ch, err := h.backend.Challenge(ctx, models.ChallengeRequest{
		Identity:     identity,
		ClientPublic: client.Public(),
	})
	if err != nil {
		return nil, loginErr("challenge", err)
	}

	proof, err := client.Proof(ch.Salt, ch.ServerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	sess, err := h.backend.Session(ctx, models.ProofRequest{ChallengeID: ch.ChallengeID, Proof: proof})
	if err != nil {
		return nil, loginErr("proof", err)
	}
	if err := client.VerifyServer(sess.ServerProof); err != nil {
		h.log.Warn("keystore proof did not verify", zap.String("identity", identity))
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	h.log.Info("logged in", zap.String("identity", identity))
	return &models.Session{
		Token:     sess.Token,
		Identity:  identity,
		ExpiresAt: sess.ExpiresAt,
		Secret:    sec,
	}, nil
}

// RegisterOrLogin registers the identity when it does not exist yet and
// logs in either way.
func (h *Handshake) RegisterOrLogin(ctx context.Context, identityHandle, password string, sec secret.Secret) (*models.Session, error) {
	err := h.Register(ctx, identityHandle, password, sec)
	if err != nil && !errors.Is(err, ErrAlreadyRegistered) {
		return nil, err
	}
	return h.Login(ctx, password, sec)
}

// loginErr turns keystore rejections into ErrLoginFailed and keeps
// transport failures distinguishable.
func loginErr(step string, err error) error {
	if errors.Is(err, apierrors.ErrUnauthorized) || errors.Is(err, apierrors.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrLoginFailed, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}
