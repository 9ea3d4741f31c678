// Package service provides the keystore business logic: SRP registration
// and login, wrapped-key storage, the delegation token lifecycle and share
// records. Persistence is delegated to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

// DefaultChallengeTTL bounds the time between the SRP challenge and proof.
const DefaultChallengeTTL = 2 * time.Minute

// AuthRepository defines the persistence operations
// required by the authentication service.
type AuthRepository interface {
	// CreateUser stores a new identity. Returns apierrors.ErrConflict if the
	// login is taken.
	CreateUser(ctx context.Context, u models.User) error
	// GetUser returns apierrors.ErrNotFound for unknown logins.
	GetUser(ctx context.Context, login string) (*models.User, error)
	// SaveChallenge stores the server half of a pending SRP exchange.
	SaveChallenge(ctx context.Context, c models.Challenge) error
	// TakeChallenge returns and deletes a pending challenge, so each
	// challenge can be answered once.
	TakeChallenge(ctx context.Context, id string) (*models.Challenge, error)
}

// AuthService implements the keystore side of the SRP exchange.
type AuthService struct {
	repo         AuthRepository
	group        *crypto.SRPGroup
	tokens       *TokenIssuer
	challengeTTL time.Duration
	log          *zap.Logger
	now          func() time.Time
}

// NewAuthService constructs an AuthService. group may be nil for the
// RFC 5054 2048-bit group.
func NewAuthService(repo AuthRepository, tokens *TokenIssuer, group *crypto.SRPGroup, log *zap.Logger) *AuthService {
	if group == nil {
		group = crypto.RFC5054Group2048()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		repo:         repo,
		group:        group,
		tokens:       tokens,
		challengeTTL: DefaultChallengeTTL,
		log:          log,
		now:          time.Now,
	}
}

// Register stores a new identity with its SRP salt and verifier.
func (s *AuthService) Register(ctx context.Context, login string, salt, verifier []byte) error {
	if login == "" || len(salt) == 0 || len(verifier) == 0 {
		return apierrors.ErrInvalidRequest
	}
	err := s.repo.CreateUser(ctx, models.User{
		Login:     login,
		Salt:      salt,
		Verifier:  verifier,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}
	s.log.Info("identity registered", zap.String("login", login))
	return nil
}

// Challenge answers the first SRP message with the salt and B.
func (s *AuthService) Challenge(ctx context.Context, login string, clientPublic []byte) (*models.Challenge, []byte, error) {
	if login == "" {
		return nil, nil, apierrors.ErrInvalidRequest
	}
	if err := s.group.ValidatePublic(clientPublic); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apierrors.ErrInvalidRequest, err)
	}
	user, err := s.repo.GetUser(ctx, login)
	if errors.Is(err, apierrors.ErrNotFound) {
		return nil, nil, apierrors.ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}
	if len(user.Verifier) == 0 {
		// dependent identities have no password
		return nil, nil, apierrors.ErrUnauthorized
	}

	srv, err := s.group.NewChallenge(user.Verifier)
	if err != nil {
		return nil, nil, err
	}
	ch := models.Challenge{
		ID:           uuid.NewString(),
		Login:        user.Login,
		ClientPublic: clientPublic,
		ServerPublic: srv.Public,
		ServerSecret: srv.Secret,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.SaveChallenge(ctx, ch); err != nil {
		return nil, nil, err
	}
	return &ch, user.Salt, nil
}

// SessionGrant is what a verified SRP proof buys.
type SessionGrant struct {
	Token       string
	ServerProof []byte
	ExpiresAt   time.Time
}

// Verify checks the client proof and issues a session token.
func (s *AuthService) Verify(ctx context.Context, challengeID string, proof []byte) (*SessionGrant, error) {
	ch, err := s.repo.TakeChallenge(ctx, challengeID)
	if errors.Is(err, apierrors.ErrNotFound) {
		return nil, apierrors.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if s.now().Sub(ch.CreatedAt) > s.challengeTTL {
		return nil, fmt.Errorf("%w: challenge expired", apierrors.ErrUnauthorized)
	}
	user, err := s.repo.GetUser(ctx, ch.Login)
	if err != nil {
		return nil, err
	}

	serverProof, err := s.group.VerifyClient(
		user.Login, user.Salt, user.Verifier, ch.ClientPublic,
		&crypto.SRPChallenge{Public: ch.ServerPublic, Secret: ch.ServerSecret},
		proof,
	)
	if err != nil {
		s.log.Warn("login rejected", zap.String("login", user.Login))
		return nil, apierrors.ErrUnauthorized
	}

	token, exp, err := s.tokens.Issue(user.Login)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.log.Info("session issued", zap.String("login", user.Login))
	return &SessionGrant{Token: token, ServerProof: serverProof, ExpiresAt: exp}, nil
}
