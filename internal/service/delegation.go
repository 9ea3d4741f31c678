package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
)

// DelegationRepository defines the persistence operations needed by the
// DelegationService.
type DelegationRepository interface {
	CreateDelegation(ctx context.Context, d models.Delegation) error
	GetDelegation(ctx context.Context, token string) (*models.Delegation, error)
	// UpdateDelegation replaces the record only if its stored status still
	// equals from; otherwise it returns apierrors.ErrConflict.
	UpdateDelegation(ctx context.Context, d models.Delegation, from models.DelegationStatus) error
}

// SignatureVerifier checks the delegate's signature over the token.
type SignatureVerifier interface {
	RSAVerify(publicKey, msg, signature []byte) error
}

// DelegationService owns the delegation token lifecycle. Token uniqueness
// and step ordering are enforced here, never by clients.
type DelegationService struct {
	repo     DelegationRepository
	verifier SignatureVerifier
	log      *zap.Logger
	now      func() time.Time
}

// NewDelegationService constructs a DelegationService.
func NewDelegationService(repo DelegationRepository, verifier SignatureVerifier, log *zap.Logger) *DelegationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DelegationService{repo: repo, verifier: verifier, log: log, now: time.Now}
}

// Open mints a token scoped to (owner, role) and reserves it for delegate.
// No other identity can claim it.
func (s *DelegationService) Open(ctx context.Context, owner, delegate, role string) (*models.Delegation, error) {
	if role == "" || delegate == "" || delegate == owner {
		return nil, apierrors.ErrInvalidRequest
	}
	now := s.now().UTC()
	d := models.Delegation{
		Token:     uuid.NewString(),
		Owner:     owner,
		Delegate:  delegate,
		Role:      role,
		Status:    models.DelegationOpened,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateDelegation(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("delegation opened", zap.String("owner", owner), zap.String("delegate", delegate), zap.String("role", role))
	return &d, nil
}

// Get returns a delegation to one of its two parties.
func (s *DelegationService) Get(ctx context.Context, caller, token string) (*models.Delegation, error) {
	d, err := s.repo.GetDelegation(ctx, token)
	if err != nil {
		return nil, err
	}
	if caller != d.Owner && caller != d.Delegate {
		return nil, apierrors.ErrForbidden
	}
	return d, nil
}

// Claim binds the delegate to the token after checking its signature.
func (s *DelegationService) Claim(ctx context.Context, caller, token string, publicKey, signature []byte) (*models.Delegation, error) {
	if len(publicKey) == 0 || len(signature) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	d, err := s.repo.GetDelegation(ctx, token)
	if err != nil {
		return nil, err
	}
	if caller == d.Owner {
		return nil, fmt.Errorf("%w: owner cannot claim its own delegation", apierrors.ErrForbidden)
	}
	if caller != d.Delegate {
		s.log.Warn("delegation claimed by uninvited identity", zap.String("caller", caller), zap.String("delegate", d.Delegate))
		return nil, fmt.Errorf("%w: token was issued to another delegate", apierrors.ErrForbidden)
	}
	if err := s.verifier.RSAVerify(publicKey, []byte(token), signature); err != nil {
		return nil, fmt.Errorf("%w: token signature: %v", apierrors.ErrInvalidRequest, err)
	}
	return s.advance(ctx, d, models.StepClaim, func(d *models.Delegation) {
		d.ClaimedPublicKey = publicKey
		d.Signature = signature
	})
}

// Share stores the owner KEK encrypted for the delegate.
func (s *DelegationService) Share(ctx context.Context, caller, token string, encryptedKEK []byte, wrappedByDelegateKEK bool) (*models.Delegation, error) {
	if len(encryptedKEK) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	d, err := s.repo.GetDelegation(ctx, token)
	if err != nil {
		return nil, err
	}
	if caller != d.Owner {
		return nil, apierrors.ErrForbidden
	}
	return s.advance(ctx, d, models.StepShare, func(d *models.Delegation) {
		d.EncryptedKEK = encryptedKEK
		d.KEKWrappedByDelegateKEK = wrappedByDelegateKEK
	})
}

// Reencrypt stores the durable owner-KEK-wrapped-by-delegate-KEK form and
// drops the one-time connection-wrapped copy.
func (s *DelegationService) Reencrypt(ctx context.Context, caller, token string, wrapped []byte) (*models.Delegation, error) {
	if len(wrapped) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	d, err := s.repo.GetDelegation(ctx, token)
	if err != nil {
		return nil, err
	}
	if caller != d.Delegate {
		return nil, apierrors.ErrForbidden
	}
	return s.advance(ctx, d, models.StepReencrypt, func(d *models.Delegation) {
		d.DelegateWrappedKEK = wrapped
		d.EncryptedKEK = nil
	})
}

func (s *DelegationService) advance(ctx context.Context, d *models.Delegation, step models.DelegationStep, apply func(*models.Delegation)) (*models.Delegation, error) {
	from := d.Status
	next, err := models.Transition(from, step)
	if err != nil {
		return nil, err
	}
	updated := *d
	apply(&updated)
	updated.Status = next
	updated.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateDelegation(ctx, updated, from); err != nil {
		return nil, err
	}
	s.log.Info("delegation advanced",
		zap.String("step", string(step)),
		zap.String("status", string(next)),
		zap.String("owner", updated.Owner),
	)
	return &updated, nil
}
