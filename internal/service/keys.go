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

// KeyRepository defines the persistence operations needed by the KeyService.
type KeyRepository interface {
	GetUser(ctx context.Context, login string) (*models.User, error)
	// GetKEK returns apierrors.ErrNotFound when no KEK was stored yet.
	GetKEK(ctx context.Context, owner string) (*models.KeyRecord, error)
	// CreateKEK returns apierrors.ErrConflict when a KEK already exists, so
	// a KEK is never silently replaced.
	CreateKEK(ctx context.Context, rec models.KeyRecord) error
	GetDEK(ctx context.Context, owner, id string) (*models.KeyRecord, error)
	// CreateProfileDEK stores the DEK and sets the owner's profile pointer
	// atomically. It returns apierrors.ErrConflict when the pointer is
	// already set.
	CreateProfileDEK(ctx context.Context, rec models.KeyRecord) error
	GetArtifacts(ctx context.Context, owner string) (*models.MasterKeyArtifacts, error)
	// CreateArtifacts returns apierrors.ErrConflict if artifacts exist.
	CreateArtifacts(ctx context.Context, owner string, a models.MasterKeyArtifacts) error
	// CreateChildUser stores a dependent identity with its KEK and DEK
	// records in one transaction.
	CreateChildUser(ctx context.Context, parent string, child models.ChildUser) error
}

// KeyService stores wrapped keys. It never sees unwrapped key material.
type KeyService struct {
	repo KeyRepository
	log  *zap.Logger
	now  func() time.Time

	// MinIterations rejects master-key artifacts derived with fewer PBKDF2
	// iterations. Zero disables the check.
	MinIterations int
}

// NewKeyService constructs a KeyService with the provided KeyRepository.
func NewKeyService(repo KeyRepository, log *zap.Logger) *KeyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyService{repo: repo, log: log, now: time.Now}
}

// Profile returns the caller's identity record.
func (s *KeyService) Profile(ctx context.Context, login string) (*models.User, error) {
	return s.repo.GetUser(ctx, login)
}

// GetKEK returns the caller's wrapped KEK.
func (s *KeyService) GetKEK(ctx context.Context, owner string) (*models.KeyRecord, error) {
	return s.repo.GetKEK(ctx, owner)
}

// CreateKEK stores the caller's wrapped KEK once.
func (s *KeyService) CreateKEK(ctx context.Context, owner string, wrapped []byte) (*models.KeyRecord, error) {
	if len(wrapped) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	rec := models.KeyRecord{ID: uuid.NewString(), Owner: owner, Wrapped: wrapped, CreatedAt: s.now().UTC()}
	if err := s.repo.CreateKEK(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("kek stored", zap.String("owner", owner))
	return &rec, nil
}

// GetDEK returns one of the caller's wrapped DEKs.
func (s *KeyService) GetDEK(ctx context.Context, owner, id string) (*models.KeyRecord, error) {
	return s.repo.GetDEK(ctx, owner, id)
}

// CreateDEK stores the caller's profile DEK and returns its record. A
// profile that already points at a DEK answers apierrors.ErrConflict.
func (s *KeyService) CreateDEK(ctx context.Context, owner string, wrapped []byte) (*models.KeyRecord, error) {
	if len(wrapped) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	rec := models.KeyRecord{ID: uuid.NewString(), Owner: owner, Wrapped: wrapped, CreatedAt: s.now().UTC()}
	if err := s.repo.CreateProfileDEK(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("dek stored", zap.String("owner", owner), zap.String("dek_id", rec.ID))
	return &rec, nil
}

// GetArtifacts returns the caller's master-key artifacts.
func (s *KeyService) GetArtifacts(ctx context.Context, owner string) (*models.MasterKeyArtifacts, error) {
	return s.repo.GetArtifacts(ctx, owner)
}

// CreateArtifacts stores the caller's master-key artifacts once.
func (s *KeyService) CreateArtifacts(ctx context.Context, owner string, a models.MasterKeyArtifacts) error {
	if len(a.Derivation.Salt) == 0 || a.Derivation.Iterations <= 0 ||
		len(a.Verification.Token) == 0 || len(a.Verification.EncryptedTokenAndSalt) == 0 {
		return apierrors.ErrInvalidRequest
	}
	if a.Derivation.Iterations < s.MinIterations {
		return fmt.Errorf("%w: %d iterations is below %d", apierrors.ErrInvalidRequest, a.Derivation.Iterations, s.MinIterations)
	}
	return s.repo.CreateArtifacts(ctx, owner, a)
}

// CreateChildUser registers a dependent identity owned by parent.
func (s *KeyService) CreateChildUser(ctx context.Context, parent string, child models.ChildUser) (*models.ChildUser, error) {
	if child.Login == "" || len(child.KEKWrappedByParent) == 0 || len(child.DEKWrappedByKEK) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	child.DEKID = uuid.NewString()
	if err := s.repo.CreateChildUser(ctx, parent, child); err != nil {
		return nil, err
	}
	s.log.Info("child identity created", zap.String("parent", parent), zap.String("login", child.Login))
	return &child, nil
}

// GetChildUser returns a dependent identity's wrapped keys to its parent.
func (s *KeyService) GetChildUser(ctx context.Context, parent, login string) (*models.ChildUser, error) {
	user, err := s.repo.GetUser(ctx, login)
	if err != nil {
		return nil, err
	}
	if user.Parent != parent {
		return nil, apierrors.ErrForbidden
	}
	kek, err := s.repo.GetKEK(ctx, login)
	if err != nil {
		return nil, err
	}
	dek, err := s.repo.GetDEK(ctx, login, user.DEKID)
	if err != nil {
		return nil, err
	}
	return &models.ChildUser{
		Login:              login,
		KEKWrappedByParent: kek.Wrapped,
		DEKWrappedByKEK:    dek.Wrapped,
		DEKID:              dek.ID,
	}, nil
}
