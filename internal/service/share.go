package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
)

// ShareRepository defines the persistence operations needed by the
// ShareService.
type ShareRepository interface {
	// GetUser returns apierrors.ErrNotFound for unknown identities.
	GetUser(ctx context.Context, login string) (*models.User, error)
	// UpsertShare inserts or replaces a share by ID.
	UpsertShare(ctx context.Context, s models.Share) error
	GetShare(ctx context.Context, id string) (*models.Share, error)
	ListSharesByItem(ctx context.Context, owner, itemID string) ([]models.Share, error)
	ListIncomingShares(ctx context.Context, recipient string) ([]models.Share, error)
}

// ShareService stores share records. Slots are opaque ciphertext here.
type ShareService struct {
	repo ShareRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewShareService constructs a ShareService with the provided ShareRepository.
func NewShareService(repo ShareRepository, log *zap.Logger) *ShareService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShareService{repo: repo, log: log, now: time.Now}
}

// Put creates or re-keys a share owned by caller. Each write bumps the
// version, so recipients can tell a re-keyed share from a stale copy.
func (s *ShareService) Put(ctx context.Context, caller string, share models.Share) (*models.Share, error) {
	if share.ID == "" || share.ItemID == "" || share.Recipient == "" ||
		len(share.EncryptedDEK) == 0 || len(share.RecipientPublicKey) == 0 {
		return nil, apierrors.ErrInvalidRequest
	}
	if share.Recipient == caller {
		return nil, apierrors.ErrInvalidRequest
	}
	if _, err := s.repo.GetUser(ctx, share.Recipient); err != nil {
		return nil, fmt.Errorf("recipient %s: %w", share.Recipient, err)
	}

	existing, err := s.repo.GetShare(ctx, share.ID)
	switch {
	case errors.Is(err, apierrors.ErrNotFound):
		share.Version = 1
	case err != nil:
		return nil, err
	case existing.Owner != caller || existing.ItemID != share.ItemID || existing.Recipient != share.Recipient:
		return nil, apierrors.ErrForbidden
	default:
		share.Version = existing.Version + 1
	}

	share.Owner = caller
	share.UpdatedAt = s.now().UTC()
	if err := s.repo.UpsertShare(ctx, share); err != nil {
		return nil, err
	}
	s.log.Info("share stored",
		zap.String("share_id", share.ID),
		zap.String("item_id", share.ItemID),
		zap.Int64("version", share.Version),
	)
	return &share, nil
}

// Get returns a share to its owner or recipient.
func (s *ShareService) Get(ctx context.Context, caller, id string) (*models.Share, error) {
	share, err := s.repo.GetShare(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != share.Owner && caller != share.Recipient {
		return nil, apierrors.ErrForbidden
	}
	return share, nil
}

// ListByItem returns the caller's outstanding shares of an item.
func (s *ShareService) ListByItem(ctx context.Context, caller, itemID string) ([]models.Share, error) {
	return s.repo.ListSharesByItem(ctx, caller, itemID)
}

// Incoming returns the shares addressed to caller.
func (s *ShareService) Incoming(ctx context.Context, caller string) ([]models.Share, error) {
	return s.repo.ListIncomingShares(ctx, caller)
}
