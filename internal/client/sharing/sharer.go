package sharing

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/client/connection"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

// Backend is the keystore surface used for shares.
type Backend interface {
	PutShare(ctx context.Context, s *models.Session, share models.Share) (*models.Share, error)
	GetShare(ctx context.Context, s *models.Session, id string) (*models.Share, error)
	ListItemShares(ctx context.Context, s *models.Session, itemID string) ([]models.Share, error)
	IncomingShares(ctx context.Context, s *models.Session) ([]models.Share, error)
}

// Sharer shares items and opens shares addressed to the session identity.
type Sharer struct {
	backend Backend
	conns   connection.Provider
	crypto  crypto.Primitives
	log     *zap.Logger
}

// Option configures a Sharer.
type Option func(*Sharer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sharer) { s.log = l }
}

// New returns a Sharer.
func New(backend Backend, conns connection.Provider, c crypto.Primitives, opts ...Option) *Sharer {
	s := &Sharer{backend: backend, conns: conns, crypto: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Item is a share opened by its recipient.
type Item struct {
	ShareID string
	ItemID  string
	Owner   string
	Version int64
	Values  []Value
}

// ShareItem shares the item's slots with recipient under a fresh share
// DEK. Sharing the same item with the same recipient again replaces the
// existing share.
func (s *Sharer) ShareItem(ctx context.Context, sess *models.Session, itemID, recipient string, slots []Slot) (*models.Share, error) {
	conn, err := s.conns.Resolve(ctx, sess.Identity, recipient)
	if err != nil {
		return nil, err
	}
	existing, err := s.backend.ListItemShares(ctx, sess, itemID)
	if err != nil {
		return nil, fmt.Errorf("list shares of %s: %w", itemID, err)
	}
	shareID := uuid.NewString()
	for _, sh := range existing {
		if sh.Recipient == recipient {
			shareID = sh.ID
			break
		}
	}
	return s.put(ctx, sess, conn, shareID, itemID, slots)
}

// UpdateItem re-keys every outstanding share of the item: each recipient
// gets a new share DEK and the current slot values.
func (s *Sharer) UpdateItem(ctx context.Context, sess *models.Session, itemID string, slots []Slot) ([]models.Share, error) {
	existing, err := s.backend.ListItemShares(ctx, sess, itemID)
	if err != nil {
		return nil, fmt.Errorf("list shares of %s: %w", itemID, err)
	}
	out := make([]models.Share, 0, len(existing))
	for _, sh := range existing {
		conn, err := s.conns.Resolve(ctx, sess.Identity, sh.Recipient)
		if err != nil {
			return out, err
		}
		updated, err := s.put(ctx, sess, conn, sh.ID, itemID, slots)
		if err != nil {
			return out, err
		}
		out = append(out, *updated)
	}
	s.log.Info("item re-keyed", zap.String("item_id", itemID), zap.Int("shares", len(out)))
	return out, nil
}

func (s *Sharer) put(ctx context.Context, sess *models.Session, conn *models.Connection, shareID, itemID string, slots []Slot) (*models.Share, error) {
	dek, encDEK, err := s.newShareDEK(conn)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(dek)

	share := models.Share{
		ID:                 shareID,
		ItemID:             itemID,
		Recipient:          conn.Other,
		RecipientPublicKey: conn.TheirPublicKey,
		EncryptedDEK:       encDEK,
		Slots:              make([]models.ShareSlot, 0, len(slots)),
	}
	for _, in := range slots {
		slot, err := s.seal(dek, shareID, in)
		if err != nil {
			return nil, fmt.Errorf("seal slot %q: %w", in.Name, err)
		}
		share.Slots = append(share.Slots, *slot)
	}

	stored, err := s.backend.PutShare(ctx, sess, share)
	if err != nil {
		return nil, fmt.Errorf("store share %s: %w", shareID, err)
	}
	s.log.Info("item shared",
		zap.String("item_id", itemID),
		zap.String("share_id", shareID),
		zap.String("recipient", conn.Other),
	)
	return stored, nil
}

// Receive opens a share addressed to the session identity and verifies
// every slot. A single tampered slot fails the whole share.
func (s *Sharer) Receive(ctx context.Context, sess *models.Session, kek []byte, shareID string) (*Item, error) {
	sh, err := s.backend.GetShare(ctx, sess, shareID)
	if err != nil {
		return nil, fmt.Errorf("load share %s: %w", shareID, err)
	}
	conn, err := s.conns.Resolve(ctx, sess.Identity, sh.Owner)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sh.RecipientPublicKey, conn.OwnPublicKey) {
		return nil, fmt.Errorf("%w: share %s", ErrRecipientKey, sh.ID)
	}

	dek, err := s.OpenDEK(conn, kek, sh.EncryptedDEK)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(dek)

	item := &Item{ShareID: sh.ID, ItemID: sh.ItemID, Owner: sh.Owner, Version: sh.Version}
	for _, slot := range sh.Slots {
		v, err := s.Verify(dek, slot)
		if err != nil {
			s.log.Warn("shared value failed verification",
				zap.String("share_id", sh.ID),
				zap.String("slot", slot.Name),
			)
			return nil, err
		}
		v.Origin.SourceShareID = sh.ID
		item.Values = append(item.Values, *v)
	}
	return item, nil
}

// ListIncoming returns the shares addressed to the session identity.
func (s *Sharer) ListIncoming(ctx context.Context, sess *models.Session) ([]models.Share, error) {
	return s.backend.IncomingShares(ctx, sess)
}
