package delegation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/client/keys"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

// CreateChildUser registers a dependent identity in a single message. The
// owner generates the child's KEK and DEK and keeps control of them: the
// child KEK is stored wrapped under the owner KEK.
func (p *Protocol) CreateChildUser(ctx context.Context, owner *models.Session, ownerKEK []byte, childHandle string) (*keys.Keys, error) {
	kek, err := p.crypto.RandomKey()
	if err != nil {
		return nil, err
	}
	dek, err := p.crypto.RandomKey()
	if err != nil {
		crypto.Zero(kek)
		return nil, err
	}
	k := &keys.Keys{KEK: kek, DEK: dek}

	kekWrapped, err := p.crypto.AEADEncrypt(ownerKEK, kek)
	if err != nil {
		k.Zero()
		return nil, err
	}
	dekWrapped, err := p.crypto.AEADEncrypt(kek, dek)
	if err != nil {
		k.Zero()
		return nil, err
	}

	child, err := p.backend.CreateChildUser(ctx, owner, models.ChildUser{
		Login:              childHandle,
		KEKWrappedByParent: kekWrapped,
		DEKWrappedByKEK:    dekWrapped,
	})
	if err != nil {
		k.Zero()
		return nil, fmt.Errorf("create child %s: %w", childHandle, err)
	}
	k.DEKID = child.DEKID
	p.log.Info("child identity created", zap.String("owner", owner.Identity), zap.String("child", childHandle))
	return k, nil
}

// ChildKeys unwraps the keys of a dependent identity created by owner.
func (p *Protocol) ChildKeys(ctx context.Context, owner *models.Session, ownerKEK []byte, childHandle string) (*keys.Keys, error) {
	child, err := p.backend.GetChildUser(ctx, owner, childHandle)
	if err != nil {
		return nil, fmt.Errorf("load child %s: %w", childHandle, err)
	}
	kek, err := p.crypto.AEADDecrypt(ownerKEK, child.KEKWrappedByParent)
	if err != nil {
		return nil, fmt.Errorf("%w: child kek: %w", keys.ErrVerificationFailed, err)
	}
	dek, err := p.crypto.AEADDecrypt(kek, child.DEKWrappedByKEK)
	if err != nil {
		crypto.Zero(kek)
		return nil, fmt.Errorf("%w: child dek: %w", keys.ErrVerificationFailed, err)
	}
	return &keys.Keys{KEK: kek, DEK: dek, DEKID: child.DEKID}, nil
}
