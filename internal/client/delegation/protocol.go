// Package delegation hands an owner's KEK to a delegate in four steps
// coordinated through the keystore:
//
//	open      owner mints a token and invites the delegate over a connection
//	claim     delegate signs the token with its connection key
//	share     owner checks the signer and encrypts its KEK to that key
//	reencrypt delegate re-wraps the owner KEK under its own KEK
//
// The keystore orders the steps and rejects replays; this package never
// tracks delegation state locally.
package delegation

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/client/connection"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

var (
	// ErrKeyMismatch is returned when the key that claimed a token is not
	// the key of the connection to the delegate.
	ErrKeyMismatch = errors.New("claimed key does not match connection")
	// ErrNoInvitation is returned by Claim when the owner sent nothing.
	ErrNoInvitation = connection.ErrNoInvitation
	// ErrDelegateMismatch is returned when the keystore reports a delegate
	// other than the one the owner invited.
	ErrDelegateMismatch = errors.New("delegation bound to another delegate")
	// ErrNotCompleted is returned by OwnerKEK before the reencrypt step.
	ErrNotCompleted = errors.New("delegation not completed")
)

// Backend is the keystore surface used by the protocol.
type Backend interface {
	OpenDelegation(ctx context.Context, s *models.Session, delegate, role string) (*models.Delegation, error)
	GetDelegation(ctx context.Context, s *models.Session, token string) (*models.Delegation, error)
	ClaimDelegation(ctx context.Context, s *models.Session, token string, publicKey, signature []byte) (*models.Delegation, error)
	ShareDelegation(ctx context.Context, s *models.Session, token string, encryptedKEK []byte, wrappedByDelegateKEK bool) (*models.Delegation, error)
	ReencryptDelegation(ctx context.Context, s *models.Session, token string, wrapped []byte) (*models.Delegation, error)
	CreateChildUser(ctx context.Context, s *models.Session, child models.ChildUser) (*models.ChildUser, error)
	GetChildUser(ctx context.Context, s *models.Session, login string) (*models.ChildUser, error)
}

// Protocol runs either side of a delegation.
type Protocol struct {
	backend Backend
	conns   connection.Provider
	crypto  crypto.Primitives
	log     *zap.Logger
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Protocol) { p.log = l }
}

// New returns a Protocol.
func New(backend Backend, conns connection.Provider, c crypto.Primitives, opts ...Option) *Protocol {
	p := &Protocol{backend: backend, conns: conns, crypto: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open mints a delegation token for role, reserved for delegateID, and
// sends the invitation to delegateID over the owner's connection.
func (p *Protocol) Open(ctx context.Context, owner *models.Session, ownerKEK []byte, delegateID, role string) (*models.Delegation, error) {
	d, err := p.backend.OpenDelegation(ctx, owner, delegateID, role)
	if err != nil {
		return nil, fmt.Errorf("open delegation: %w", err)
	}
	if d.Delegate != delegateID {
		return nil, fmt.Errorf("%w: token issued to %q", ErrDelegateMismatch, d.Delegate)
	}
	if _, err := p.conns.Establish(ctx, owner.Identity, ownerKEK, delegateID); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", delegateID, err)
	}
	inv := models.DelegationInvitation{Token: d.Token, Role: d.Role, Owner: owner.Identity}
	if err := p.conns.Invite(ctx, owner.Identity, delegateID, inv); err != nil {
		return nil, fmt.Errorf("invite %s: %w", delegateID, err)
	}
	p.log.Info("delegation opened", zap.String("owner", owner.Identity), zap.String("delegate", delegateID), zap.String("role", role))
	return d, nil
}

// Claim accepts the pending invitation from ownerID and proves possession
// of the connection key by signing the token.
func (p *Protocol) Claim(ctx context.Context, delegate *models.Session, delegateKEK []byte, ownerID string) (*models.Delegation, error) {
	conn, inv, err := p.conns.Accept(ctx, delegate.Identity, delegateKEK, ownerID)
	if err != nil {
		return nil, err
	}
	priv, err := connection.PrivateKey(p.crypto, conn, delegateKEK)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(priv)

	sig, err := p.crypto.RSASign(priv, []byte(inv.Token))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	d, err := p.backend.ClaimDelegation(ctx, delegate, inv.Token, conn.OwnPublicKey, sig)
	if err != nil {
		return nil, fmt.Errorf("claim delegation: %w", err)
	}
	p.log.Info("delegation claimed", zap.String("owner", ownerID), zap.String("delegate", delegate.Identity))
	return d, nil
}

// Share encrypts the owner KEK to the delegate's connection key.
func (p *Protocol) Share(ctx context.Context, owner *models.Session, ownerKEK []byte, token string) (*models.Delegation, error) {
	d, conn, err := p.claimed(ctx, owner, token)
	if err != nil {
		return nil, err
	}
	enc, err := p.crypto.RSAEncrypt(conn.TheirPublicKey, ownerKEK)
	if err != nil {
		return nil, fmt.Errorf("encrypt kek: %w", err)
	}
	return p.share(ctx, owner, d, enc, false)
}

// ShareWrapped is Share for an owner that already holds the delegate's
// KEK, such as the parent of a child identity. The owner KEK is AEAD
// wrapped under delegateKEK instead of RSA encrypted.
func (p *Protocol) ShareWrapped(ctx context.Context, owner *models.Session, ownerKEK []byte, token string, delegateKEK []byte) (*models.Delegation, error) {
	d, _, err := p.claimed(ctx, owner, token)
	if err != nil {
		return nil, err
	}
	enc, err := p.crypto.AEADEncrypt(delegateKEK, ownerKEK)
	if err != nil {
		return nil, fmt.Errorf("wrap kek: %w", err)
	}
	return p.share(ctx, owner, d, enc, true)
}

// claimed loads a claimed delegation and checks that whoever claimed it
// holds the private key of the owner's connection to the delegate.
func (p *Protocol) claimed(ctx context.Context, owner *models.Session, token string) (*models.Delegation, *models.Connection, error) {
	d, err := p.backend.GetDelegation(ctx, owner, token)
	if err != nil {
		return nil, nil, fmt.Errorf("load delegation: %w", err)
	}
	if _, err := models.Transition(d.Status, models.StepShare); err != nil {
		return nil, nil, err
	}
	conn, err := p.conns.Resolve(ctx, owner.Identity, d.Delegate)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve connection to %s: %w", d.Delegate, err)
	}
	if !bytes.Equal(d.ClaimedPublicKey, conn.TheirPublicKey) {
		p.log.Warn("delegation claimed with foreign key", zap.String("delegate", d.Delegate))
		return nil, nil, ErrKeyMismatch
	}
	if err := p.crypto.RSAVerify(conn.TheirPublicKey, []byte(d.Token), d.Signature); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrKeyMismatch, err)
	}
	return d, conn, nil
}

func (p *Protocol) share(ctx context.Context, owner *models.Session, d *models.Delegation, enc []byte, wrapped bool) (*models.Delegation, error) {
	out, err := p.backend.ShareDelegation(ctx, owner, d.Token, enc, wrapped)
	if err != nil {
		return nil, fmt.Errorf("share kek: %w", err)
	}
	p.log.Info("delegation kek shared", zap.String("owner", owner.Identity), zap.String("delegate", d.Delegate))
	return out, nil
}

// Reencrypt recovers the owner KEK and stores it wrapped under the
// delegate's own KEK.
func (p *Protocol) Reencrypt(ctx context.Context, delegate *models.Session, delegateKEK []byte, token string) (*models.Delegation, error) {
	d, err := p.backend.GetDelegation(ctx, delegate, token)
	if err != nil {
		return nil, fmt.Errorf("load delegation: %w", err)
	}
	if len(d.EncryptedKEK) == 0 {
		return nil, fmt.Errorf("%w: no shared kek", models.ErrInvalidTransition)
	}

	var ownerKEK []byte
	if d.KEKWrappedByDelegateKEK {
		ownerKEK, err = p.crypto.AEADDecrypt(delegateKEK, d.EncryptedKEK)
	} else {
		ownerKEK, err = p.decryptWithConnection(ctx, delegate, delegateKEK, d)
	}
	if err != nil {
		return nil, fmt.Errorf("recover owner kek: %w", err)
	}
	defer crypto.Zero(ownerKEK)

	wrapped, err := p.crypto.AEADEncrypt(delegateKEK, ownerKEK)
	if err != nil {
		return nil, err
	}
	out, err := p.backend.ReencryptDelegation(ctx, delegate, token, wrapped)
	if err != nil {
		return nil, fmt.Errorf("store reencrypted kek: %w", err)
	}
	p.log.Info("delegation completed", zap.String("owner", d.Owner), zap.String("delegate", delegate.Identity))
	return out, nil
}

func (p *Protocol) decryptWithConnection(ctx context.Context, delegate *models.Session, delegateKEK []byte, d *models.Delegation) ([]byte, error) {
	conn, err := p.conns.Resolve(ctx, delegate.Identity, d.Owner)
	if err != nil {
		return nil, err
	}
	priv, err := connection.PrivateKey(p.crypto, conn, delegateKEK)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(priv)
	return p.crypto.RSADecrypt(priv, d.EncryptedKEK)
}

// OwnerKEK unwraps the owner KEK of a completed delegation.
func (p *Protocol) OwnerKEK(ctx context.Context, delegate *models.Session, delegateKEK []byte, token string) ([]byte, error) {
	d, err := p.backend.GetDelegation(ctx, delegate, token)
	if err != nil {
		return nil, fmt.Errorf("load delegation: %w", err)
	}
	if d.Status != models.DelegationCompleted || len(d.DelegateWrappedKEK) == 0 {
		return nil, fmt.Errorf("%w: status %s", ErrNotCompleted, d.Status)
	}
	kek, err := p.crypto.AEADDecrypt(delegateKEK, d.DelegateWrappedKEK)
	if err != nil {
		return nil, fmt.Errorf("unwrap owner kek: %w", err)
	}
	return kek, nil
}
