// Package connection models the asymmetric key exchange between two
// identities. The delegation and sharing protocols only consume it; how
// public keys and invitations actually travel between parties is up to
// the Provider implementation.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

var (
	// ErrNotEstablished is returned when one side of a connection has not
	// published its public key yet.
	ErrNotEstablished = errors.New("connection not established")
	// ErrNoInvitation is returned by Accept when nothing is pending.
	ErrNoInvitation = errors.New("no pending invitation")
)

// Provider establishes connections and carries invitations over them.
type Provider interface {
	// Establish creates own's side of the connection to other if needed and
	// returns it. The private key is stored wrapped by ownKEK. The result
	// has TheirPublicKey set only once other has established its side.
	Establish(ctx context.Context, own string, ownKEK []byte, other string) (*models.Connection, error)
	// Resolve returns own's view of a connection whose both sides exist.
	Resolve(ctx context.Context, own, other string) (*models.Connection, error)
	// Invite sends a delegation invitation from one identity to another.
	Invite(ctx context.Context, from, to string, inv models.DelegationInvitation) error
	// Accept takes the oldest invitation from "from", establishing own's
	// side of the connection on the way.
	Accept(ctx context.Context, own string, ownKEK []byte, from string) (*models.Connection, *models.DelegationInvitation, error)
}

// PrivateKey unwraps the connection private key with the owner's KEK. The
// caller should crypto.Zero the result when done.
func PrivateKey(p crypto.Primitives, conn *models.Connection, kek []byte) ([]byte, error) {
	if conn == nil || len(conn.OwnPrivateKey) == 0 {
		return nil, fmt.Errorf("%w: no private key", ErrNotEstablished)
	}
	priv, err := p.AEADDecrypt(kek, conn.OwnPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap connection key %s: %w", conn.ID, err)
	}
	return priv, nil
}
