package models

import (
	"fmt"
	"time"

	"github.com/atinyakov/keyvault/internal/apierrors"
)

// DelegationStatus is the backend state of one delegation handshake.
type DelegationStatus string

const (
	// DelegationOpened: the owner minted a token and sent the invitation.
	DelegationOpened DelegationStatus = "opened"
	// DelegationClaimed: the delegate signed the token with its
	// connection key.
	DelegationClaimed DelegationStatus = "claimed"
	// DelegationShared: the owner submitted its KEK encrypted for the
	// delegate.
	DelegationShared DelegationStatus = "shared"
	// DelegationCompleted: the delegate stored the owner KEK wrapped by its
	// own KEK.
	DelegationCompleted DelegationStatus = "completed"
)

// DelegationStep is an event that advances a delegation.
type DelegationStep string

const (
	StepClaim     DelegationStep = "claim"
	StepShare     DelegationStep = "share"
	StepReencrypt DelegationStep = "reencrypt"
)

// ErrInvalidTransition is returned when a step does not apply to the
// current status, e.g. a token claimed or shared twice. It matches
// apierrors.ErrConflict.
var ErrInvalidTransition = fmt.Errorf("%w: invalid delegation transition", apierrors.ErrConflict)

// Transition is the delegation state machine. It is pure: the keystore
// persists the returned status, clients use it to know which step is next.
func Transition(status DelegationStatus, step DelegationStep) (DelegationStatus, error) {
	switch {
	case status == DelegationOpened && step == StepClaim:
		return DelegationClaimed, nil
	case status == DelegationClaimed && step == StepShare:
		return DelegationShared, nil
	case status == DelegationShared && step == StepReencrypt:
		return DelegationCompleted, nil
	}
	return status, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, step, status)
}

// NextStep reports which step a delegation in status is waiting for, and
// false once the handshake is complete.
func NextStep(status DelegationStatus) (DelegationStep, bool) {
	switch status {
	case DelegationOpened:
		return StepClaim, true
	case DelegationClaimed:
		return StepShare, true
	case DelegationShared:
		return StepReencrypt, true
	}
	return "", false
}

// Delegation is the keystore record of one handshake between an owner and
// a delegate, keyed by its token.
type Delegation struct {
	Token    string           `json:"token"`
	Owner    string           `json:"owner"`
	Delegate string           `json:"delegate,omitempty"`
	Role     string           `json:"role"`
	Status   DelegationStatus `json:"status"`
	// ClaimedPublicKey is the delegate's connection public key (PKIX DER)
	// and Signature its RSA signature over the token.
	ClaimedPublicKey []byte `json:"claimed_public_key,omitempty"`
	Signature        []byte `json:"signature,omitempty"`
	// EncryptedKEK is the owner KEK, RSA-encrypted to ClaimedPublicKey
	// unless KEKWrappedByDelegateKEK is set.
	EncryptedKEK            []byte `json:"encrypted_kek,omitempty"`
	KEKWrappedByDelegateKEK bool   `json:"kek_wrapped_by_delegate_kek,omitempty"`
	// DelegateWrappedKEK is the durable form: owner KEK wrapped by the
	// delegate's own KEK.
	DelegateWrappedKEK []byte    `json:"delegate_wrapped_kek,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DelegationInvitation travels over a connection from owner to delegate.
type DelegationInvitation struct {
	Token string `json:"token"`
	Role  string `json:"role"`
	Owner string `json:"owner"`
}

// Connection is an established asymmetric key exchange between two
// identities, seen from Own's side. OwnPrivateKey is the PKCS#8 private key
// wrapped by Own's KEK.
type Connection struct {
	ID              string            `json:"id"`
	Own             string            `json:"own"`
	Other           string            `json:"other"`
	OwnPublicKey    []byte            `json:"own_public_key"`
	OwnPrivateKey   []byte            `json:"own_private_key"`
	TheirPublicKey  []byte            `json:"their_public_key"`
	IntegrationData map[string]string `json:"integration_data,omitempty"`
}

// ChildUser is the single-message delegation: the owner registers a
// dependent identity with pre-wrapped keys.
type ChildUser struct {
	Login string `json:"login"`
	// KEKWrappedByParent is the child KEK wrapped by the parent's KEK.
	KEKWrappedByParent []byte `json:"kek_wrapped_by_parent"`
	// DEKWrappedByKEK is the child DEK wrapped by the child KEK.
	DEKWrappedByKEK []byte `json:"dek_wrapped_by_kek"`
	DEKID           string `json:"dek_id,omitempty"`
}
