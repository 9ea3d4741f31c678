// Package models defines the records exchanged between the key-management
// core and the keystore: identities, wrapped keys, delegations and shares.
//
// Byte slices carry ciphertext, wrapped keys or DER-encoded public keys;
// they are base64-encoded on the wire by encoding/json.
package models

import (
	"time"

	"github.com/atinyakov/keyvault/internal/secret"
)

// User is a registered identity as stored by the keystore.
type User struct {
	// Login is the identity handle.
	Login string `json:"login"`
	// Salt is the SRP salt chosen at registration.
	Salt []byte `json:"salt,omitempty"`
	// Verifier is the SRP verifier; the password never reaches the keystore.
	Verifier []byte `json:"-"`
	// DEKID references the identity's current wrapped DEK, empty until
	// the first bootstrap.
	DEKID string `json:"dek_id,omitempty"`
	// Parent is set for dependent identities created by another identity.
	Parent string `json:"parent,omitempty"`
	// CreatedAt is when the identity was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Challenge is the keystore state kept between the second and third SRP
// messages.
type Challenge struct {
	ID           string
	Login        string
	ClientPublic []byte
	ServerPublic []byte
	ServerSecret []byte
	CreatedAt    time.Time
}

// Session is the credential returned by a successful login, together with
// the secret it was derived from. The secret is never serialized.
type Session struct {
	Token     string        `json:"token"`
	Identity  string        `json:"identity"`
	ExpiresAt time.Time     `json:"expires_at"`
	Secret    secret.Secret `json:"-"`
}

// KeyRecord is a wrapped symmetric key (KEK or DEK) as persisted by the
// keystore. Wrapped is always ciphertext.
type KeyRecord struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Wrapped   []byte    `json:"wrapped"`
	CreatedAt time.Time `json:"created_at"`
}

// DerivationArtifact holds the public inputs of a master-key derivation.
type DerivationArtifact struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
}

// VerificationArtifact lets a client detect a wrong passphrase before
// trusting a freshly derived master key.
type VerificationArtifact struct {
	Token                 []byte `json:"token"`
	EncryptedTokenAndSalt []byte `json:"encrypted_token_and_salt"`
}

// MasterKeyArtifacts bundles what the keystore stores for the
// passphrase-only derivation.
type MasterKeyArtifacts struct {
	Derivation   DerivationArtifact   `json:"derivation"`
	Verification VerificationArtifact `json:"verification"`
}
