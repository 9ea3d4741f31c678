// Package sharing shares item values with other identities. Every
// (item, recipient) pair gets its own random share DEK, RSA-encrypted to
// the recipient's connection key. Values the sharer owns carry an HMAC
// verification hash; values passed on from another share lose theirs
// once they travel under a different share DEK.
package sharing

import (
	"crypto/hmac"
	"errors"
	"fmt"

	"github.com/atinyakov/keyvault/internal/client/connection"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

var (
	// ErrTamperDetected is returned when a shared value fails
	// authentication or its verification hash. The value is withheld.
	ErrTamperDetected = errors.New("tamper detected")
	// ErrRecipientKey is returned when a share was encrypted to a key
	// other than the receiving connection's.
	ErrRecipientKey = errors.New("share addressed to another key")
)

// Origin says where a value to be shared came from: Owned or Received.
type Origin interface {
	origin()
}

// Owned marks a value created by the sharing identity.
type Owned struct{}

// Received marks a value that arrived through another share.
type Received struct {
	// SourceShareID is the share the value was received through.
	SourceShareID string
	// VerificationKey and Hash are the verification material that came
	// with the value. Hash is nil when the value was not verifiable.
	VerificationKey []byte
	Hash            []byte
}

func (Owned) origin()    {}
func (Received) origin() {}

// Slot is one named plaintext value of an item.
type Slot struct {
	Name   string
	Value  []byte
	Origin Origin
}

// Value is a decrypted slot.
type Value struct {
	Name      string
	Plaintext []byte
	// Verified is true when the value matched its verification hash, and
	// false when the hash was nulled on an earlier hop.
	Verified bool
	// Origin is the verification material to use when passing the value
	// on to another identity.
	Origin Received
}

// Slot turns a received value back into a slot for on-sharing.
func (v Value) Slot() Slot {
	return Slot{Name: v.Name, Value: v.Plaintext, Origin: v.Origin}
}

// Entry is a single value shared to a connection.
type Entry struct {
	EncryptedDEK []byte
	Slot         models.ShareSlot
}

// ShareValue encrypts one value for the other side of conn under a fresh
// share DEK.
func (s *Sharer) ShareValue(conn *models.Connection, value []byte, origin Origin) (*Entry, error) {
	dek, encDEK, err := s.newShareDEK(conn)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(dek)

	slot, err := s.seal(dek, "", Slot{Value: value, Origin: origin})
	if err != nil {
		return nil, err
	}
	return &Entry{EncryptedDEK: encDEK, Slot: *slot}, nil
}

func (s *Sharer) newShareDEK(conn *models.Connection) ([]byte, []byte, error) {
	if conn == nil || len(conn.TheirPublicKey) == 0 {
		return nil, nil, fmt.Errorf("%w: no recipient key", connection.ErrNotEstablished)
	}
	dek, err := s.crypto.RandomKey()
	if err != nil {
		return nil, nil, err
	}
	encDEK, err := s.crypto.RSAEncrypt(conn.TheirPublicKey, dek)
	if err != nil {
		crypto.Zero(dek)
		return nil, nil, fmt.Errorf("encrypt share dek: %w", err)
	}
	return dek, encDEK, nil
}

// seal encrypts a slot under the share DEK of shareID. A received value
// keeps its hash only when it goes back into the share it came from.
func (s *Sharer) seal(dek []byte, shareID string, in Slot) (*models.ShareSlot, error) {
	var key, hash []byte
	var source string
	switch o := in.Origin.(type) {
	case Owned, nil:
		k, err := s.crypto.RandomKey()
		if err != nil {
			return nil, err
		}
		defer crypto.Zero(k)
		key = k
		hash = s.crypto.HMACSHA256(k, in.Value)
	case Received:
		key = o.VerificationKey
		source = o.SourceShareID
		if shareID != "" && o.SourceShareID == shareID {
			hash = o.Hash
		}
	default:
		return nil, fmt.Errorf("unknown origin %T", in.Origin)
	}

	encValue, err := s.crypto.AEADEncrypt(dek, in.Value)
	if err != nil {
		return nil, err
	}
	out := &models.ShareSlot{
		Name:             in.Name,
		EncryptedValue:   encValue,
		VerificationHash: hash,
		SourceShareID:    source,
	}
	if len(key) > 0 {
		if out.EncryptedVerificationKey, err = s.crypto.AEADEncrypt(dek, key); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Verify decrypts a slot with the share DEK and checks its verification
// hash. Any failure is ErrTamperDetected and no plaintext is returned.
func (s *Sharer) Verify(shareDEK []byte, slot models.ShareSlot) (*Value, error) {
	value, err := s.crypto.AEADDecrypt(shareDEK, slot.EncryptedValue)
	if err != nil {
		return nil, fmt.Errorf("%w: slot %q value: %w", ErrTamperDetected, slot.Name, err)
	}

	var key []byte
	if len(slot.EncryptedVerificationKey) > 0 {
		key, err = s.crypto.AEADDecrypt(shareDEK, slot.EncryptedVerificationKey)
		if err != nil {
			crypto.Zero(value)
			return nil, fmt.Errorf("%w: slot %q verification key: %w", ErrTamperDetected, slot.Name, err)
		}
	}

	if slot.VerificationHash != nil {
		if key == nil || !hmac.Equal(s.crypto.HMACSHA256(key, value), slot.VerificationHash) {
			crypto.Zero(value)
			return nil, fmt.Errorf("%w: slot %q hash mismatch", ErrTamperDetected, slot.Name)
		}
	}

	return &Value{
		Name:      slot.Name,
		Plaintext: value,
		Verified:  slot.VerificationHash != nil,
		Origin: Received{
			VerificationKey: key,
			Hash:            slot.VerificationHash,
		},
	}, nil
}

// OpenDEK recovers a share DEK with the receiving side of conn.
func (s *Sharer) OpenDEK(conn *models.Connection, kek, encryptedDEK []byte) ([]byte, error) {
	priv, err := connection.PrivateKey(s.crypto, conn, kek)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(priv)
	dek, err := s.crypto.RSADecrypt(priv, encryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: share dek: %w", ErrTamperDetected, err)
	}
	return dek, nil
}
