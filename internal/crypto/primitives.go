// Package crypto provides the cryptographic primitives consumed by the
// key-management core: AEAD, RSA, HMAC, password stretching and SRP-6a.
// The core depends on the Primitives interface only, so the concrete suite
// can be swapped in tests or by embedding applications.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// KeySize is the size in bytes of every symmetric key (PDK, MEK, KEK, DEK,
// share DEK, verification key).
const KeySize = 32

// DefaultIterations is the PBKDF2 work factor used when none is configured.
const DefaultIterations = 210_000

// DefaultRSABits is the modulus size of generated connection keypairs.
const DefaultRSABits = 2048

var (
	// ErrAuthFailure is returned when an AEAD ciphertext fails authentication.
	// A failed-auth plaintext is never returned.
	ErrAuthFailure = errors.New("crypto: message authentication failed")

	// ErrInvalidKey is returned for malformed or wrongly sized keys.
	ErrInvalidKey = errors.New("crypto: invalid key")
)

// Primitives is the capability set the core consumes. Public keys are
// PKIX DER, private keys are PKCS#8 DER.
type Primitives interface {
	AEADEncrypt(key, plaintext []byte) ([]byte, error)
	AEADDecrypt(key, ciphertext []byte) ([]byte, error)

	RSAEncrypt(publicKey, msg []byte) ([]byte, error)
	RSADecrypt(privateKey, ciphertext []byte) ([]byte, error)
	RSASign(privateKey, msg []byte) ([]byte, error)
	RSAVerify(publicKey, msg, signature []byte) error
	GenerateKeyPair() (publicKey, privateKey []byte, err error)

	HMACSHA256(key, data []byte) []byte
	DeriveKey(passphrase, salt []byte, iterations int) []byte
	RandomKey() ([]byte, error)

	SRPVerifier(identity string, password, salt []byte) []byte
	NewSRPClient(identity string, password []byte) (*SRPClient, error)
}

// Suite is the default Primitives implementation.
type Suite struct {
	// RSABits is the modulus size for GenerateKeyPair.
	RSABits int
	// Group is the SRP group; RFC 5054 2048-bit when nil.
	Group *SRPGroup
}

var _ Primitives = (*Suite)(nil)

// New returns a Suite with default parameters.
func New() *Suite {
	return &Suite{RSABits: DefaultRSABits, Group: RFC5054Group2048()}
}

// RandomKey returns KeySize bytes from crypto/rand.
func (s *Suite) RandomKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

func (s *Suite) group() *SRPGroup {
	if s.Group == nil {
		return RFC5054Group2048()
	}
	return s.Group
}

// SRPVerifier computes v = g^x for the given identity, password and salt.
func (s *Suite) SRPVerifier(identity string, password, salt []byte) []byte {
	return s.group().Verifier(identity, password, salt)
}

// NewSRPClient starts the client half of an SRP-6a exchange.
func (s *Suite) NewSRPClient(identity string, password []byte) (*SRPClient, error) {
	return s.group().NewClient(identity, password)
}

// Zero overwrites a byte slice in memory with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
