package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	xchacha "golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// AEADEncrypt seals plaintext with XChaCha20-Poly1305. The output layout is
// nonce||ciphertext||tag.
func (s *Suite) AEADEncrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: aead key must be %d bytes", ErrInvalidKey, KeySize)
	}
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX, xchacha.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// AEADDecrypt opens a ciphertext produced by AEADEncrypt. Any
// authentication failure is reported as ErrAuthFailure.
func (s *Suite) AEADDecrypt(key, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: aead key must be %d bytes", ErrInvalidKey, KeySize)
	}
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < xchacha.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthFailure)
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	pt, err := aead.Open(nil, nonce, ciphertext[xchacha.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return pt, nil
}

// HMACSHA256 returns HMAC-SHA256(key, data).
func (s *Suite) HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// DeriveKey stretches a passphrase with PBKDF2-SHA256 into a KeySize key.
func (s *Suite) DeriveKey(passphrase, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(passphrase, salt, iterations, KeySize, sha256.New)
}
