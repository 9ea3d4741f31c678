package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned when an RSA-PSS signature does not verify.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// GenerateKeyPair creates an RSA keypair and returns it as PKIX / PKCS#8 DER.
func (s *Suite) GenerateKeyPair() ([]byte, []byte, error) {
	bits := s.RSABits
	if bits == 0 {
		bits = DefaultRSABits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("gen key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pub key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal priv key: %w", err)
	}
	return pubDER, privDER, nil
}

// RSAEncrypt encrypts msg with RSA-OAEP-SHA256.
func (s *Suite) RSAEncrypt(publicKey, msg []byte) ([]byte, error) {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, msg, nil)
}

// RSADecrypt decrypts an RSA-OAEP-SHA256 ciphertext.
func (s *Suite) RSADecrypt(privateKey, ciphertext []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return pt, nil
}

// RSASign signs SHA-256(msg) with RSA-PSS.
func (s *Suite) RSASign(privateKey, msg []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(msg)
	return rsa.SignPSS(rand.Reader, priv, stdcrypto.SHA256, digest[:], nil)
}

// RSAVerify checks an RSA-PSS signature over SHA-256(msg).
func (s *Suite) RSAVerify(publicKey, msg, signature []byte) error {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(msg)
	if err := rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], signature, nil); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrInvalidKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrInvalidKey, key)
	}
	return pub, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrInvalidKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", ErrInvalidKey, key)
	}
	return priv, nil
}

// EncodePublicKeyPEM wraps a PKIX DER public key in a "PUBLIC KEY" PEM block.
func EncodePublicKeyPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// DecodePublicKeyPEM extracts the DER bytes of a "PUBLIC KEY" PEM block.
func DecodePublicKeyPEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: invalid public key PEM", ErrInvalidKey)
	}
	if _, err := parsePublicKey(block.Bytes); err != nil {
		return nil, err
	}
	return block.Bytes, nil
}
