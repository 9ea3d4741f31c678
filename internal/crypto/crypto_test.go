package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBytes(t *testing.T, n int) []byte {
	b, err := RandomBytes(n)
	require.NoError(t, err)
	return b
}

func TestAEADRoundTrip(t *testing.T) {
	s := New()
	key := randBytes(t, KeySize)
	pt := randBytes(t, 4096)

	ct, err := s.AEADEncrypt(key, pt)
	require.NoError(t, err)
	out, err := s.AEADDecrypt(key, ct)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pt, out), "plaintext mismatch")
}

func TestAEADTamper(t *testing.T) {
	s := New()
	key := randBytes(t, KeySize)
	ct, err := s.AEADEncrypt(key, []byte("hello"))
	require.NoError(t, err)

	for _, i := range []int{0, len(ct) / 2, len(ct) - 1} {
		mut := append([]byte(nil), ct...)
		mut[i] ^= 0x01
		_, err := s.AEADDecrypt(key, mut)
		assert.ErrorIs(t, err, ErrAuthFailure, "bit flip at %d", i)
	}
}

func TestAEADWrongKey(t *testing.T) {
	s := New()
	ct, err := s.AEADEncrypt(randBytes(t, KeySize), []byte("secret-data"))
	require.NoError(t, err)
	_, err = s.AEADDecrypt(randBytes(t, KeySize), ct)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestAEADRejectsShortKeyAndCiphertext(t *testing.T) {
	s := New()
	_, err := s.AEADEncrypt([]byte("short"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.AEADDecrypt(randBytes(t, KeySize), []byte("tiny"))
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	s := New()
	a := s.DeriveKey([]byte("pass"), []byte("salt"), 1000)
	b := s.DeriveKey([]byte("pass"), []byte("salt"), 1000)
	c := s.DeriveKey([]byte("pass"), []byte("tlas"), 1000)
	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHMACSHA256(t *testing.T) {
	s := New()
	key := []byte("k")
	assert.Equal(t, s.HMACSHA256(key, []byte("x")), s.HMACSHA256(key, []byte("x")))
	assert.NotEqual(t, s.HMACSHA256(key, []byte("x")), s.HMACSHA256(key, []byte("y")))
}

func TestRSAEncryptSignRoundTrip(t *testing.T) {
	s := New()
	pub, priv, err := s.GenerateKeyPair()
	require.NoError(t, err)

	msg := randBytes(t, KeySize)
	ct, err := s.RSAEncrypt(pub, msg)
	require.NoError(t, err)
	pt, err := s.RSADecrypt(priv, ct)
	require.NoError(t, err)
	assert.Equal(t, msg, pt)

	sig, err := s.RSASign(priv, []byte("token"))
	require.NoError(t, err)
	require.NoError(t, s.RSAVerify(pub, []byte("token"), sig))
	assert.ErrorIs(t, s.RSAVerify(pub, []byte("other"), sig), ErrInvalidSignature)
}

func TestRSARejectsGarbageKeys(t *testing.T) {
	s := New()
	_, err := s.RSAEncrypt([]byte("nope"), []byte("m"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.RSADecrypt([]byte("nope"), []byte("m"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPublicKeyPEM(t *testing.T) {
	s := New()
	pub, _, err := s.GenerateKeyPair()
	require.NoError(t, err)

	der, err := DecodePublicKeyPEM(EncodePublicKeyPEM(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, der)

	_, err = DecodePublicKeyPEM([]byte("-----BEGIN NOTHING-----"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
