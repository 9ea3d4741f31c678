package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti, err := NewTokenIssuer([]byte("k"), "keystore", time.Minute)
	require.NoError(t, err)

	tok, exp, err := ti.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	sub, err := ti.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	ti, err := NewTokenIssuer([]byte("k"), "keystore", time.Minute)
	require.NoError(t, err)
	tok, _, err := ti.Issue("alice")
	require.NoError(t, err)

	other, err := NewTokenIssuer([]byte("other"), "keystore", time.Minute)
	require.NoError(t, err)
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	foreign, err := NewTokenIssuer([]byte("k"), "elsewhere", time.Minute)
	require.NoError(t, err)
	_, err = foreign.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	ti.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = ti.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = ti.Parse("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuer_EmptySecret(t *testing.T) {
	_, err := NewTokenIssuer(nil, "keystore", time.Minute)
	assert.Error(t, err)
}
