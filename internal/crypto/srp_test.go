package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func srpExchange(t *testing.T, g *SRPGroup, regPassword, loginPassword []byte) ([]byte, *SRPClient, error) {
	t.Helper()
	salt := randBytes(t, 16)
	verifier := g.Verifier("alice", regPassword, salt)

	client, err := g.NewClient("alice", loginPassword)
	require.NoError(t, err)
	ch, err := g.NewChallenge(verifier)
	require.NoError(t, err)

	proof, err := client.Proof(salt, ch.Public)
	require.NoError(t, err)
	m2, err := g.VerifyClient("alice", salt, verifier, client.Public(), ch, proof)
	return m2, client, err
}

func TestSRPHandshake(t *testing.T) {
	g := RFC5054Group2048()
	m2, client, err := srpExchange(t, g, []byte("correct horse"), []byte("correct horse"))
	require.NoError(t, err)
	assert.NoError(t, client.VerifyServer(m2))
}

func TestSRPWrongPassword(t *testing.T) {
	g := RFC5054Group2048()
	_, _, err := srpExchange(t, g, []byte("correct horse"), []byte("battery staple"))
	assert.ErrorIs(t, err, ErrSRPBadProof)
}

func TestSRPIdentityCaseInsensitive(t *testing.T) {
	g := RFC5054Group2048()
	salt := randBytes(t, 16)
	assert.Equal(t, g.Verifier("Alice", []byte("pw"), salt), g.Verifier("alice", []byte("pw"), salt))
}

func TestSRPRejectsZeroPublic(t *testing.T) {
	g := RFC5054Group2048()
	client, err := g.NewClient("alice", []byte("pw"))
	require.NoError(t, err)

	_, err = client.Proof([]byte("salt"), g.N.Bytes())
	assert.ErrorIs(t, err, ErrSRPBadPublic)
	assert.ErrorIs(t, g.ValidatePublic([]byte{0}), ErrSRPBadPublic)
}

func TestSRPVerifyServerBeforeProof(t *testing.T) {
	g := RFC5054Group2048()
	client, err := g.NewClient("alice", []byte("pw"))
	require.NoError(t, err)
	assert.Error(t, client.VerifyServer([]byte("m2")))
}

func TestSRPTamperedServerProof(t *testing.T) {
	g := RFC5054Group2048()
	m2, client, err := srpExchange(t, g, []byte("pw"), []byte("pw"))
	require.NoError(t, err)
	m2[0] ^= 0xFF
	assert.ErrorIs(t, client.VerifyServer(m2), ErrSRPBadProof)
}
