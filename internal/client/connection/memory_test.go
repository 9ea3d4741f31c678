package connection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

var (
	suiteOnce sync.Once
	suite     *crypto.Suite
)

// testSuite uses small RSA keys so the tests stay fast.
func testSuite() *crypto.Suite {
	suiteOnce.Do(func() {
		suite = crypto.New()
		suite.RSABits = 1024
	})
	return suite
}

func kek(t *testing.T) []byte {
	t.Helper()
	k, err := testSuite().RandomKey()
	require.NoError(t, err)
	return k
}

func TestEstablish_Idempotent(t *testing.T) {
	m := NewMemory(testSuite(), nil)
	k := kek(t)

	c1, err := m.Establish(context.Background(), "alice", k, "bob")
	require.NoError(t, err)
	c2, err := m.Establish(context.Background(), "alice", k, "bob")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, c1.OwnPublicKey, c2.OwnPublicKey)
	assert.Empty(t, c1.TheirPublicKey)
	assert.Equal(t, "memory", c1.IntegrationData["provider"])
}

func TestEstablish_InvalidParties(t *testing.T) {
	m := NewMemory(testSuite(), nil)
	_, err := m.Establish(context.Background(), "alice", kek(t), "alice")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	m := NewMemory(testSuite(), nil)
	aliceKEK, bobKEK := kek(t), kek(t)

	_, err := m.Resolve(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, ErrNotEstablished)

	a, err := m.Establish(context.Background(), "alice", aliceKEK, "bob")
	require.NoError(t, err)
	_, err = m.Resolve(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, ErrNotEstablished)

	b, err := m.Establish(context.Background(), "bob", bobKEK, "alice")
	require.NoError(t, err)

	ra, err := m.Resolve(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, b.OwnPublicKey, ra.TheirPublicKey)
	assert.Equal(t, a.OwnPublicKey, b.TheirPublicKey)
}

func TestPrivateKey_RoundTrip(t *testing.T) {
	s := testSuite()
	m := NewMemory(s, nil)
	k := kek(t)
	c, err := m.Establish(context.Background(), "alice", k, "bob")
	require.NoError(t, err)

	priv, err := PrivateKey(s, c, k)
	require.NoError(t, err)
	sig, err := s.RSASign(priv, []byte("token"))
	require.NoError(t, err)
	assert.NoError(t, s.RSAVerify(c.OwnPublicKey, []byte("token"), sig))

	_, err = PrivateKey(s, c, kek(t))
	assert.ErrorIs(t, err, crypto.ErrAuthFailure)

	_, err = PrivateKey(s, &models.Connection{}, k)
	assert.ErrorIs(t, err, ErrNotEstablished)
}

func TestInviteAccept(t *testing.T) {
	m := NewMemory(testSuite(), nil)
	ctx := context.Background()
	inv := models.DelegationInvitation{Token: "t1", Role: "admin", Owner: "alice"}

	err := m.Invite(ctx, "alice", "bob", inv)
	assert.ErrorIs(t, err, ErrNotEstablished)

	_, err = m.Establish(ctx, "alice", kek(t), "bob")
	require.NoError(t, err)
	require.NoError(t, m.Invite(ctx, "alice", "bob", inv))

	_, _, err = m.Accept(ctx, "carol", kek(t), "alice")
	assert.ErrorIs(t, err, ErrNoInvitation)

	conn, got, err := m.Accept(ctx, "bob", kek(t), "alice")
	require.NoError(t, err)
	assert.Equal(t, inv, *got)
	assert.Equal(t, "bob", conn.Own)
	assert.NotEmpty(t, conn.TheirPublicKey)

	_, _, err = m.Accept(ctx, "bob", kek(t), "alice")
	assert.ErrorIs(t, err, ErrNoInvitation)
}

func TestSnapshotRestore(t *testing.T) {
	s := testSuite()
	m := NewMemory(s, nil)
	ctx := context.Background()
	aliceKEK := kek(t)

	a, err := m.Establish(ctx, "alice", aliceKEK, "bob")
	require.NoError(t, err)
	_, err = m.Establish(ctx, "bob", kek(t), "alice")
	require.NoError(t, err)
	require.NoError(t, m.Invite(ctx, "alice", "bob", models.DelegationInvitation{Token: "t"}))

	restored := NewMemory(s, nil)
	restored.Restore(m.Snapshot())

	ra, err := restored.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, a.ID, ra.ID)
	_, err = PrivateKey(s, ra, aliceKEK)
	assert.NoError(t, err)

	_, inv, err := restored.Accept(ctx, "bob", kek(t), "alice")
	require.NoError(t, err)
	assert.Equal(t, "t", inv.Token)
}
