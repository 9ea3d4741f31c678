package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
)

func TestMemoryStore_UserAndChallenges(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.CreateUser(ctx, models.User{Login: "alice"}))
	assert.ErrorIs(t, m.CreateUser(ctx, models.User{Login: "alice"}), apierrors.ErrConflict)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, m.SaveChallenge(ctx, models.Challenge{ID: "old", CreatedAt: old}))
	require.NoError(t, m.SaveChallenge(ctx, models.Challenge{ID: "new", CreatedAt: time.Now()}))

	assert.Equal(t, 1, m.PurgeExpired(time.Now().Add(-time.Minute), time.Now().Add(-time.Minute)))

	c, err := m.TakeChallenge(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", c.ID)

	_, err = m.TakeChallenge(ctx, "new")
	assert.ErrorIs(t, err, apierrors.ErrNotFound, "a challenge is single use")
}

func TestMemoryStore_KEKNeverReplaced(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.CreateKEK(ctx, models.KeyRecord{ID: "k1", Owner: "alice", Wrapped: []byte("first")}))
	assert.ErrorIs(t, m.CreateKEK(ctx, models.KeyRecord{ID: "k2", Owner: "alice", Wrapped: []byte("second")}), apierrors.ErrConflict)

	rec, err := m.GetKEK(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), rec.Wrapped)
}

func TestMemoryStore_DEKScopedToOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.CreateUser(ctx, models.User{Login: "alice"}))
	require.NoError(t, m.CreateProfileDEK(ctx, models.KeyRecord{ID: "d1", Owner: "alice"}))
	_, err := m.GetDEK(ctx, "bob", "d1")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestMemoryStore_ProfileDEKSetOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	assert.ErrorIs(t, m.CreateProfileDEK(ctx, models.KeyRecord{ID: "d0", Owner: "ghost"}), apierrors.ErrNotFound)

	require.NoError(t, m.CreateUser(ctx, models.User{Login: "alice"}))
	require.NoError(t, m.CreateProfileDEK(ctx, models.KeyRecord{ID: "d1", Owner: "alice"}))
	assert.ErrorIs(t, m.CreateProfileDEK(ctx, models.KeyRecord{ID: "d2", Owner: "alice"}), apierrors.ErrConflict)

	u, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "d1", u.DEKID)
	_, err = m.GetDEK(ctx, "alice", "d2")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestMemoryStore_UpdateDelegationCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	d := models.Delegation{Token: "tok", Status: models.DelegationOpened}
	require.NoError(t, m.CreateDelegation(ctx, d))

	d.Status = models.DelegationClaimed
	require.NoError(t, m.UpdateDelegation(ctx, d, models.DelegationOpened))
	assert.ErrorIs(t, m.UpdateDelegation(ctx, d, models.DelegationOpened), apierrors.ErrConflict)
	assert.ErrorIs(t, m.UpdateDelegation(ctx, models.Delegation{Token: "nope"}, models.DelegationOpened), apierrors.ErrNotFound)
}

func TestMemoryStore_PurgeKeepsClaimedDelegations(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, m.CreateDelegation(ctx, models.Delegation{Token: "stale", Status: models.DelegationOpened, CreatedAt: old}))
	require.NoError(t, m.CreateDelegation(ctx, models.Delegation{Token: "busy", Status: models.DelegationClaimed, CreatedAt: old}))

	assert.Equal(t, 1, m.PurgeExpired(time.Now(), time.Now().Add(-24*time.Hour)))
	_, err := m.GetDelegation(ctx, "busy")
	assert.NoError(t, err)
	_, err = m.GetDelegation(ctx, "stale")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestMemoryStore_ChildUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	child := models.ChildUser{Login: "kid", KEKWrappedByParent: []byte("kek"), DEKWrappedByKEK: []byte("dek"), DEKID: "d9"}
	require.NoError(t, m.CreateChildUser(ctx, "alice", child))
	assert.ErrorIs(t, m.CreateChildUser(ctx, "alice", child), apierrors.ErrConflict)

	u, err := m.GetUser(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Parent)

	dek, err := m.GetDEK(ctx, "kid", "d9")
	require.NoError(t, err)
	assert.Equal(t, []byte("dek"), dek.Wrapped)
}

func TestMemoryStore_SharesSortedByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, id := range []string{"s3", "s1", "s2"} {
		require.NoError(t, m.UpsertShare(ctx, models.Share{ID: id, ItemID: "item", Owner: "alice", Recipient: "bob"}))
	}
	shares, err := m.ListSharesByItem(ctx, "alice", "item")
	require.NoError(t, err)
	require.Len(t, shares, 3)
	assert.Equal(t, "s1", shares[0].ID)

	incoming, err := m.ListIncomingShares(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, incoming)
}
