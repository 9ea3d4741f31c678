package delegation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/client/keys"
	"github.com/atinyakov/keyvault/internal/models"
)

func TestCreateChildUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	k, err := f.proto.CreateChildUser(ctx, f.alice, f.aliceKEK, "alice-kid")
	require.NoError(t, err)
	assert.NotEmpty(t, k.DEKID)

	user, err := f.store.GetUser(ctx, "alice-kid")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Parent)
	assert.Equal(t, k.DEKID, user.DEKID)

	got, err := f.proto.ChildKeys(ctx, f.alice, f.aliceKEK, "alice-kid")
	require.NoError(t, err)
	assert.Equal(t, k.KEK, got.KEK)
	assert.Equal(t, k.DEK, got.DEK)
	assert.Equal(t, k.DEKID, got.DEKID)
}

func TestCreateChildUser_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.proto.CreateChildUser(ctx, f.alice, f.aliceKEK, "kid")
	require.NoError(t, err)
	_, err = f.proto.CreateChildUser(ctx, f.alice, f.aliceKEK, "kid")
	assert.ErrorIs(t, err, apierrors.ErrConflict)
}

func TestChildKeys_OnlyParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.proto.CreateChildUser(ctx, f.alice, f.aliceKEK, "kid")
	require.NoError(t, err)

	_, err = f.proto.ChildKeys(ctx, &models.Session{Identity: "bob"}, f.bobKEK, "kid")
	assert.ErrorIs(t, err, apierrors.ErrForbidden)

	_, err = f.proto.ChildKeys(ctx, f.alice, f.bobKEK, "kid")
	assert.ErrorIs(t, err, keys.ErrVerificationFailed)
}
