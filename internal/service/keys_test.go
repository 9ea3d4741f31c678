package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/repository"
)

func newKeyService(t *testing.T) (*KeyService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateUser(context.Background(), models.User{Login: "alice"}))
	return NewKeyService(store, nil), store
}

func TestKeyService_KEKStoredOnce(t *testing.T) {
	svc, _ := newKeyService(t)
	ctx := context.Background()

	_, err := svc.GetKEK(ctx, "alice")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)

	rec, err := svc.CreateKEK(ctx, "alice", []byte("wrapped-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	_, err = svc.CreateKEK(ctx, "alice", []byte("wrapped-2"))
	assert.ErrorIs(t, err, apierrors.ErrConflict)

	got, err := svc.GetKEK(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped-1"), got.Wrapped)

	_, err = svc.CreateKEK(ctx, "alice", nil)
	assert.ErrorIs(t, err, apierrors.ErrInvalidRequest)
}

func TestKeyService_ProfileDEK(t *testing.T) {
	svc, _ := newKeyService(t)
	ctx := context.Background()

	_, err := svc.CreateDEK(ctx, "alice", nil)
	assert.ErrorIs(t, err, apierrors.ErrInvalidRequest)

	rec, err := svc.CreateDEK(ctx, "alice", []byte("dek"))
	require.NoError(t, err)

	u, err := svc.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, u.DEKID)

	_, err = svc.CreateDEK(ctx, "alice", []byte("second"))
	assert.ErrorIs(t, err, apierrors.ErrConflict)

	u, err = svc.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, u.DEKID)
}

func TestKeyService_DEKOfAnotherOwner(t *testing.T) {
	svc, store := newKeyService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, models.User{Login: "mallory"}))

	rec, err := svc.CreateDEK(ctx, "alice", []byte("dek"))
	require.NoError(t, err)

	_, err = svc.GetDEK(ctx, "mallory", rec.ID)
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestKeyService_Artifacts(t *testing.T) {
	svc, _ := newKeyService(t)
	ctx := context.Background()

	err := svc.CreateArtifacts(ctx, "alice", models.MasterKeyArtifacts{})
	assert.ErrorIs(t, err, apierrors.ErrInvalidRequest)

	a := models.MasterKeyArtifacts{
		Derivation:   models.DerivationArtifact{Salt: []byte("s"), Iterations: 10},
		Verification: models.VerificationArtifact{Token: []byte("t"), EncryptedTokenAndSalt: []byte("c")},
	}
	svc.MinIterations = 100
	assert.ErrorIs(t, svc.CreateArtifacts(ctx, "alice", a), apierrors.ErrInvalidRequest)

	svc.MinIterations = 10
	require.NoError(t, svc.CreateArtifacts(ctx, "alice", a))
	assert.ErrorIs(t, svc.CreateArtifacts(ctx, "alice", a), apierrors.ErrConflict)

	got, err := svc.GetArtifacts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a, *got)
}

func TestKeyService_ChildUser(t *testing.T) {
	svc, store := newKeyService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, models.User{Login: "mallory"}))

	child, err := svc.CreateChildUser(ctx, "alice", models.ChildUser{
		Login:              "kid",
		KEKWrappedByParent: []byte("kek"),
		DEKWrappedByKEK:    []byte("dek"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, child.DEKID)

	got, err := svc.GetChildUser(ctx, "alice", "kid")
	require.NoError(t, err)
	assert.Equal(t, *child, *got)

	_, err = svc.GetChildUser(ctx, "mallory", "kid")
	assert.ErrorIs(t, err, apierrors.ErrForbidden)

	_, err = svc.CreateChildUser(ctx, "alice", models.ChildUser{Login: "kid2"})
	assert.ErrorIs(t, err, apierrors.ErrInvalidRequest)
}
