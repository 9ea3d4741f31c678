package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/secret"
)

// fakeBackend keeps one identity's records in memory.
type fakeBackend struct {
	mu        sync.Mutex
	kek       *models.KeyRecord
	deks      map[string]models.KeyRecord
	dekID     string
	artifacts *models.MasterKeyArtifacts
	seq       int

	putKEKCalls int
	// racingKEK is stored just before PutKEK answers with a conflict.
	racingKEK []byte
	// dropDEKResponses makes CreateDEK store the DEK and then fail, as if
	// the response never reached the client.
	dropDEKResponses int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{deks: make(map[string]models.KeyRecord)}
}

func (f *fakeBackend) Profile(_ context.Context, s *models.Session) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.User{Login: s.Identity, DEKID: f.dekID}, nil
}

func (f *fakeBackend) GetKEK(context.Context, *models.Session) (*models.KeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kek == nil {
		return nil, apierrors.ErrNotFound
	}
	rec := *f.kek
	return &rec, nil
}

func (f *fakeBackend) PutKEK(_ context.Context, s *models.Session, wrapped []byte) (*models.KeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putKEKCalls++
	if f.racingKEK != nil {
		f.kek = &models.KeyRecord{ID: "racer", Owner: s.Identity, Wrapped: f.racingKEK}
		f.racingKEK = nil
	}
	if f.kek != nil {
		return nil, apierrors.ErrConflict
	}
	f.kek = &models.KeyRecord{ID: "kek", Owner: s.Identity, Wrapped: wrapped}
	rec := *f.kek
	return &rec, nil
}

func (f *fakeBackend) GetDEK(_ context.Context, _ *models.Session, id string) (*models.KeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.deks[id]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeBackend) CreateDEK(_ context.Context, s *models.Session, wrapped []byte) (*models.KeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dekID != "" {
		return nil, apierrors.ErrConflict
	}
	f.seq++
	rec := models.KeyRecord{ID: fmt.Sprintf("dek-%d", f.seq), Owner: s.Identity, Wrapped: wrapped}
	f.deks[rec.ID] = rec
	f.dekID = rec.ID
	if f.dropDEKResponses > 0 {
		f.dropDEKResponses--
		return nil, &apierrors.NetworkError{Err: errors.New("connection reset by peer")}
	}
	return &rec, nil
}

func (f *fakeBackend) GetMasterArtifacts(context.Context, *models.Session) (*models.MasterKeyArtifacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artifacts == nil {
		return nil, apierrors.ErrNotFound
	}
	a := *f.artifacts
	return &a, nil
}

func (f *fakeBackend) PutMasterArtifacts(_ context.Context, _ *models.Session, a models.MasterKeyArtifacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artifacts != nil {
		return apierrors.ErrConflict
	}
	f.artifacts = &a
	return nil
}

func testSession(t *testing.T) *models.Session {
	t.Helper()
	sec, err := secret.Parse("1.alice.ABCDEF-GHIJKL")
	require.NoError(t, err)
	return &models.Session{Token: "tok", Identity: "alice", Secret: sec}
}

func newTestHierarchy(b Backend) *Hierarchy {
	return New(b, crypto.New(), WithIterations(1000))
}

func TestBootstrap_Idempotent(t *testing.T) {
	b := newFakeBackend()
	h := newTestHierarchy(b)
	s := testSession(t)

	k1, err := h.Bootstrap(context.Background(), s, "correct horse")
	require.NoError(t, err)
	k2, err := h.Bootstrap(context.Background(), s, "correct horse")
	require.NoError(t, err)

	assert.Len(t, k1.KEK, crypto.KeySize)
	assert.Len(t, k1.DEK, crypto.KeySize)
	assert.Equal(t, k1.KEK, k2.KEK)
	assert.Equal(t, k1.DEK, k2.DEK)
	assert.Equal(t, k1.DEKID, k2.DEKID)
	assert.Equal(t, 1, b.putKEKCalls)
	assert.Len(t, b.deks, 1)
}

func TestBootstrap_StoresOnlyWrappedKeys(t *testing.T) {
	b := newFakeBackend()
	h := newTestHierarchy(b)
	keys, err := h.Bootstrap(context.Background(), testSession(t), "pw")
	require.NoError(t, err)

	assert.NotContains(t, string(b.kek.Wrapped), string(keys.KEK))
	assert.NotContains(t, string(b.deks[keys.DEKID].Wrapped), string(keys.DEK))
}

func TestBootstrap_WrongPassword(t *testing.T) {
	b := newFakeBackend()
	h := newTestHierarchy(b)
	s := testSession(t)
	_, err := h.Bootstrap(context.Background(), s, "correct horse")
	require.NoError(t, err)

	_, err = h.Bootstrap(context.Background(), s, "wrong")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorIs(t, err, crypto.ErrAuthFailure)
}

func TestBootstrap_CompletesMissingDEK(t *testing.T) {
	b := newFakeBackend()
	h := newTestHierarchy(b)
	s := testSession(t)
	k1, err := h.Bootstrap(context.Background(), s, "pw")
	require.NoError(t, err)

	// Simulate an earlier run that stored the KEK and died before the DEK.
	b.dekID = ""
	b.deks = map[string]models.KeyRecord{}

	k2, err := h.Bootstrap(context.Background(), s, "pw")
	require.NoError(t, err)
	assert.Equal(t, k1.KEK, k2.KEK)
	assert.NotEmpty(t, b.dekID)
	assert.Equal(t, b.dekID, k2.DEKID)
}

func TestBootstrap_KEKConflictReloads(t *testing.T) {
	s := testSession(t)
	c := crypto.New()
	pdk := secret.PDK(c, "pw", s.Secret, 1000)
	winner, err := c.RandomKey()
	require.NoError(t, err)
	wrapped, err := c.AEADEncrypt(pdk, winner)
	require.NoError(t, err)

	b := newFakeBackend()
	b.racingKEK = wrapped
	keys, err := newTestHierarchy(b).Bootstrap(context.Background(), s, "pw")
	require.NoError(t, err)
	assert.Equal(t, winner, keys.KEK)
}

func TestBootstrap_LostDEKResponse(t *testing.T) {
	b := newFakeBackend()
	b.dropDEKResponses = 1
	h := newTestHierarchy(b)
	s := testSession(t)

	_, err := h.Bootstrap(context.Background(), s, "pw")
	var netErr *apierrors.NetworkError
	require.ErrorAs(t, err, &netErr)

	keys, err := h.Bootstrap(context.Background(), s, "pw")
	require.NoError(t, err)
	assert.Len(t, b.deks, 1)
	assert.Equal(t, "dek-1", keys.DEKID)

	again, err := h.Bootstrap(context.Background(), s, "pw")
	require.NoError(t, err)
	assert.Equal(t, keys.DEK, again.DEK)
}

func TestBootstrap_ConcurrentRunsShareOneDEK(t *testing.T) {
	b := newFakeBackend()
	h := newTestHierarchy(b)
	s := testSession(t)

	var wg sync.WaitGroup
	results := make([]*Keys, 4)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.Bootstrap(context.Background(), s, "pw")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].KEK, results[i].KEK)
		assert.Equal(t, results[0].DEK, results[i].DEK)
		assert.Equal(t, b.dekID, results[i].DEKID)
	}
	assert.Len(t, b.deks, 1)
}

func TestBootstrap_RequiresSecret(t *testing.T) {
	h := newTestHierarchy(newFakeBackend())
	_, err := h.Bootstrap(context.Background(), &models.Session{Identity: "alice"}, "pw")
	assert.ErrorIs(t, err, secret.ErrInvalidSecret)
}

func TestKeysZero(t *testing.T) {
	k := &Keys{KEK: []byte{1, 2}, DEK: []byte{3}}
	k.Zero()
	assert.Equal(t, []byte{0, 0}, k.KEK)
	assert.Equal(t, []byte{0}, k.DEK)
	var nilKeys *Keys
	nilKeys.Zero()
}
