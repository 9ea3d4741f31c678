package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/secret"
)

// fakeKeystore plays the server side of SRP in memory.
type fakeKeystore struct {
	mu         sync.Mutex
	group      *crypto.SRPGroup
	users      map[string]models.RegisterRequest
	challenges map[string]pending
	tamperM2   bool
}

type pending struct {
	identity     string
	clientPublic []byte
	ch           *crypto.SRPChallenge
}

func newFakeKeystore() *fakeKeystore {
	return &fakeKeystore{
		group:      crypto.RFC5054Group2048(),
		users:      make(map[string]models.RegisterRequest),
		challenges: make(map[string]pending),
	}
}

func (f *fakeKeystore) Register(_ context.Context, req models.RegisterRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[req.Identity]; ok {
		return &apierrors.APIError{StatusCode: 409}
	}
	f.users[req.Identity] = req
	return nil
}

func (f *fakeKeystore) Challenge(_ context.Context, req models.ChallengeRequest) (*models.ChallengeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[req.Identity]
	if !ok {
		return nil, &apierrors.APIError{StatusCode: 401}
	}
	ch, err := f.group.NewChallenge(u.Verifier)
	if err != nil {
		return nil, err
	}
	id := req.Identity + "-challenge"
	f.challenges[id] = pending{identity: req.Identity, clientPublic: req.ClientPublic, ch: ch}
	return &models.ChallengeResponse{ChallengeID: id, Salt: u.Salt, ServerPublic: ch.Public}, nil
}

func (f *fakeKeystore) Session(_ context.Context, req models.ProofRequest) (*models.SessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.challenges[req.ChallengeID]
	if !ok {
		return nil, &apierrors.APIError{StatusCode: 401}
	}
	delete(f.challenges, req.ChallengeID)
	u := f.users[p.identity]
	m2, err := f.group.VerifyClient(p.identity, u.Salt, u.Verifier, p.clientPublic, p.ch, req.Proof)
	if err != nil {
		return nil, &apierrors.APIError{StatusCode: 401}
	}
	if f.tamperM2 {
		m2[0] ^= 0xff
	}
	return &models.SessionResponse{Token: "session-" + p.identity, ServerProof: m2, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func testSecret(t *testing.T) secret.Secret {
	t.Helper()
	s, err := secret.Parse("1.alice.ABCDEF-GHIJKL")
	require.NoError(t, err)
	return s
}

func newTestHandshake(backend Backend) *Handshake {
	return New(backend, crypto.New(), WithIterations(1000))
}

func TestRegisterAndLogin(t *testing.T) {
	ks := newFakeKeystore()
	h := newTestHandshake(ks)
	sec := testSecret(t)

	require.NoError(t, h.Register(context.Background(), "alice", "correct horse", sec))

	sess, err := h.Login(context.Background(), "correct horse", sec)
	require.NoError(t, err)
	assert.Equal(t, "session-alice", sess.Token)
	assert.Equal(t, "alice", sess.Identity)
	assert.Equal(t, sec, sess.Secret)
}

func TestRegister_NeverSendsPassword(t *testing.T) {
	ks := newFakeKeystore()
	h := newTestHandshake(ks)
	sec := testSecret(t)
	require.NoError(t, h.Register(context.Background(), "alice", "correct horse", sec))

	req := ks.users["alice"]
	assert.NotContains(t, string(req.Verifier), "correct horse")
	assert.NotContains(t, string(req.Salt), sec.SecretKey)
	assert.Len(t, req.Salt, srpSaltSize)
}

func TestLogin_WrongPassword(t *testing.T) {
	ks := newFakeKeystore()
	h := newTestHandshake(ks)
	sec := testSecret(t)
	require.NoError(t, h.Register(context.Background(), "alice", "correct horse", sec))

	_, err := h.Login(context.Background(), "battery staple", sec)
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestLogin_WrongSecretKey(t *testing.T) {
	ks := newFakeKeystore()
	h := newTestHandshake(ks)
	require.NoError(t, h.Register(context.Background(), "alice", "correct horse", testSecret(t)))

	other, err := secret.Parse("1.alice.ZZZZZZ-ZZZZZZ")
	require.NoError(t, err)
	_, err = h.Login(context.Background(), "correct horse", other)
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestLogin_UnknownIdentity(t *testing.T) {
	h := newTestHandshake(newFakeKeystore())
	_, err := h.Login(context.Background(), "pw", testSecret(t))
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestLogin_RejectsForgedServerProof(t *testing.T) {
	ks := newFakeKeystore()
	h := newTestHandshake(ks)
	sec := testSecret(t)
	require.NoError(t, h.Register(context.Background(), "alice", "pw", sec))

	ks.tamperM2 = true
	_, err := h.Login(context.Background(), "pw", sec)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, crypto.ErrSRPBadProof)
}

func TestRegister_Twice(t *testing.T) {
	h := newTestHandshake(newFakeKeystore())
	sec := testSecret(t)
	require.NoError(t, h.Register(context.Background(), "alice", "pw", sec))
	assert.ErrorIs(t, h.Register(context.Background(), "alice", "pw", sec), ErrAlreadyRegistered)
}

func TestRegister_HandleMismatch(t *testing.T) {
	h := newTestHandshake(newFakeKeystore())
	err := h.Register(context.Background(), "bob", "pw", testSecret(t))
	assert.ErrorIs(t, err, secret.ErrInvalidSecret)
}

func TestRegisterOrLogin_Idempotent(t *testing.T) {
	h := newTestHandshake(newFakeKeystore())
	sec := testSecret(t)

	s1, err := h.RegisterOrLogin(context.Background(), "alice", "pw", sec)
	require.NoError(t, err)
	s2, err := h.RegisterOrLogin(context.Background(), "alice", "pw", sec)
	require.NoError(t, err)
	assert.Equal(t, s1.Identity, s2.Identity)
}

type failingBackend struct{ Backend }

func (failingBackend) Challenge(context.Context, models.ChallengeRequest) (*models.ChallengeResponse, error) {
	return nil, &apierrors.NetworkError{Err: errors.New("connection refused")}
}

func TestLogin_TransportErrorIsNotLoginFailure(t *testing.T) {
	h := newTestHandshake(failingBackend{})
	_, err := h.Login(context.Background(), "pw", testSecret(t))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLoginFailed))
	var netErr *apierrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
}
