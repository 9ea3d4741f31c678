package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atinyakov/keyvault/internal/client/auth"
	"github.com/atinyakov/keyvault/internal/client/connection"
	"github.com/atinyakov/keyvault/internal/client/delegation"
	"github.com/atinyakov/keyvault/internal/client/keys"
	"github.com/atinyakov/keyvault/internal/client/keystore"
	"github.com/atinyakov/keyvault/internal/client/sharing"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/repository"
	handler "github.com/atinyakov/keyvault/internal/server/handler/http"
	"github.com/atinyakov/keyvault/internal/secret"
	"github.com/atinyakov/keyvault/internal/service"
)

const testIterations = 1000

// env is one keystore plus the client components talking to it.
type env struct {
	store      *repository.MemoryStore
	crypto     *crypto.Suite
	client     *keystore.Client
	handshake  *auth.Handshake
	hierarchy  *keys.Hierarchy
	conns      *connection.Memory
	delegation *delegation.Protocol
	sharer     *sharing.Sharer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	c := crypto.New()
	store := repository.NewMemoryStore()

	tokens, err := service.NewTokenIssuer([]byte("e2e-secret"), "keyvault", time.Minute)
	require.NoError(t, err)
	router := handler.NewRouter(handler.Handlers{
		Auth:       &handler.AuthHandler{AuthService: service.NewAuthService(store, tokens, nil, log), Log: log},
		Keys:       &handler.KeyHandler{KeyService: service.NewKeyService(store, log), Log: log},
		Delegation: &handler.DelegationHandler{DelegationService: service.NewDelegationService(store, c, log), Log: log},
		Share:      &handler.ShareHandler{ShareService: service.NewShareService(store, log), Log: log},
	}, tokens, nil, log)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client, err := keystore.New(srv.URL)
	require.NoError(t, err)
	conns := connection.NewMemory(c, log)
	return &env{
		store:      store,
		crypto:     c,
		client:     client,
		handshake:  auth.New(client, c, auth.WithIterations(testIterations), auth.WithLogger(log)),
		hierarchy:  keys.New(client, c, keys.WithIterations(testIterations), keys.WithLogger(log)),
		conns:      conns,
		delegation: delegation.New(client, conns, c, delegation.WithLogger(log)),
		sharer:     sharing.New(client, conns, c, sharing.WithLogger(log)),
	}
}

// user is a logged-in identity with its unwrapped keys.
type user struct {
	session *models.Session
	keys    *keys.Keys
}

func (e *env) signUp(t *testing.T, rendered, password string) user {
	t.Helper()
	ctx := context.Background()
	sec, err := secret.Parse(rendered)
	require.NoError(t, err)

	sess, err := e.handshake.RegisterOrLogin(ctx, sec.IdentityHandle, password, sec)
	require.NoError(t, err)
	k, err := e.hierarchy.Bootstrap(ctx, sess, password)
	require.NoError(t, err)
	t.Cleanup(k.Zero)
	return user{session: sess, keys: k}
}

// connect establishes both sides of the connection between a and b.
func (e *env) connect(t *testing.T, a, b user) {
	t.Helper()
	_, err := e.conns.Establish(context.Background(), a.session.Identity, a.keys.KEK, b.session.Identity)
	require.NoError(t, err)
	_, err = e.conns.Establish(context.Background(), b.session.Identity, b.keys.KEK, a.session.Identity)
	require.NoError(t, err)
}
