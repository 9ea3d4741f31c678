package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/client/auth"
	"github.com/atinyakov/keyvault/internal/client/connection"
	"github.com/atinyakov/keyvault/internal/client/delegation"
	"github.com/atinyakov/keyvault/internal/client/keys"
	"github.com/atinyakov/keyvault/internal/client/keystore"
	"github.com/atinyakov/keyvault/internal/client/sharing"
	"github.com/atinyakov/keyvault/internal/client/storage"
	"github.com/atinyakov/keyvault/internal/logger"
	"github.com/atinyakov/keyvault/internal/models"
)

const defaultServer = "https://localhost:8080"

type appConfig struct {
	profilePath     string
	connectionsPath string
	server          string
	caFile          string
	iterations      int
	timeout         time.Duration
	verbose         bool
}

// app is one CLI invocation: a loaded profile and the client components
// bound to its keystore.
type app struct {
	out    io.Writer
	prompt *storage.Prompter
	getenv func(string) string
	log    *zap.Logger

	store   *storage.Store
	profile *storage.Profile
	// shared holds the connection state when it lives outside the profile.
	shared *storage.Store

	conns      *connection.Memory
	handshake  *auth.Handshake
	hierarchy  *keys.Hierarchy
	delegation *delegation.Protocol
	sharer     *sharing.Sharer
}

func newApp(cfg appConfig, in io.Reader, out io.Writer, getenv func(string) string) (*app, error) {
	log := logger.New()
	if cfg.verbose {
		if err := log.Init("debug"); err != nil {
			return nil, err
		}
	}

	store := storage.New(cfg.profilePath)
	profile, err := store.Load()
	if err != nil {
		return nil, err
	}
	if cfg.server != "" {
		profile.Server = cfg.server
	}
	profile.Server = cmp.Or(profile.Server, defaultServer)

	hc, err := storage.NewHTTPClient(cfg.caFile, cfg.timeout)
	if err != nil {
		return nil, err
	}
	client, err := keystore.New(profile.Server, keystore.WithHTTPClient(hc))
	if err != nil {
		return nil, err
	}

	c := newCrypto()
	conns := connection.NewMemory(c, log.Log)
	a := &app{
		out:        out,
		prompt:     storage.NewPrompter(in, out),
		getenv:     getenv,
		log:        log.Log,
		store:      store,
		profile:    profile,
		conns:      conns,
		handshake:  auth.New(client, c, auth.WithIterations(cfg.iterations), auth.WithLogger(log.Log)),
		hierarchy:  keys.New(client, c, keys.WithIterations(cfg.iterations), keys.WithLogger(log.Log)),
		delegation: delegation.New(client, conns, c, delegation.WithLogger(log.Log)),
		sharer:     sharing.New(client, conns, c, sharing.WithLogger(log.Log)),
	}

	if cfg.connectionsPath != "" {
		a.shared = storage.New(cfg.connectionsPath)
	}
	state, err := a.loadConnections()
	if err != nil {
		return nil, err
	}
	if state != nil {
		a.conns.Restore(*state)
	}
	return a, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

func (a *app) loadConnections() (*connection.State, error) {
	if a.shared == nil {
		return a.profile.Connections, nil
	}
	p, err := a.shared.Load()
	if err != nil {
		return nil, err
	}
	return p.Connections, nil
}

// save writes the profile and the connection state back.
func (a *app) save() error {
	state := a.conns.Snapshot()
	if a.shared == nil {
		a.profile.Connections = &state
		return a.store.Save(a.profile)
	}
	p, err := a.shared.Load()
	if err != nil {
		return err
	}
	p.Connections = &state
	if err := a.shared.Save(p); err != nil {
		return err
	}
	return a.store.Save(a.profile)
}

func (a *app) session() (*models.Session, error) {
	return a.profile.CurrentSession(time.Now())
}

// password reads KEYVAULT_PASSWORD or asks for it.
func (a *app) password() (string, error) {
	if pw := a.getenv("KEYVAULT_PASSWORD"); pw != "" {
		return pw, nil
	}
	return a.prompt.Required("Password: ")
}

// unlock returns the session and the identity's unwrapped keys.
func (a *app) unlock(ctx context.Context) (*models.Session, *keys.Keys, error) {
	sess, err := a.session()
	if err != nil {
		return nil, nil, err
	}
	pw, err := a.password()
	if err != nil {
		return nil, nil, err
	}
	k, err := a.hierarchy.Bootstrap(ctx, sess, pw)
	if err != nil {
		return nil, nil, err
	}
	return sess, k, nil
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	var err error
	switch cmd {
	case "signup":
		err = a.signup(ctx, args)
	case "login":
		err = a.login(ctx, args)
	case "logout":
		a.profile.Session = nil
	case "whoami":
		return a.whoami()
	case "master":
		return a.master(ctx, args)
	case "connect":
		err = a.connect(ctx, args)
	case "share":
		err = a.share(ctx, args)
	case "update":
		err = a.update(ctx, args)
	case "incoming":
		return a.incoming(ctx)
	case "receive":
		return a.receive(ctx, args)
	case "reshare":
		err = a.reshare(ctx, args)
	case "delegate":
		err = a.delegate(ctx, args)
	case "child":
		err = a.child(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	return a.save()
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return errors.New("usage: " + usage)
	}
	return nil
}
