package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/models"
)

type pair struct {
	own, other string
}

// Pending is an invitation waiting to be accepted.
type Pending struct {
	From       string                      `json:"from"`
	To         string                      `json:"to"`
	Invitation models.DelegationInvitation `json:"invitation"`
}

// State is the serializable content of a Memory provider.
type State struct {
	Connections []models.Connection `json:"connections"`
	Pending     []Pending           `json:"pending,omitempty"`
}

// Memory is a Provider shared by every party in one process, or by CLI
// invocations that persist its State between runs.
type Memory struct {
	mu      sync.Mutex
	crypto  crypto.Primitives
	log     *zap.Logger
	conns   map[pair]models.Connection
	pending []Pending
}

var _ Provider = (*Memory)(nil)

// NewMemory returns an empty Memory provider.
func NewMemory(c crypto.Primitives, log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{crypto: c, log: log, conns: make(map[pair]models.Connection)}
}

func (m *Memory) Establish(_ context.Context, own string, ownKEK []byte, other string) (*models.Connection, error) {
	if own == "" || other == "" || own == other {
		return nil, fmt.Errorf("establish %q -> %q: invalid parties", own, other)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.establishLocked(own, ownKEK, other)
}

func (m *Memory) establishLocked(own string, ownKEK []byte, other string) (*models.Connection, error) {
	if _, ok := m.conns[pair{own, other}]; !ok {
		pub, priv, err := m.crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		wrapped, err := m.crypto.AEADEncrypt(ownKEK, priv)
		crypto.Zero(priv)
		if err != nil {
			return nil, fmt.Errorf("wrap connection key: %w", err)
		}
		m.conns[pair{own, other}] = models.Connection{
			ID:              uuid.NewString(),
			Own:             own,
			Other:           other,
			OwnPublicKey:    pub,
			OwnPrivateKey:   wrapped,
			IntegrationData: map[string]string{"provider": "memory"},
		}
		m.log.Debug("connection side established", zap.String("own", own), zap.String("other", other))
	}
	return m.viewLocked(own, other), nil
}

// viewLocked returns a copy of own's side with the peer key filled in.
func (m *Memory) viewLocked(own, other string) *models.Connection {
	c := m.conns[pair{own, other}]
	if peer, ok := m.conns[pair{other, own}]; ok {
		c.TheirPublicKey = peer.OwnPublicKey
	}
	return &c
}

func (m *Memory) Resolve(_ context.Context, own, other string) (*models.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[pair{own, other}]; !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotEstablished, own, other)
	}
	c := m.viewLocked(own, other)
	if len(c.TheirPublicKey) == 0 {
		return nil, fmt.Errorf("%w: %s has not connected back to %s", ErrNotEstablished, other, own)
	}
	return c, nil
}

func (m *Memory) Invite(_ context.Context, from, to string, inv models.DelegationInvitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[pair{from, to}]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrNotEstablished, from, to)
	}
	m.pending = append(m.pending, Pending{From: from, To: to, Invitation: inv})
	return nil
}

func (m *Memory) Accept(_ context.Context, own string, ownKEK []byte, from string) (*models.Connection, *models.DelegationInvitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, p := range m.pending {
		if p.From == from && p.To == own {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w from %s", ErrNoInvitation, from)
	}
	conn, err := m.establishLocked(own, ownKEK, from)
	if err != nil {
		return nil, nil, err
	}
	inv := m.pending[idx].Invitation
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
	return conn, &inv, nil
}

// Snapshot returns a copy of the provider state.
func (m *Memory) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{
		Connections: make([]models.Connection, 0, len(m.conns)),
		Pending:     append([]Pending(nil), m.pending...),
	}
	for _, c := range m.conns {
		st.Connections = append(st.Connections, c)
	}
	return st
}

// Restore replaces the provider state with st.
func (m *Memory) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = make(map[pair]models.Connection, len(st.Connections))
	for _, c := range st.Connections {
		c.TheirPublicKey = nil
		m.conns[pair{c.Own, c.Other}] = c
	}
	m.pending = append([]Pending(nil), st.Pending...)
}
