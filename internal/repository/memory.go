package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
)

// MemoryStore implements every keystore repository in process memory. It
// backs the server when no DSN is configured and the end-to-end tests.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]models.User
	challenges  map[string]models.Challenge
	keks        map[string]models.KeyRecord
	deks        map[string]models.KeyRecord
	artifacts   map[string]models.MasterKeyArtifacts
	delegations map[string]models.Delegation
	shares      map[string]models.Share
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]models.User),
		challenges:  make(map[string]models.Challenge),
		keks:        make(map[string]models.KeyRecord),
		deks:        make(map[string]models.KeyRecord),
		artifacts:   make(map[string]models.MasterKeyArtifacts),
		delegations: make(map[string]models.Delegation),
		shares:      make(map[string]models.Share),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Login]; ok {
		return apierrors.ErrConflict
	}
	m.users[u.Login] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, login string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[login]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) SaveChallenge(_ context.Context, c models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c.ID] = c
	return nil
}

func (m *MemoryStore) TakeChallenge(_ context.Context, id string) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	delete(m.challenges, id)
	return &c, nil
}

// PurgeExpired drops challenges created before challengeCutoff and
// delegations still waiting for a claim since before delegationCutoff. It
// returns how many records were removed.
func (m *MemoryStore) PurgeExpired(challengeCutoff, delegationCutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.challenges {
		if c.CreatedAt.Before(challengeCutoff) {
			delete(m.challenges, id)
			n++
		}
	}
	for token, d := range m.delegations {
		if d.Status == models.DelegationOpened && d.CreatedAt.Before(delegationCutoff) {
			delete(m.delegations, token)
			n++
		}
	}
	return n
}

func (m *MemoryStore) GetKEK(_ context.Context, owner string) (*models.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.keks[owner]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) CreateKEK(_ context.Context, rec models.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keks[rec.Owner]; ok {
		return apierrors.ErrConflict
	}
	m.keks[rec.Owner] = rec
	return nil
}

func (m *MemoryStore) GetDEK(_ context.Context, owner, id string) (*models.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.deks[id]
	if !ok || rec.Owner != owner {
		return nil, apierrors.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) CreateProfileDEK(_ context.Context, rec models.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[rec.Owner]
	if !ok {
		return apierrors.ErrNotFound
	}
	if _, ok := m.deks[rec.ID]; ok || u.DEKID != "" {
		return apierrors.ErrConflict
	}
	m.deks[rec.ID] = rec
	u.DEKID = rec.ID
	m.users[rec.Owner] = u
	return nil
}

func (m *MemoryStore) GetArtifacts(_ context.Context, owner string) (*models.MasterKeyArtifacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[owner]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) CreateArtifacts(_ context.Context, owner string, a models.MasterKeyArtifacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[owner]; ok {
		return apierrors.ErrConflict
	}
	m.artifacts[owner] = a
	return nil
}

func (m *MemoryStore) CreateChildUser(_ context.Context, parent string, child models.ChildUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[child.Login]; ok {
		return apierrors.ErrConflict
	}
	now := time.Now().UTC()
	m.users[child.Login] = models.User{Login: child.Login, Parent: parent, DEKID: child.DEKID, CreatedAt: now}
	m.keks[child.Login] = models.KeyRecord{ID: child.Login, Owner: child.Login, Wrapped: child.KEKWrappedByParent, CreatedAt: now}
	m.deks[child.DEKID] = models.KeyRecord{ID: child.DEKID, Owner: child.Login, Wrapped: child.DEKWrappedByKEK, CreatedAt: now}
	return nil
}

func (m *MemoryStore) CreateDelegation(_ context.Context, d models.Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.delegations[d.Token]; ok {
		return apierrors.ErrConflict
	}
	m.delegations[d.Token] = d
	return nil
}

func (m *MemoryStore) GetDelegation(_ context.Context, token string) (*models.Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[token]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) UpdateDelegation(_ context.Context, d models.Delegation, from models.DelegationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.delegations[d.Token]
	if !ok {
		return apierrors.ErrNotFound
	}
	if cur.Status != from {
		return apierrors.ErrConflict
	}
	m.delegations[d.Token] = d
	return nil
}

func (m *MemoryStore) UpsertShare(_ context.Context, s models.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[s.ID] = s
	return nil
}

func (m *MemoryStore) GetShare(_ context.Context, id string) (*models.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[id]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListSharesByItem(_ context.Context, owner, itemID string) ([]models.Share, error) {
	return m.listShares(func(s models.Share) bool { return s.Owner == owner && s.ItemID == itemID }), nil
}

func (m *MemoryStore) ListIncomingShares(_ context.Context, recipient string) ([]models.Share, error) {
	return m.listShares(func(s models.Share) bool { return s.Recipient == recipient }), nil
}

func (m *MemoryStore) listShares(match func(models.Share) bool) []models.Share {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Share, 0)
	for _, s := range m.shares {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
