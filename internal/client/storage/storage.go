// Package storage keeps the CLI's local profile: the keystore address,
// the account secret, the current session and the connection state. The
// file holds the secret in the clear and is written with mode 0600.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atinyakov/keyvault/internal/client/connection"
	"github.com/atinyakov/keyvault/internal/models"
	"github.com/atinyakov/keyvault/internal/secret"
)

// ErrNoSession is returned when the profile holds no usable session.
var ErrNoSession = errors.New("not logged in")

// Profile is the content of the profile file.
type Profile struct {
	Server      string            `json:"server,omitempty"`
	Secret      string            `json:"secret,omitempty"`
	Session     *models.Session   `json:"session,omitempty"`
	Connections *connection.State `json:"connections,omitempty"`
}

// SetSession records a fresh session together with its secret.
func (p *Profile) SetSession(s *models.Session) {
	p.Session = s
	p.Secret = s.Secret.String()
}

// CurrentSession returns the stored session if it has not expired at now,
// with its secret re-attached.
func (p *Profile) CurrentSession(now time.Time) (*models.Session, error) {
	if p.Session == nil || p.Session.Token == "" {
		return nil, ErrNoSession
	}
	if !p.Session.ExpiresAt.IsZero() && !now.Before(p.Session.ExpiresAt) {
		return nil, fmt.Errorf("%w: session expired at %s", ErrNoSession, p.Session.ExpiresAt.Format(time.RFC3339))
	}
	sec, err := secret.Parse(p.Secret)
	if err != nil {
		return nil, err
	}
	s := *p.Session
	s.Secret = sec
	return &s, nil
}

// Store reads and writes one profile file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store for the profile at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the profile location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the profile. A missing file yields an empty profile.
func (s *Store) Load() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", s.path, err)
	}
	return &p, nil
}

// Save replaces the profile atomically.
func (s *Store) Save(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
