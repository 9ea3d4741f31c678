// Package secret models the recoverable account secret and the two
// password derivations split from it.
//
// A secret is rendered as "<version>.<identityHandle>.<secretKey>", for
// example "1.alice.ABCDEF-GHIJKL". The identity handle is the login name,
// the secret key is high-entropy material that salts the password
// derivations. The keystore never sees the raw secret.
package secret

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/atinyakov/keyvault/internal/crypto"
)

// CurrentVersion is the only secret format this package issues and accepts.
const CurrentVersion = 1

const (
	keyGroups    = 5
	keyGroupSize = 6
)

// ErrInvalidSecret is returned for secrets that do not parse.
var ErrInvalidSecret = errors.New("invalid secret")

// Secret is the parsed form of an account secret.
type Secret struct {
	Version        int
	IdentityHandle string
	SecretKey      string
}

// Parse splits a rendered secret into its parts.
func Parse(s string) (Secret, error) {
	s = strings.TrimSpace(s)
	first := strings.IndexByte(s, '.')
	last := strings.LastIndexByte(s, '.')
	if first <= 0 || last == first || last == len(s)-1 {
		return Secret{}, fmt.Errorf("%w: expected <version>.<identity>.<key>", ErrInvalidSecret)
	}
	version, err := strconv.Atoi(s[:first])
	if err != nil {
		return Secret{}, fmt.Errorf("%w: version %q", ErrInvalidSecret, s[:first])
	}
	if version != CurrentVersion {
		return Secret{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidSecret, version)
	}
	handle := s[first+1 : last]
	if handle == "" {
		return Secret{}, fmt.Errorf("%w: empty identity handle", ErrInvalidSecret)
	}
	return Secret{
		Version:        version,
		IdentityHandle: handle,
		SecretKey:      s[last+1:],
	}, nil
}

// Generate issues a new secret for identityHandle.
func Generate(identityHandle string) (Secret, error) {
	if identityHandle == "" || strings.ContainsAny(identityHandle, ". \t\n") {
		return Secret{}, fmt.Errorf("%w: identity handle %q", ErrInvalidSecret, identityHandle)
	}
	raw := make([]byte, (keyGroups*keyGroupSize*5+7)/8+1)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, fmt.Errorf("read random: %w", err)
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	groups := make([]string, 0, keyGroups)
	for i := 0; i < keyGroups; i++ {
		groups = append(groups, enc[i*keyGroupSize:(i+1)*keyGroupSize])
	}
	return Secret{
		Version:        CurrentVersion,
		IdentityHandle: identityHandle,
		SecretKey:      strings.Join(groups, "-"),
	}, nil
}

// String renders the secret in its portable form.
func (s Secret) String() string {
	return fmt.Sprintf("%d.%s.%s", s.Version, s.IdentityHandle, s.SecretKey)
}

// SRPPassword derives the password used for the SRP exchange. Its salt is
// the reversed secret key, so it is independent of the PDK.
func SRPPassword(c crypto.Primitives, password string, s Secret, iterations int) []byte {
	return c.DeriveKey([]byte(password), reverse([]byte(s.SecretKey)), iterations)
}

// PDK derives the passphrase-derived key that wraps the KEK. Its salt is
// the secret key.
func PDK(c crypto.Primitives, password string, s Secret, iterations int) []byte {
	return c.DeriveKey([]byte(password), []byte(s.SecretKey), iterations)
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
