package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// SRP-6a (RFC 5054) with SHA-256. Session proofs:
//
//	M1 = H(I | s | PAD(A) | PAD(B) | K)
//	M2 = H(PAD(A) | M1 | K)
var (
	// ErrSRPBadPublic is returned when a peer sends A or B congruent to 0 mod N.
	ErrSRPBadPublic = errors.New("srp: invalid ephemeral public value")
	// ErrSRPBadProof is returned when a session proof does not match.
	ErrSRPBadProof = errors.New("srp: proof mismatch")
)

const rfc5054N2048 = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

// SRPGroup holds the SRP prime, generator and multiplier.
type SRPGroup struct {
	N *big.Int
	G *big.Int
	k *big.Int
}

// RFC5054Group2048 returns the 2048-bit group from RFC 5054 appendix A.
func RFC5054Group2048() *SRPGroup {
	n, _ := new(big.Int).SetString(rfc5054N2048, 16)
	g := big.NewInt(2)
	grp := &SRPGroup{N: n, G: g}
	grp.k = grp.hashInt(grp.N.Bytes(), grp.pad(g))
	return grp
}

func (g *SRPGroup) pad(x *big.Int) []byte {
	size := (g.N.BitLen() + 7) / 8
	b := x.Bytes()
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func hashBytes(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (g *SRPGroup) hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hashBytes(parts...))
}

// x = H(s | H(I | ":" | P)). The identity is case-folded so the handle
// "Alice" and "alice" authenticate identically.
func (g *SRPGroup) privateKey(identity string, password, salt []byte) *big.Int {
	inner := hashBytes([]byte(strings.ToLower(identity)), []byte(":"), password)
	return g.hashInt(salt, inner)
}

// Verifier returns v = g^x mod N.
func (g *SRPGroup) Verifier(identity string, password, salt []byte) []byte {
	x := g.privateKey(identity, password, salt)
	return new(big.Int).Exp(g.G, x, g.N).Bytes()
}

func (g *SRPGroup) randomExponent() (*big.Int, error) {
	b, err := RandomBytes(32)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (g *SRPGroup) scrambler(A, B *big.Int) (*big.Int, error) {
	u := g.hashInt(g.pad(A), g.pad(B))
	if u.Sign() == 0 {
		return nil, ErrSRPBadPublic
	}
	return u, nil
}

func (g *SRPGroup) clientProof(identity string, salt []byte, A, B *big.Int, key []byte) []byte {
	return hashBytes([]byte(strings.ToLower(identity)), salt, g.pad(A), g.pad(B), key)
}

func (g *SRPGroup) serverProof(A *big.Int, m1, key []byte) []byte {
	return hashBytes(g.pad(A), m1, key)
}

// SRPClient is the client half of one SRP-6a exchange. It is single-use.
type SRPClient struct {
	group    *SRPGroup
	identity string
	password []byte
	a        *big.Int
	A        *big.Int
	m1       []byte
	key      []byte
}

// NewClient generates the client ephemeral pair for identity.
func (g *SRPGroup) NewClient(identity string, password []byte) (*SRPClient, error) {
	a, err := g.randomExponent()
	if err != nil {
		return nil, err
	}
	return &SRPClient{
		group:    g,
		identity: identity,
		password: append([]byte(nil), password...),
		a:        a,
		A:        new(big.Int).Exp(g.G, a, g.N),
	}, nil
}

// Public returns A.
func (c *SRPClient) Public() []byte {
	return c.A.Bytes()
}

// Proof computes M1 from the server's salt and public value B. The
// password copy held by the client is wiped once the proof is computed.
func (c *SRPClient) Proof(salt, serverPublic []byte) ([]byte, error) {
	g := c.group
	B := new(big.Int).SetBytes(serverPublic)
	if new(big.Int).Mod(B, g.N).Sign() == 0 {
		return nil, ErrSRPBadPublic
	}
	u, err := g.scrambler(c.A, B)
	if err != nil {
		return nil, err
	}
	x := g.privateKey(c.identity, c.password, salt)
	Zero(c.password)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	kgx := new(big.Int).Mul(g.k, new(big.Int).Exp(g.G, x, g.N))
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, g.N)
	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, g.N)

	c.key = hashBytes(g.pad(S))
	c.m1 = g.clientProof(c.identity, salt, c.A, B, c.key)
	return c.m1, nil
}

// VerifyServer checks the server proof M2 returned with the session.
func (c *SRPClient) VerifyServer(serverProof []byte) error {
	if c.m1 == nil {
		return fmt.Errorf("srp: proof not computed")
	}
	want := c.group.serverProof(c.A, c.m1, c.key)
	if subtle.ConstantTimeCompare(want, serverProof) != 1 {
		return ErrSRPBadProof
	}
	return nil
}

// SRPChallenge is the server state kept between the challenge and the
// proof message.
type SRPChallenge struct {
	Public []byte
	Secret []byte
}

// NewChallenge computes B = k*v + g^b for a stored verifier.
func (g *SRPGroup) NewChallenge(verifier []byte) (*SRPChallenge, error) {
	b, err := g.randomExponent()
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(verifier)
	B := new(big.Int).Mul(g.k, v)
	B.Add(B, new(big.Int).Exp(g.G, b, g.N))
	B.Mod(B, g.N)
	return &SRPChallenge{Public: B.Bytes(), Secret: b.Bytes()}, nil
}

// VerifyClient checks the client proof M1 and returns M2.
func (g *SRPGroup) VerifyClient(identity string, salt, verifier, clientPublic []byte, ch *SRPChallenge, proof []byte) ([]byte, error) {
	A := new(big.Int).SetBytes(clientPublic)
	if new(big.Int).Mod(A, g.N).Sign() == 0 {
		return nil, ErrSRPBadPublic
	}
	B := new(big.Int).SetBytes(ch.Public)
	b := new(big.Int).SetBytes(ch.Secret)
	u, err := g.scrambler(A, B)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(verifier)

	// S = (A * v^u) ^ b mod N
	base := new(big.Int).Mul(A, new(big.Int).Exp(v, u, g.N))
	base.Mod(base, g.N)
	S := new(big.Int).Exp(base, b, g.N)
	key := hashBytes(g.pad(S))

	want := g.clientProof(identity, salt, A, B, key)
	if subtle.ConstantTimeCompare(want, proof) != 1 {
		return nil, ErrSRPBadProof
	}
	return g.serverProof(A, proof, key), nil
}

// ValidatePublic reports whether an ephemeral value is usable.
func (g *SRPGroup) ValidatePublic(public []byte) error {
	if new(big.Int).Mod(new(big.Int).SetBytes(public), g.N).Sign() == 0 {
		return ErrSRPBadPublic
	}
	return nil
}
