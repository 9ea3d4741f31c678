package models

import "time"

// Request and response bodies of the keystore HTTP API.

type RegisterRequest struct {
	Identity string `json:"identity"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type ChallengeRequest struct {
	Identity     string `json:"identity"`
	ClientPublic []byte `json:"client_public"`
}

type ChallengeResponse struct {
	ChallengeID  string `json:"challenge_id"`
	Salt         []byte `json:"salt"`
	ServerPublic []byte `json:"server_public"`
}

type ProofRequest struct {
	ChallengeID string `json:"challenge_id"`
	Proof       []byte `json:"proof"`
}

type SessionResponse struct {
	Token       string    `json:"token"`
	ServerProof []byte    `json:"server_proof"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// WrappedKeyRequest carries a key that is already wrapped client-side.
type WrappedKeyRequest struct {
	Wrapped []byte `json:"wrapped"`
}

type OpenDelegationRequest struct {
	Delegate string `json:"delegate"`
	Role     string `json:"role"`
}

type ClaimRequest struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

type ShareKEKRequest struct {
	EncryptedKEK         []byte `json:"encrypted_kek"`
	WrappedByDelegateKEK bool   `json:"wrapped_by_delegate_kek,omitempty"`
}
