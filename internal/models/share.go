package models

import "time"

// Share is one item shared with one recipient. EncryptedDEK is the share
// DEK RSA-encrypted to RecipientPublicKey; every slot is encrypted under
// that DEK.
type Share struct {
	ID                 string      `json:"id"`
	ItemID             string      `json:"item_id"`
	Owner              string      `json:"owner"`
	Recipient          string      `json:"recipient"`
	RecipientPublicKey []byte      `json:"recipient_public_key"`
	EncryptedDEK       []byte      `json:"encrypted_dek"`
	Slots              []ShareSlot `json:"slots"`
	Version            int64       `json:"version"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// ShareSlot is one encrypted value of a shared item. VerificationHash is
// HMAC(verification key, plaintext) in the clear; nil means the value
// arrived over a hop that cannot be verified.
type ShareSlot struct {
	Name                     string `json:"name"`
	EncryptedValue           []byte `json:"encrypted_value"`
	EncryptedVerificationKey []byte `json:"encrypted_verification_key,omitempty"`
	VerificationHash         []byte `json:"verification_hash,omitempty"`
	// SourceShareID is set when the value was received via another share.
	SourceShareID string `json:"source_share_id,omitempty"`
}
