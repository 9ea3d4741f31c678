package keystore

import (
	"context"
	"net/http"
	"net/url"

	"github.com/atinyakov/keyvault/internal/models"
)

// Register submits a new identity's SRP salt and verifier.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) error {
	return c.do(ctx, nil, http.MethodPost, "/api/srp/users", req, nil)
}

// Challenge sends the client's SRP public value.
func (c *Client) Challenge(ctx context.Context, req models.ChallengeRequest) (*models.ChallengeResponse, error) {
	var out models.ChallengeResponse
	if err := c.do(ctx, nil, http.MethodPost, "/api/srp/challenges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session sends the client's SRP proof and returns the session.
func (c *Client) Session(ctx context.Context, req models.ProofRequest) (*models.SessionResponse, error) {
	var out models.SessionResponse
	if err := c.do(ctx, nil, http.MethodPost, "/api/srp/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Profile(ctx context.Context, s *models.Session) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, s, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetKEK(ctx context.Context, s *models.Session) (*models.KeyRecord, error) {
	var out models.KeyRecord
	if err := c.do(ctx, s, http.MethodGet, "/api/keys/kek", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PutKEK(ctx context.Context, s *models.Session, wrapped []byte) (*models.KeyRecord, error) {
	var out models.KeyRecord
	if err := c.do(ctx, s, http.MethodPut, "/api/keys/kek", models.WrappedKeyRequest{Wrapped: wrapped}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDEK(ctx context.Context, s *models.Session, id string) (*models.KeyRecord, error) {
	var out models.KeyRecord
	if err := c.do(ctx, s, http.MethodGet, "/api/keys/deks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDEK(ctx context.Context, s *models.Session, wrapped []byte) (*models.KeyRecord, error) {
	var out models.KeyRecord
	if err := c.do(ctx, s, http.MethodPost, "/api/keys/deks", models.WrappedKeyRequest{Wrapped: wrapped}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMasterArtifacts(ctx context.Context, s *models.Session) (*models.MasterKeyArtifacts, error) {
	var out models.MasterKeyArtifacts
	if err := c.do(ctx, s, http.MethodGet, "/api/keys/master", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PutMasterArtifacts(ctx context.Context, s *models.Session, a models.MasterKeyArtifacts) error {
	return c.do(ctx, s, http.MethodPut, "/api/keys/master", a, nil)
}

func (c *Client) OpenDelegation(ctx context.Context, s *models.Session, delegate, role string) (*models.Delegation, error) {
	return c.delegation(ctx, s, http.MethodPost, "/api/delegations", models.OpenDelegationRequest{Delegate: delegate, Role: role})
}

func (c *Client) GetDelegation(ctx context.Context, s *models.Session, token string) (*models.Delegation, error) {
	return c.delegation(ctx, s, http.MethodGet, "/api/delegations/"+url.PathEscape(token), nil)
}

func (c *Client) ClaimDelegation(ctx context.Context, s *models.Session, token string, publicKey, signature []byte) (*models.Delegation, error) {
	return c.delegation(ctx, s, http.MethodPost, "/api/delegations/"+url.PathEscape(token)+"/claim",
		models.ClaimRequest{PublicKey: publicKey, Signature: signature})
}

func (c *Client) ShareDelegation(ctx context.Context, s *models.Session, token string, encryptedKEK []byte, wrappedByDelegateKEK bool) (*models.Delegation, error) {
	return c.delegation(ctx, s, http.MethodPost, "/api/delegations/"+url.PathEscape(token)+"/share",
		models.ShareKEKRequest{EncryptedKEK: encryptedKEK, WrappedByDelegateKEK: wrappedByDelegateKEK})
}

func (c *Client) ReencryptDelegation(ctx context.Context, s *models.Session, token string, wrapped []byte) (*models.Delegation, error) {
	return c.delegation(ctx, s, http.MethodPost, "/api/delegations/"+url.PathEscape(token)+"/reencrypt",
		models.WrappedKeyRequest{Wrapped: wrapped})
}

func (c *Client) delegation(ctx context.Context, s *models.Session, method, path string, body any) (*models.Delegation, error) {
	var out models.Delegation
	if err := c.do(ctx, s, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateChildUser(ctx context.Context, s *models.Session, child models.ChildUser) (*models.ChildUser, error) {
	var out models.ChildUser
	if err := c.do(ctx, s, http.MethodPost, "/api/children", child, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetChildUser(ctx context.Context, s *models.Session, login string) (*models.ChildUser, error) {
	var out models.ChildUser
	if err := c.do(ctx, s, http.MethodGet, "/api/children/"+url.PathEscape(login), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PutShare(ctx context.Context, s *models.Session, share models.Share) (*models.Share, error) {
	var out models.Share
	if err := c.do(ctx, s, http.MethodPut, "/api/shares/"+url.PathEscape(share.ID), share, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetShare(ctx context.Context, s *models.Session, id string) (*models.Share, error) {
	var out models.Share
	if err := c.do(ctx, s, http.MethodGet, "/api/shares/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListItemShares(ctx context.Context, s *models.Session, itemID string) ([]models.Share, error) {
	var out []models.Share
	if err := c.do(ctx, s, http.MethodGet, "/api/items/"+url.PathEscape(itemID)+"/shares", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) IncomingShares(ctx context.Context, s *models.Session) ([]models.Share, error) {
	var out []models.Share
	if err := c.do(ctx, s, http.MethodGet, "/api/shares/incoming", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
