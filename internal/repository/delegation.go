package repository

import (
	"context"
	"database/sql"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
)

// PostgresDelegationRepository stores delegation handshakes keyed by token.
type PostgresDelegationRepository struct {
	DB *sql.DB
}

// NewPostgresDelegationRepository creates a new PostgresDelegationRepository using the provided *sql.DB.
func NewPostgresDelegationRepository(db *sql.DB) *PostgresDelegationRepository {
	return &PostgresDelegationRepository{DB: db}
}

const delegationColumns = `token, owner, delegate, role, status, claimed_public_key, signature,
	encrypted_kek, kek_wrapped_by_delegate, delegate_wrapped_kek, created_at, updated_at`

// CreateDelegation inserts a freshly minted delegation.
func (r *PostgresDelegationRepository) CreateDelegation(ctx context.Context, d models.Delegation) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO delegations (`+delegationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.Token, d.Owner, nullString(d.Delegate), d.Role, string(d.Status), d.ClaimedPublicKey, d.Signature,
		d.EncryptedKEK, d.KEKWrappedByDelegateKEK, d.DelegateWrappedKEK, d.CreatedAt, d.UpdatedAt)
	return mapErr("create delegation", err)
}

// GetDelegation fetches a delegation by token.
func (r *PostgresDelegationRepository) GetDelegation(ctx context.Context, token string) (*models.Delegation, error) {
	var (
		d        models.Delegation
		delegate sql.NullString
		status   string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE token = $1`, token,
	).Scan(&d.Token, &d.Owner, &delegate, &d.Role, &status, &d.ClaimedPublicKey, &d.Signature,
		&d.EncryptedKEK, &d.KEKWrappedByDelegateKEK, &d.DelegateWrappedKEK, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr("get delegation", err)
	}
	d.Delegate = delegate.String
	d.Status = models.DelegationStatus(status)
	return &d, nil
}

// UpdateDelegation writes d only while the stored status equals from. Zero
// affected rows means another request advanced the token first.
func (r *PostgresDelegationRepository) UpdateDelegation(ctx context.Context, d models.Delegation, from models.DelegationStatus) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE delegations SET
			delegate = $2, status = $3, claimed_public_key = $4, signature = $5,
			encrypted_kek = $6, kek_wrapped_by_delegate = $7, delegate_wrapped_kek = $8, updated_at = $9
		WHERE token = $1 AND status = $10
	`, d.Token, nullString(d.Delegate), string(d.Status), d.ClaimedPublicKey, d.Signature,
		d.EncryptedKEK, d.KEKWrappedByDelegateKEK, d.DelegateWrappedKEK, d.UpdatedAt, string(from))
	if err != nil {
		return mapErr("update delegation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("update delegation", err)
	}
	if n == 0 {
		return apierrors.ErrConflict
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
