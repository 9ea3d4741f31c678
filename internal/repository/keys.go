package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atinyakov/keyvault/internal/apierrors"
	"github.com/atinyakov/keyvault/internal/models"
)

// PostgresKeyRepository stores wrapped KEKs, DEKs and master-key artifacts.
type PostgresKeyRepository struct {
	DB *sql.DB
}

// NewPostgresKeyRepository creates a new PostgresKeyRepository using the provided *sql.DB.
func NewPostgresKeyRepository(db *sql.DB) *PostgresKeyRepository {
	return &PostgresKeyRepository{DB: db}
}

// GetUser fetches an identity by login.
func (r *PostgresKeyRepository) GetUser(ctx context.Context, login string) (*models.User, error) {
	return getUser(ctx, r.DB, login)
}

// GetKEK fetches the owner's wrapped KEK.
func (r *PostgresKeyRepository) GetKEK(ctx context.Context, owner string) (*models.KeyRecord, error) {
	var rec models.KeyRecord
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, owner, wrapped, created_at FROM keks WHERE owner = $1`, owner,
	).Scan(&rec.ID, &rec.Owner, &rec.Wrapped, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr("get kek", err)
	}
	return &rec, nil
}

// CreateKEK inserts the owner's wrapped KEK; owner is the primary key.
func (r *PostgresKeyRepository) CreateKEK(ctx context.Context, rec models.KeyRecord) error {
	return insertKEK(ctx, r.DB, rec)
}

func insertKEK(ctx context.Context, q queryer, rec models.KeyRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO keks (id, owner, wrapped, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Owner, rec.Wrapped, rec.CreatedAt,
	)
	return mapErr("create kek", err)
}

// GetDEK fetches one of the owner's wrapped DEKs.
func (r *PostgresKeyRepository) GetDEK(ctx context.Context, owner, id string) (*models.KeyRecord, error) {
	var rec models.KeyRecord
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, owner, wrapped, created_at FROM deks WHERE id = $1 AND owner = $2`, id, owner,
	).Scan(&rec.ID, &rec.Owner, &rec.Wrapped, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr("get dek", err)
	}
	return &rec, nil
}

// CreateProfileDEK inserts a wrapped DEK and points the owner's profile at
// it in one transaction. A profile that already has a DEK yields
// apierrors.ErrConflict and nothing is written.
func (r *PostgresKeyRepository) CreateProfileDEK(ctx context.Context, rec models.KeyRecord) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := insertDEK(ctx, tx, rec); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET dek_id = $2 WHERE login = $1 AND (dek_id IS NULL OR dek_id = '')`,
		rec.Owner, rec.ID,
	)
	if err != nil {
		return mapErr("claim profile dek", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("claim profile dek", err)
	}
	if n == 0 {
		return fmt.Errorf("claim profile dek for %s: %w", rec.Owner, apierrors.ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

func insertDEK(ctx context.Context, q queryer, rec models.KeyRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO deks (id, owner, wrapped, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Owner, rec.Wrapped, rec.CreatedAt,
	)
	return mapErr("create dek", err)
}

// GetArtifacts fetches the owner's master-key artifacts.
func (r *PostgresKeyRepository) GetArtifacts(ctx context.Context, owner string) (*models.MasterKeyArtifacts, error) {
	var a models.MasterKeyArtifacts
	err := r.DB.QueryRowContext(ctx, `
		SELECT salt, iterations, token, encrypted_token_and_salt
		FROM master_key_artifacts WHERE owner = $1
	`, owner).Scan(&a.Derivation.Salt, &a.Derivation.Iterations, &a.Verification.Token, &a.Verification.EncryptedTokenAndSalt)
	if err != nil {
		return nil, mapErr("get artifacts", err)
	}
	return &a, nil
}

// CreateArtifacts inserts the owner's master-key artifacts.
func (r *PostgresKeyRepository) CreateArtifacts(ctx context.Context, owner string, a models.MasterKeyArtifacts) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO master_key_artifacts (owner, salt, iterations, token, encrypted_token_and_salt)
		VALUES ($1, $2, $3, $4, $5)
	`, owner, a.Derivation.Salt, a.Derivation.Iterations, a.Verification.Token, a.Verification.EncryptedTokenAndSalt)
	return mapErr("create artifacts", err)
}

// CreateChildUser inserts a dependent identity with its KEK and DEK in one
// transaction.
func (r *PostgresKeyRepository) CreateChildUser(ctx context.Context, parent string, child models.ChildUser) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (login, parent, dek_id, created_at) VALUES ($1, $2, $3, $4)`,
		child.Login, parent, child.DEKID, now,
	)
	if err != nil {
		return mapErr("create child user", err)
	}
	if err := insertKEK(ctx, tx, models.KeyRecord{ID: child.Login, Owner: child.Login, Wrapped: child.KEKWrappedByParent, CreatedAt: now}); err != nil {
		return err
	}
	if err := insertDEK(ctx, tx, models.KeyRecord{ID: child.DEKID, Owner: child.Login, Wrapped: child.DEKWrappedByKEK, CreatedAt: now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}
