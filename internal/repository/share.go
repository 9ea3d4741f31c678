package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/atinyakov/keyvault/internal/models"
)

// PostgresShareRepository implements share storage against a PostgreSQL database.
type PostgresShareRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresShareRepository creates a new PostgresShareRepository using the provided *sql.DB.
func NewPostgresShareRepository(db *sql.DB) *PostgresShareRepository {
	return &PostgresShareRepository{DB: db}
}

// GetUser fetches an identity by login.
func (r *PostgresShareRepository) GetUser(ctx context.Context, login string) (*models.User, error) {
	return getUser(ctx, r.DB, login)
}

const shareColumns = `id, item_id, owner, recipient, recipient_public_key, encrypted_dek, slots, version, updated_at`

// UpsertShare inserts a share or replaces it on conflict by ID.
func (r *PostgresShareRepository) UpsertShare(ctx context.Context, s models.Share) error {
	slots, err := json.Marshal(s.Slots)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO shares (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			recipient_public_key = EXCLUDED.recipient_public_key,
			encrypted_dek = EXCLUDED.encrypted_dek,
			slots = EXCLUDED.slots,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`, s.ID, s.ItemID, s.Owner, s.Recipient, s.RecipientPublicKey, s.EncryptedDEK, slots, s.Version, s.UpdatedAt)
	return mapErr("upsert share", err)
}

// GetShare fetches a share by ID.
func (r *PostgresShareRepository) GetShare(ctx context.Context, id string) (*models.Share, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = $1`, id)
	s, err := scanShare(row)
	if err != nil {
		return nil, mapErr("get share", err)
	}
	return s, nil
}

// ListSharesByItem returns every share of an item owned by owner.
func (r *PostgresShareRepository) ListSharesByItem(ctx context.Context, owner, itemID string) ([]models.Share, error) {
	return r.list(ctx, "list shares by item",
		`SELECT `+shareColumns+` FROM shares WHERE owner = $1 AND item_id = $2 ORDER BY id`, owner, itemID)
}

// ListIncomingShares returns every share addressed to recipient.
func (r *PostgresShareRepository) ListIncomingShares(ctx context.Context, recipient string) ([]models.Share, error) {
	return r.list(ctx, "list incoming shares",
		`SELECT `+shareColumns+` FROM shares WHERE recipient = $1 ORDER BY id`, recipient)
}

func (r *PostgresShareRepository) list(ctx context.Context, op, query string, args ...any) ([]models.Share, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	shares := make([]models.Share, 0)
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		shares = append(shares, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return shares, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShare(row scanner) (*models.Share, error) {
	var (
		s     models.Share
		slots []byte
	)
	if err := row.Scan(&s.ID, &s.ItemID, &s.Owner, &s.Recipient, &s.RecipientPublicKey,
		&s.EncryptedDEK, &slots, &s.Version, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &s.Slots); err != nil {
			return nil, fmt.Errorf("unmarshal slots: %w", err)
		}
	}
	return &s, nil
}
