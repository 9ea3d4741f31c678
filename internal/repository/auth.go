package repository

import (
	"context"
	"database/sql"

	"github.com/atinyakov/keyvault/internal/models"
)

// PostgresAuthRepository implements identity and SRP challenge storage
// using a PostgreSQL database.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates a new PostgresAuthRepository with the given database connection.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

// CreateUser inserts a new identity. A duplicate login yields
// apierrors.ErrConflict.
func (r *PostgresAuthRepository) CreateUser(ctx context.Context, u models.User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (login, salt, verifier, created_at) VALUES ($1, $2, $3, $4)`,
		u.Login, u.Salt, u.Verifier, u.CreatedAt,
	)
	return mapErr("create user", err)
}

// GetUser fetches an identity by login.
func (r *PostgresAuthRepository) GetUser(ctx context.Context, login string) (*models.User, error) {
	return getUser(ctx, r.DB, login)
}

func getUser(ctx context.Context, q queryer, login string) (*models.User, error) {
	var (
		u      models.User
		dekID  sql.NullString
		parent sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT login, salt, verifier, dek_id, parent, created_at FROM users WHERE login = $1`,
		login,
	).Scan(&u.Login, &u.Salt, &u.Verifier, &dekID, &parent, &u.CreatedAt)
	if err != nil {
		return nil, mapErr("get user", err)
	}
	u.DEKID = dekID.String
	u.Parent = parent.String
	return &u, nil
}

// SaveChallenge stores a pending SRP challenge.
func (r *PostgresAuthRepository) SaveChallenge(ctx context.Context, c models.Challenge) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO srp_challenges (id, login, client_public, server_public, server_secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Login, c.ClientPublic, c.ServerPublic, c.ServerSecret, c.CreatedAt)
	return mapErr("save challenge", err)
}

// TakeChallenge deletes a challenge and returns it, so a challenge can be
// answered at most once even under concurrent proofs.
func (r *PostgresAuthRepository) TakeChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var c models.Challenge
	err := r.DB.QueryRowContext(ctx, `
		DELETE FROM srp_challenges WHERE id = $1
		RETURNING id, login, client_public, server_public, server_secret, created_at
	`, id).Scan(&c.ID, &c.Login, &c.ClientPublic, &c.ServerPublic, &c.ServerSecret, &c.CreatedAt)
	if err != nil {
		return nil, mapErr("take challenge", err)
	}
	return &c, nil
}
