// Package db opens the keystore's PostgreSQL database and keeps it tidy.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    login TEXT PRIMARY KEY,
    salt BYTEA,
    verifier BYTEA,
    dek_id TEXT,
    parent TEXT REFERENCES users(login) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS srp_challenges (
    id TEXT PRIMARY KEY,
    login TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
    client_public BYTEA NOT NULL,
    server_public BYTEA NOT NULL,
    server_secret BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS srp_challenges_created_at ON srp_challenges (created_at);

CREATE TABLE IF NOT EXISTS keks (
    owner TEXT PRIMARY KEY REFERENCES users(login) ON DELETE CASCADE,
    id TEXT NOT NULL UNIQUE,
    wrapped BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS deks (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
    wrapped BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS master_key_artifacts (
    owner TEXT PRIMARY KEY REFERENCES users(login) ON DELETE CASCADE,
    salt BYTEA NOT NULL,
    iterations INTEGER NOT NULL,
    token BYTEA NOT NULL,
    encrypted_token_and_salt BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS delegations (
    token TEXT PRIMARY KEY,
    owner TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
    delegate TEXT REFERENCES users(login) ON DELETE CASCADE,
    role TEXT NOT NULL,
    status TEXT NOT NULL,
    claimed_public_key BYTEA,
    signature BYTEA,
    encrypted_kek BYTEA,
    kek_wrapped_by_delegate BOOLEAN NOT NULL DEFAULT FALSE,
    delegate_wrapped_kek BYTEA,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shares (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    owner TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
    recipient TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
    recipient_public_key BYTEA NOT NULL,
    encrypted_dek BYTEA NOT NULL,
    slots JSONB NOT NULL DEFAULT '[]',
    version BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS shares_owner_item ON shares (owner, item_id);
CREATE INDEX IF NOT EXISTS shares_recipient ON shares (recipient);
`

// InitPostgres opens dsn, checks connectivity and applies the schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := ApplySchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// ApplySchema creates the keystore tables and indexes that do not exist yet.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
