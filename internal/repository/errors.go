// Package repository provides persistence implementations for the keystore
// services, backed by PostgreSQL or process memory.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/atinyakov/keyvault/internal/apierrors"
)

// PostgreSQL SQLSTATE codes mapped onto apierrors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapErr translates driver errors into apierrors sentinels, keeping the
// original error in the chain.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apierrors.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w: %v", op, apierrors.ErrConflict, err)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w: %v", op, apierrors.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
