package db_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/keyvault/internal/db"
)

func TestInitPostgres_Unreachable(t *testing.T) {
	cases := []struct {
		name string
		dsn  string
	}{
		{"malformed DSN", "some=random"},
		{"empty DSN", ""},
		{"closed port", "postgres://keyvault@127.0.0.1:1/keyvault?sslmode=disable&connect_timeout=1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.InitPostgres(tc.dsn)
			if err == nil {
				t.Fatalf("InitPostgres(%q) connected to nothing", tc.dsn)
			}
			if !strings.Contains(err.Error(), "ping postgres") {
				t.Errorf("InitPostgres(%q) failed before ping: %v", tc.dsn, err)
			}
		})
	}
}

func TestApplySchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.ApplySchema(context.Background(), conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchema_Failure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnError(errors.New("permission denied for schema public"))

	err = db.ApplySchema(context.Background(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create schema")
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}
