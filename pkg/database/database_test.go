package database

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		url     string
		dialect Dialect
		dsn     string
	}{
		{"postgres://u:p@localhost:5432/aspace?sslmode=disable", DialectPostgres, "postgres://u:p@localhost:5432/aspace?sslmode=disable"},
		{"postgresql://localhost/aspace", DialectPostgres, "postgresql://localhost/aspace"},
		{"sqlite://./data/aspace.db", DialectSQLite, "./data/aspace.db"},
		{"sqlite::memory:", DialectSQLite, ":memory:"},
		{"file:./dev.db", DialectSQLite, "file:./dev.db"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			d, dsn, err := ParseURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, d)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}

func TestParseURL_Rejects(t *testing.T) {
	_, _, err := ParseURL("")
	assert.Error(t, err)

	_, _, err = ParseURL("mysql://root:secret@db/aspace")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestRebind(t *testing.T) {
	q := "SELECT id FROM contracts WHERE contract_type = ? AND status = ? LIMIT ?"
	assert.Equal(t, q, DialectSQLite.Rebind(q))
	assert.Equal(t,
		"SELECT id FROM contracts WHERE contract_type = $1 AND status = $2 LIMIT $3",
		DialectPostgres.Rebind(q))
}

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, DialectSQLite, db.Dialect)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE t (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO t (id) VALUES (?)`, "a")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO t (id) VALUES (?)`, "a")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), "got %v", err)
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))
	assert.False(t, IsUniqueViolation(nil))
}
