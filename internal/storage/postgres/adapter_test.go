package postgres

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/storage/storagetest"
)

// TestPostgresStorage runs against the database named by POSTGRES_TEST_URL.
// Every table is truncated first.
func TestPostgresStorage(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	store, err := NewPostgresStorage(url)
	require.NoError(t, err)
	defer store.Close()

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`TRUNCATE grants, crons, settings, builds, branches, commits, permissions, repositories, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	storagetest.Run(t, store)
}
