package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/storage/storagetest"
)

func TestSQLiteStorage(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "ci.db"))
	require.NoError(t, err)
	defer store.Close()

	storagetest.Run(t, store)
}

func TestMigrateIsRepeatable(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "ci.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
}
