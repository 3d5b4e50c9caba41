// Package storagetest provides a throwaway SQLite-backed store for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"newhome-tracker/storage"
)

// NewStore opens a migrated store in the test's temp dir and closes it on cleanup.
func NewStore(t testing.TB) *storage.SQLStore {
	t.Helper()

	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "listings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
