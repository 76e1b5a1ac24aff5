package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netbuddy/taskforge/internal/storage/storagetest"
)

func TestSQLiteStoreConformance(t *testing.T) {
	store, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	storagetest.Run(t, store)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	store, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))
}
