//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tendabike.dev/engine/internal/domain/usage"
)

func TestUsageStoreWriteReadDelete(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &UsageStore{Pool: pool}
	id := usage.NewID()

	require.NoError(t, store.Write(ctx, map[usage.ID]usage.Usage{
		id: {Time: 3600, Distance: 30000, Climb: 300, Descend: 300, Energy: 600, Count: 1},
	}))

	read, err := store.Read(ctx, []usage.ID{id})
	require.NoError(t, err)
	require.Equal(t, usage.Usage{Time: 3600, Distance: 30000, Climb: 300, Descend: 300, Energy: 600, Count: 1}, read[id])

	prior, err := store.Delete(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(3600), prior.Time)

	afterDelete, err := store.Read(ctx, []usage.ID{id})
	require.NoError(t, err)
	require.Equal(t, usage.Usage{}, afterDelete[id], "a deleted id reads back as zero-valued")
}

func TestUsageStoreReadMissingIDsReturnsZero(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &UsageStore{Pool: pool}
	read, err := store.Read(ctx, []usage.ID{usage.NewID()})
	require.NoError(t, err)
	require.Len(t, read, 1)
	for _, u := range read {
		require.Equal(t, usage.Usage{}, u)
	}
}

func TestUsageStoreWriteRejectsNegative(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &UsageStore{Pool: pool}
	err := store.Write(ctx, map[usage.ID]usage.Usage{usage.NewID(): {Distance: -1}})
	require.Error(t, err)
}

func TestUsageStoreResetAll(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &UsageStore{Pool: pool}
	id := usage.NewID()
	require.NoError(t, store.Write(ctx, map[usage.ID]usage.Usage{id: {Time: 100, Count: 1}}))

	require.NoError(t, store.ResetAll(ctx))

	read, err := store.Read(ctx, []usage.ID{id})
	require.NoError(t, err)
	require.Equal(t, usage.Usage{}, read[id])
}
