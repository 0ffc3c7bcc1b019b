//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tendabike.dev/engine/internal/domain/attachment"
	"tendabike.dev/engine/internal/domain/clock"
	"tendabike.dev/engine/internal/domain/maintenance"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

func TestMaintenanceStoreCreateGetUpdateDelete(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &MaintenanceStore{Pool: pool}
	owner := person.ID(1)
	p := seedPart(t, ctx, pool, owner, types.PartChain)
	started := time.Now().UTC().Truncate(time.Second)

	created, err := store.Create(ctx, maintenance.Service{PartID: p, Started: started, Notes: "new chain"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Nil(t, created.Ended)

	fetched, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "new chain", fetched.Notes)

	ended := started.Add(24 * time.Hour)
	fetched.Ended = &ended
	fetched.Notes = "worn out"
	updated, err := store.Update(ctx, fetched)
	require.NoError(t, err)
	require.NotNil(t, updated.Ended)
	require.Equal(t, "worn out", updated.Notes)

	require.NoError(t, store.Delete(ctx, created.ID))
	require.Error(t, store.Delete(ctx, created.ID))
}

func TestMaintenanceStoreForPartAndOverlappingWindow(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &MaintenanceStore{Pool: pool}
	owner := person.ID(2)
	p := seedPart(t, ctx, pool, owner, types.PartChain)
	start := time.Now().UTC().Truncate(time.Second)

	_, err := store.Create(ctx, maintenance.Service{PartID: p, Started: start, Notes: "first"})
	require.NoError(t, err)

	overlapping, err := store.OverlappingWindow(ctx, p, start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, overlapping, 1, "an open service always overlaps anything at or after its start")

	notOverlapping, err := store.OverlappingWindow(ctx, p, start.Add(-48*time.Hour), start.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, notOverlapping)

	list, err := store.ForPart(ctx, p)
	require.NoError(t, err)
	require.Len(t, list, 1)

	count, err := store.CountForPart(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMaintenanceStoreRecomputeUsage(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	maintStore := &MaintenanceStore{Pool: pool}
	attStore := &AttachmentStore{Pool: pool}
	owner := person.ID(3)
	gear := seedPart(t, ctx, pool, owner, types.PartBike)
	chain := seedPart(t, ctx, pool, owner, types.PartChain)
	start := time.Now().UTC().Truncate(time.Second)

	_, err := attStore.Insert(ctx, attachment.Attachment{
		PartID: chain, Attached: start, Gear: gear, Hook: types.PartChain, Detached: clock.MaxInstant,
	})
	require.NoError(t, err)

	svc, err := maintStore.Create(ctx, maintenance.Service{PartID: chain, Started: start, Notes: "tracking wear"})
	require.NoError(t, err)

	u, err := maintStore.RecomputeUsage(ctx, svc, start.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, usage.Usage{}, u, "no activities were recorded against gear in this window yet")
}

func TestMaintenanceStorePlans(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &MaintenanceStore{Pool: pool}
	owner := person.ID(4)
	p := seedPart(t, ctx, pool, owner, types.PartChain)

	byType, err := store.CreatePlan(ctx, maintenance.Plan{
		Owner: owner, PartType: typePtr(types.PartChain), Notes: "replace every 3000km",
		Thresholds: usage.Usage{Distance: 3000000},
	})
	require.NoError(t, err)
	require.NotZero(t, byType.ID)
	require.Nil(t, byType.PartID)
	require.NotNil(t, byType.PartType)

	byPart, err := store.CreatePlan(ctx, maintenance.Plan{
		Owner: owner, PartID: &p, Notes: "specific part plan",
		Thresholds: usage.Usage{Time: 3600},
	})
	require.NoError(t, err)

	userPlans, err := store.PlansForUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, userPlans, 2)

	partPlans, err := store.PlansForPart(ctx, p)
	require.NoError(t, err)
	require.Len(t, partPlans, 2, "a part matches both its own plan and any plan scoped to its type")

	count, err := store.CountPlansForPart(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 1, count, "only the plan scoped to the part itself references it")

	_ = byPart
}

func typePtr(t types.PartTypeID) *types.PartTypeID { return &t }
