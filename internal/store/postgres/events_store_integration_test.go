//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tendabike.dev/engine/internal/domain/events"
	"tendabike.dev/engine/internal/domain/person"
)

func TestEventStoreInsertOldestDelete(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &EventStore{Pool: pool}
	owner := person.ID(5)
	now := time.Now().UTC().Truncate(time.Second)

	inserted, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectActivity, ObjectID: 100, AspectType: events.AspectCreate,
		Owner: owner, EventTime: now,
	})
	require.NoError(t, err)
	require.NotZero(t, inserted.ID)

	oldest, err := store.Oldest(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	require.Equal(t, inserted.ID, oldest.ID)

	require.NoError(t, store.Delete(ctx, inserted.ID))

	empty, err := store.Oldest(ctx, owner)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestEventStoreOldestPrioritizesStopOverEarlierEventTime(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &EventStore{Pool: pool}
	owner := person.ID(6)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectActivity, ObjectID: 1, AspectType: events.AspectCreate,
		Owner: owner, EventTime: now,
	})
	require.NoError(t, err)

	stop, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectStop, Owner: owner, EventTime: now.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	oldest, err := store.Oldest(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	require.Equal(t, stop.ID, oldest.ID, "a queued stop barrier outranks an earlier event_time")
}

func TestEventStoreOldestScopesToOwnerAndGlobalOwner(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &EventStore{Pool: pool}
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectSync, Owner: events.GlobalOwner, EventTime: now,
	})
	require.NoError(t, err)

	oldest, err := store.Oldest(ctx, person.ID(123))
	require.NoError(t, err)
	require.NotNil(t, oldest, "a global-owner event is visible to every user's queue")
}

func TestEventStoreSetEventTime(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &EventStore{Pool: pool}
	owner := person.ID(7)
	now := time.Now().UTC().Truncate(time.Second)

	inserted, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectStop, Owner: owner, EventTime: now,
	})
	require.NoError(t, err)

	later := now.Add(time.Hour)
	require.NoError(t, store.SetEventTime(ctx, inserted.ID, later))

	oldest, err := store.Oldest(ctx, owner)
	require.NoError(t, err)
	require.True(t, oldest.EventTime.Equal(later))
}

func TestEventStoreCollapseDuplicates(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	store := &EventStore{Pool: pool}
	owner := person.ID(8)
	now := time.Now().UTC().Truncate(time.Second)

	older, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectActivity, ObjectID: 42, AspectType: events.AspectUpdate,
		Owner: owner, EventTime: now,
	})
	require.NoError(t, err)
	newer, err := store.Insert(ctx, events.Event{
		ObjectType: events.ObjectActivity, ObjectID: 42, AspectType: events.AspectUpdate,
		Owner: owner, EventTime: now.Add(time.Minute),
	})
	require.NoError(t, err)

	survivor, err := store.CollapseDuplicates(ctx, 42, owner)
	require.NoError(t, err)
	require.Equal(t, newer.ID, survivor.ID)

	oldest, err := store.Oldest(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	require.Equal(t, newer.ID, oldest.ID)
	require.NotEqual(t, older.ID, oldest.ID)
}
