package sqlstore_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/luno/reflex/rpatterns"
	"github.com/luno/reflex/rsql"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/adaptertest"
	"github.com/Dipanshu-verma/profilesync/adapters/sqlstore"
)

func TestRunStore(t *testing.T) {
	adaptertest.RunRunStoreTest(t, func() profilesync.RunStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewRunStore(dbc, dbc, sqlstore.DefaultRunsTable)
	})
}

func TestProfileStore(t *testing.T) {
	adaptertest.RunProfileStoreTest(t, func() profilesync.ProfileStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewProfileStore(dbc, dbc, sqlstore.DefaultProfilesTable)
	})
}

func TestRunEvents(t *testing.T) {
	dbc := ConnectForTesting(t)
	events := rsql.NewEventsTable(sqlstore.DefaultEventsTable)
	store := sqlstore.NewRunStore(dbc, dbc, sqlstore.DefaultRunsTable, sqlstore.WithEvents(events))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := &profilesync.Run{
		ID:        "run-events",
		SubjectID: "ada@example.com",
		Status:    profilesync.StatusPending,
	}
	err := store.Store(ctx, r)
	jtest.RequireNil(t, err)

	r.Status = profilesync.StatusPersisting
	err = store.Store(ctx, r)
	jtest.RequireNil(t, err)

	// Only the lease changes so no event is expected.
	r.Lease.Holder = "worker-1"
	err = store.Store(ctx, r)
	jtest.RequireNil(t, err)

	r.Status = profilesync.StatusPersisted
	err = store.Store(ctx, r)
	jtest.RequireNil(t, err)

	cl, err := store.Stream()(ctx, "")
	jtest.RequireNil(t, err)

	expected := []profilesync.Status{
		profilesync.StatusPending,
		profilesync.StatusPersisting,
		profilesync.StatusPersisted,
	}
	for _, status := range expected {
		e, err := cl.Recv()
		jtest.RequireNil(t, err)
		require.Equal(t, "run-events", e.ForeignID)
		require.Equal(t, int(status), e.Type.ReflexType())
	}
}

func TestStreamWithoutEvents(t *testing.T) {
	store := sqlstore.NewRunStore(nil, nil, sqlstore.DefaultRunsTable)
	require.Nil(t, store.Stream())
}

func TestConsume(t *testing.T) {
	dbc := ConnectForTesting(t)
	events := rsql.NewEventsTable(sqlstore.DefaultEventsTable)
	store := sqlstore.NewRunStore(dbc, dbc, sqlstore.DefaultRunsTable, sqlstore.WithEvents(events))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := &profilesync.Run{
		ID:        "run-consume",
		SubjectID: "ada@example.com",
		Status:    profilesync.StatusPending,
	}
	err := store.Store(ctx, r)
	jtest.RequireNil(t, err)

	r.Status = profilesync.StatusPersisting
	err = store.Store(ctx, r)
	jtest.RequireNil(t, err)

	var seen []profilesync.Status
	err = store.Consume(ctx, "test-consumer", rpatterns.MemCursorStore(), func(ctx context.Context, runID string, status profilesync.Status) error {
		require.Equal(t, "run-consume", runID)
		seen = append(seen, status)
		if len(seen) == 2 {
			cancel()
		}

		return nil
	})
	jtest.Require(t, context.Canceled, err)
	require.Equal(t, []profilesync.Status{profilesync.StatusPending, profilesync.StatusPersisting}, seen)
}

func TestConsumeWithoutEvents(t *testing.T) {
	dbc := ConnectForTesting(t)
	store := sqlstore.NewRunStore(dbc, dbc, sqlstore.DefaultRunsTable)

	err := store.Consume(context.Background(), "test-consumer", rpatterns.MemCursorStore(), nil)
	jtest.Require(t, profilesync.ErrConfiguration, err)
}
