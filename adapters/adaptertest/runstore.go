package adaptertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
)

func RunRunStoreTest(t *testing.T, factory func() profilesync.RunStore) {
	tests := []func(t *testing.T, store profilesync.RunStore){
		testStoreAndLookup,
		testInsertExisting,
		testOptimisticConcurrency,
		testConcurrentWriters,
		testListIncomplete,
		testListWaking,
	}

	for _, test := range tests {
		storeForTesting := factory()
		test(t, storeForTesting)
	}
}

var baseTime = time.Date(2024, time.April, 19, 9, 30, 0, 0, time.UTC)

func newRun(id string, status profilesync.Status) *profilesync.Run {
	req := profilesync.ProfileUpdateRequest{
		SubjectID: id + "@example.com",
		Fields: profilesync.ProfileFields{
			FirstName: "Ada",
			LastName:  "Lovelace",
			City:      "London",
		},
		RequestedAt: baseTime,
	}

	return &profilesync.Run{
		ID:        id,
		SubjectID: req.SubjectID,
		Status:    status,
		Request:   req,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func requireRunEqual(t *testing.T, expected, actual *profilesync.Run) {
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.SubjectID, actual.SubjectID)
	require.Equal(t, expected.Status, actual.Status)
	require.Equal(t, expected.Version, actual.Version)
	require.Equal(t, expected.Request.SubjectID, actual.Request.SubjectID)
	require.Equal(t, expected.Request.Fields, actual.Request.Fields)
	require.True(t, expected.Request.RequestedAt.Equal(actual.Request.RequestedAt))
	require.Equal(t, expected.Attempts, actual.Attempts)
	require.Equal(t, expected.LastError, actual.LastError)
	require.True(t, expected.WakeAt.Equal(actual.WakeAt))
	require.Equal(t, expected.Lease.InvocationID, actual.Lease.InvocationID)
	require.Equal(t, expected.Lease.Holder, actual.Lease.Holder)
	require.True(t, expected.CreatedAt.Equal(actual.CreatedAt))
}

func testStoreAndLookup(t *testing.T, store profilesync.RunStore) {
	t.Run("Store inserts then updates and Lookup returns the latest version", func(t *testing.T) {
		ctx := context.Background()

		_, err := store.Lookup(ctx, "missing")
		jtest.Require(t, profilesync.ErrRunNotFound, err)

		r := newRun("run-lookup", profilesync.StatusPending)
		r.WakeAt = baseTime
		err = store.Store(ctx, r)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(1), r.Version)

		actual, err := store.Lookup(ctx, r.ID)
		jtest.RequireNil(t, err)
		requireRunEqual(t, r, actual)

		actual.Status = profilesync.StatusPersisting
		actual.Attempts = map[profilesync.Activity]int{profilesync.ActivityPersistProfile: 1}
		actual.Lease = profilesync.Lease{InvocationID: "inv-1", ExpiresAt: baseTime.Add(time.Minute)}
		actual.LastError = &profilesync.RunError{
			Kind:     profilesync.KindTransientNetwork,
			Message:  "connection reset",
			Activity: profilesync.ActivityPersistProfile,
			Attempt:  1,
		}
		err = store.Store(ctx, actual)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(2), actual.Version)

		latest, err := store.Lookup(ctx, r.ID)
		jtest.RequireNil(t, err)
		requireRunEqual(t, actual, latest)
	})
}

func testInsertExisting(t *testing.T, store profilesync.RunStore) {
	t.Run("Inserting a run that exists returns ErrRunExists", func(t *testing.T) {
		ctx := context.Background()

		err := store.Store(ctx, newRun("run-exists", profilesync.StatusPending))
		jtest.RequireNil(t, err)

		err = store.Store(ctx, newRun("run-exists", profilesync.StatusPending))
		jtest.Require(t, profilesync.ErrRunExists, err)
	})
}

func testOptimisticConcurrency(t *testing.T, store profilesync.RunStore) {
	t.Run("A write against a stale version returns ErrConflict", func(t *testing.T) {
		ctx := context.Background()

		err := store.Store(ctx, newRun("run-conflict", profilesync.StatusPending))
		jtest.RequireNil(t, err)

		a, err := store.Lookup(ctx, "run-conflict")
		jtest.RequireNil(t, err)

		b, err := store.Lookup(ctx, "run-conflict")
		jtest.RequireNil(t, err)

		a.Status = profilesync.StatusPersisting
		err = store.Store(ctx, a)
		jtest.RequireNil(t, err)

		b.Status = profilesync.StatusPersisting
		err = store.Store(ctx, b)
		jtest.Require(t, profilesync.ErrConflict, err)

		latest, err := store.Lookup(ctx, "run-conflict")
		jtest.RequireNil(t, err)
		require.Equal(t, a.Version, latest.Version)
	})
}

func testConcurrentWriters(t *testing.T, store profilesync.RunStore) {
	t.Run("Exactly one of many concurrent writers of the same version succeeds", func(t *testing.T) {
		ctx := context.Background()

		err := store.Store(ctx, newRun("run-race", profilesync.StatusPending))
		jtest.RequireNil(t, err)

		const writers = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			r, err := store.Lookup(ctx, "run-race")
			jtest.RequireNil(t, err)

			wg.Add(1)
			go func(r *profilesync.Run, holder string) {
				defer wg.Done()

				r.Lease.Holder = holder
				err := store.Store(ctx, r)

				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else if errors.Is(err, profilesync.ErrConflict) {
					conflicts++
				}
			}(r, fmt.Sprintf("worker-%d", i))
		}
		wg.Wait()

		require.Equal(t, 1, succeeded)
		require.Equal(t, writers-1, conflicts)
	})
}

func testListIncomplete(t *testing.T, store profilesync.RunStore) {
	t.Run("ListIncomplete returns every run that is not terminal", func(t *testing.T) {
		ctx := context.Background()

		statuses := []profilesync.Status{
			profilesync.StatusPending,
			profilesync.StatusPersisting,
			profilesync.StatusAwaitingSync,
			profilesync.StatusCompleted,
			profilesync.StatusFailed,
			profilesync.StatusSyncing,
		}
		for i, s := range statuses {
			err := store.Store(ctx, newRun(fmt.Sprintf("run-%d", i), s))
			jtest.RequireNil(t, err)
		}

		runs, err := store.ListIncomplete(ctx)
		jtest.RequireNil(t, err)

		var ids []string
		for _, r := range runs {
			require.False(t, r.Status.Terminal())
			ids = append(ids, r.ID)
		}

		require.ElementsMatch(t, []string{"run-0", "run-1", "run-2", "run-5"}, ids)
	})
}

func testListWaking(t *testing.T, store profilesync.RunStore) {
	t.Run("ListWaking returns incomplete runs with a WakeAt at or before the given time", func(t *testing.T) {
		ctx := context.Background()

		due := newRun("run-due", profilesync.StatusAwaitingSync)
		due.WakeAt = baseTime.Add(10 * time.Second)

		exact := newRun("run-exact", profilesync.StatusPersisting)
		exact.WakeAt = baseTime.Add(20 * time.Second)

		later := newRun("run-later", profilesync.StatusAwaitingSync)
		later.WakeAt = baseTime.Add(time.Minute)

		noWake := newRun("run-no-wake", profilesync.StatusSyncing)

		done := newRun("run-done", profilesync.StatusCompleted)
		done.WakeAt = baseTime

		for _, r := range []*profilesync.Run{due, exact, later, noWake, done} {
			err := store.Store(ctx, r)
			jtest.RequireNil(t, err)
		}

		runs, err := store.ListWaking(ctx, baseTime.Add(20*time.Second))
		jtest.RequireNil(t, err)

		var ids []string
		for _, r := range runs {
			ids = append(ids, r.ID)
		}

		require.ElementsMatch(t, []string{"run-due", "run-exact"}, ids)
	})
}
