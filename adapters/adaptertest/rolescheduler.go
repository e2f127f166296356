package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
)

type ctxKey string

func TestRoleScheduler(t *testing.T, factory func() profilesync.RoleScheduler) {
	tests := []func(t *testing.T, rs profilesync.RoleScheduler){
		testReturnedContext,
		testLocking,
		testReleasing,
	}

	for _, test := range tests {
		schedulerForTesting := factory()
		test(t, schedulerForTesting)
	}
}

func testReturnedContext(t *testing.T, rs profilesync.RoleScheduler) {
	t.Run("Ensure that the passed in context is a parent of the returned context", func(t *testing.T) {
		ctxWithValue := context.WithValue(context.Background(), ctxKey("parent"), "context")

		ctx, cancel, err := rs.Await(ctxWithValue, "wake-poller")
		jtest.RequireNil(t, err)

		t.Cleanup(cancel)

		require.Equal(t, "context", ctx.Value(ctxKey("parent")))
	})
}

func testLocking(t *testing.T, rs profilesync.RoleScheduler) {
	t.Run("Ensure role is locked and successive calls are blocked", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		_, release, err := rs.Await(ctx, "wake-poller")
		jtest.RequireNil(t, err)

		t.Cleanup(release)

		roleGained := make(chan bool, 1)
		go func() {
			_, _, err := rs.Await(ctx, "wake-poller")
			if err != nil {
				return
			}

			roleGained <- true
		}()

		select {
		case <-time.After(time.Second):
			// Role has not been released so the second caller must still be waiting.
		case <-roleGained:
			t.Fail()
		}
	})
}

func testReleasing(t *testing.T, rs profilesync.RoleScheduler) {
	t.Run("Ensure role is released on context cancellation", func(t *testing.T) {
		_, release, err := rs.Await(context.Background(), "recovery-sweep")
		jtest.RequireNil(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		roleGained := make(chan bool, 1)
		go func() {
			_, _, err := rs.Await(ctx, "recovery-sweep")
			if err != nil {
				return
			}

			roleGained <- true
		}()

		release()

		select {
		case <-time.After(3 * time.Second):
			t.Fail()
		case <-roleGained:
		}
	})
}
