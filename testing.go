package profilesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Require blocks until the run has been stored with the provided status and returns that version of the run. The
// Orchestrator's RunStore must implement TestingRunStore.
func Require(t testing.TB, o *Orchestrator, runID string, status Status) *Run {
	if t == nil {
		panic("Require can only be used for testing")
	}

	if !o.statusGraph.IsValid(int(status)) {
		t.Errorf(`Status provided is not part of the run lifecycle: "%v"`, status)
		return nil
	}

	return WaitFor(t, o, runID, func(r *Run) bool {
		return r.Status == status
	})
}

// WaitFor blocks until a stored version of the run satisfies fn and returns the first such version.
func WaitFor(t testing.TB, o *Orchestrator, runID string, fn func(r *Run) bool) *Run {
	if t == nil {
		panic("WaitFor can only be used for testing")
	}

	testingStore, ok := o.store.(TestingRunStore)
	if !ok {
		panic("TestingRunStore implementation for run store dependency required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		for _, r := range testingStore.Snapshots(runID) {
			if fn(r) {
				return r
			}
		}

		if ctx.Err() != nil {
			require.FailNow(t, "timed out waiting for run", "run_id: %v", runID)
			return nil
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// NewTestingTask builds the task the Orchestrator would enqueue for the run's current invocation.
func NewTestingTask(t testing.TB, r *Run) Task {
	if t == nil {
		panic("NewTestingTask can only be used for testing")
	}

	a, ok := r.Status.Activity()
	require.True(t, ok, "run has no activity in flight")

	var payload []byte
	var err error
	switch a {
	case ActivityPersistProfile:
		payload, err = Marshal(&r.Request)
	case ActivitySyncExternal:
		payload, err = Marshal(&SyncRequest{RunID: r.ID, Attempt: r.Attempt(a), Profile: *r.Profile})
	}
	require.NoError(t, err)

	return Task{
		RunID:        r.ID,
		InvocationID: r.Lease.InvocationID,
		Activity:     a,
		Attempt:      r.Attempt(a),
		Payload:      payload,
		EnqueuedAt:   r.DispatchedAt,
	}
}
