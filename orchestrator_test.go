package profilesync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/internal/metrics"
)

func TestCompletedRun(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "a@x.com", profilesync.ProfileFields{FirstName: "Old", LastName: "Name", City: "Pune"})
	o := h.start(t)
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.RunID("a@x.com", startTime), sr.RunID)

	awaiting := profilesync.Require(t, o, sr.RunID, profilesync.StatusAwaitingSync)
	require.True(t, startTime.Add(10*time.Second).Equal(awaiting.WakeAt))
	require.Equal(t, 0, h.sync.Calls())

	h.clock.Step(10 * time.Second)

	profilesync.Require(t, o, sr.RunID, profilesync.StatusCompleted)

	final, err := o.GetStatus(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.StatusCompleted, final.Status)
	require.Nil(t, final.LastError)
	require.NotNil(t, final.Result)

	expected := profilesync.ProfileFields{FirstName: "A", LastName: "B"}
	require.Equal(t, "a@x.com", final.Result.Profile.SubjectID)
	require.Equal(t, expected, final.Result.Profile.ProfileFields)
	require.Equal(t, 201, final.Result.Sync.StatusCode)
	require.Equal(t, 1, final.Result.Sync.Attempt)

	stored, err := h.profiles.Lookup(ctx, "a@x.com")
	jtest.RequireNil(t, err)
	require.Equal(t, expected, stored.ProfileFields)

	require.Equal(t, 1, h.sync.Calls())
	// The seeded profile and the single update.
	require.Equal(t, 2, h.profiles.Writes())
}

func TestSyncNotDispatchedBeforeDelay(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "a@x.com", profilesync.ProfileFields{FirstName: "A", LastName: "B"})
	o := h.start(t)
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	profilesync.Require(t, o, sr.RunID, profilesync.StatusAwaitingSync)

	h.clock.Step(9*time.Second + 999*time.Millisecond)

	// Give the wake poller a number of cycles to misbehave.
	time.Sleep(100 * time.Millisecond)

	r, err := h.runs.Lookup(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.StatusAwaitingSync, r.Status)
	require.Equal(t, 0, h.sync.Calls())

	h.clock.Step(time.Millisecond)

	syncing := profilesync.Require(t, o, sr.RunID, profilesync.StatusSyncing)
	require.False(t, syncing.DispatchedAt.Before(syncing.PersistedAt.Add(10*time.Second)))
}

func TestSyncRetriedThenFailed(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "a@x.com", profilesync.ProfileFields{FirstName: "A", LastName: "B"})
	h.sync.errs = []error{
		errors.Wrap(profilesync.ErrTransientNetwork, "connection reset"),
		errors.Wrap(profilesync.ErrNonSuccessStatus, "status 503"),
		errors.Wrap(profilesync.ErrTimeout, "deadline"),
		errors.Wrap(profilesync.ErrTransientNetwork, "never reached"),
	}
	o := h.start(t)
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	profilesync.Require(t, o, sr.RunID, profilesync.StatusAwaitingSync)
	h.clock.Step(10 * time.Second)

	backOffs := []time.Duration{time.Second, 2 * time.Second}
	for i, d := range backOffs {
		next := i + 2
		profilesync.WaitFor(t, o, sr.RunID, func(r *profilesync.Run) bool {
			return r.Attempt(profilesync.ActivitySyncExternal) == next && r.DispatchedAt.IsZero()
		})
		h.clock.Step(d)
	}

	failed := profilesync.Require(t, o, sr.RunID, profilesync.StatusFailed)
	require.Equal(t, 3, h.sync.Calls())
	require.Equal(t, &profilesync.RunError{
		Kind:     profilesync.KindTimeout,
		Message:  failed.LastError.Message,
		Activity: profilesync.ActivitySyncExternal,
		Attempt:  3,
	}, failed.LastError)

	final, err := o.GetStatus(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Nil(t, final.Result)
	require.Equal(t, 3, final.Attempts[profilesync.ActivitySyncExternal])
}

func TestSyncRecoversWithinRetryBudget(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "a@x.com", profilesync.ProfileFields{FirstName: "A", LastName: "B"})
	h.sync.errs = []error{errors.Wrap(profilesync.ErrTransientNetwork, "connection reset")}
	o := h.start(t)
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	profilesync.Require(t, o, sr.RunID, profilesync.StatusAwaitingSync)
	h.clock.Step(10 * time.Second)

	profilesync.WaitFor(t, o, sr.RunID, func(r *profilesync.Run) bool {
		return r.Attempt(profilesync.ActivitySyncExternal) == 2 && r.DispatchedAt.IsZero()
	})
	h.clock.Step(time.Second)

	profilesync.Require(t, o, sr.RunID, profilesync.StatusCompleted)

	final, err := o.GetStatus(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Nil(t, final.LastError)
	require.Equal(t, 2, final.Result.Sync.Attempt)
	require.Equal(t, 2, h.sync.Calls())
}

func TestConfigurationErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "a@x.com", profilesync.ProfileFields{FirstName: "A", LastName: "B"})
	o := h.orchestrator()
	w := h.worker(o, nil)

	ctx := context.Background()
	o.Run(ctx)
	w.Run(ctx)
	t.Cleanup(func() {
		w.Stop()
		o.Stop()
	})

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	profilesync.Require(t, o, sr.RunID, profilesync.StatusAwaitingSync)
	h.clock.Step(10 * time.Second)

	failed := profilesync.Require(t, o, sr.RunID, profilesync.StatusFailed)
	require.Equal(t, profilesync.KindConfiguration, failed.LastError.Kind)
	require.Equal(t, 1, failed.Attempt(profilesync.ActivitySyncExternal))
}

func TestPersistNotFoundFailsImmediately(t *testing.T) {
	h := newHarness(t)
	o := h.start(t)
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	final, err := o.Await(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.StatusFailed, final.Status)
	require.Equal(t, profilesync.KindNotFound, final.LastError.Kind)
	require.Equal(t, profilesync.ActivityPersistProfile, final.LastError.Activity)
	require.Equal(t, 1, final.Attempts[profilesync.ActivityPersistProfile])
	require.Zero(t, final.Attempts[profilesync.ActivitySyncExternal])
	require.Equal(t, 0, h.sync.Calls())
}

func TestStartRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator()
	ctx := context.Background()

	testCases := []struct {
		name string
		req  profilesync.ProfileUpdateRequest
	}{
		{
			name: "missing email",
			req:  profilesync.ProfileUpdateRequest{Fields: profilesync.ProfileFields{FirstName: "A", LastName: "B"}},
		},
		{
			name: "malformed email",
			req:  profilesync.ProfileUpdateRequest{SubjectID: "a.x.com", Fields: profilesync.ProfileFields{FirstName: "A", LastName: "B"}},
		},
		{
			name: "missing last name",
			req:  profilesync.ProfileUpdateRequest{SubjectID: "a@x.com", Fields: profilesync.ProfileFields{FirstName: "A"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Start(ctx, tc.req)
			jtest.Require(t, profilesync.ErrValidation, err)
		})
	}

	runs, err := h.runs.ListIncomplete(ctx)
	jtest.RequireNil(t, err)
	require.Empty(t, runs)
}

func TestConcurrentStartCreatesOneRun(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator()
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.RunsStarted)

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []*profilesync.StatusReport
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sr, err := o.Start(ctx, exampleRequest())
			if err != nil {
				t.Error(err)
				return
			}

			mu.Lock()
			reports = append(reports, sr)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, reports, callers)
	for _, sr := range reports {
		require.Equal(t, reports[0].RunID, sr.RunID)
	}

	runs, err := h.runs.ListIncomplete(ctx)
	jtest.RequireNil(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, profilesync.StatusPersisting, runs[0].Status)
	require.Len(t, h.queue.Pending(), 1)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.RunsStarted)-before)
}

func TestStaleReportIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "a@x.com", profilesync.ProfileFields{FirstName: "A", LastName: "B"})
	o := h.orchestrator()
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	r, err := h.runs.Lookup(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	task := profilesync.NewTestingTask(t, r)

	ok, err := o.Claim(ctx, task, "worker-1")
	jtest.RequireNil(t, err)
	require.True(t, ok)

	ok, err = o.Claim(ctx, task, "worker-2")
	jtest.RequireNil(t, err)
	require.False(t, ok)

	err = o.Report(ctx, profilesync.Invocation{
		RunID:        task.RunID,
		InvocationID: "some-other-invocation",
		Activity:     task.Activity,
		Attempt:      task.Attempt,
		Err:          errors.Wrap(profilesync.ErrValidation, "bad"),
	})
	jtest.RequireNil(t, err)

	latest, err := h.runs.Lookup(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.StatusPersisting, latest.Status)
	require.Nil(t, latest.LastError)
	require.Equal(t, "worker-1", latest.Lease.Holder)
}

func TestPersistRetriedOnTransientError(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator()
	ctx := context.Background()

	sr, err := o.Start(ctx, exampleRequest())
	jtest.RequireNil(t, err)

	r, err := h.runs.Lookup(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	task := profilesync.NewTestingTask(t, r)

	err = o.Report(ctx, profilesync.Invocation{
		RunID:        task.RunID,
		InvocationID: task.InvocationID,
		Activity:     task.Activity,
		Attempt:      task.Attempt,
		Err:          errors.New("database is restarting"),
	})
	jtest.RequireNil(t, err)

	backingOff, err := h.runs.Lookup(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.StatusPersisting, backingOff.Status)
	require.Equal(t, 2, backingOff.Attempt(profilesync.ActivityPersistProfile))
	require.Equal(t, profilesync.KindInternal, backingOff.LastError.Kind)
	require.True(t, startTime.Add(time.Second).Equal(backingOff.WakeAt))
	require.Empty(t, backingOff.Lease.InvocationID)

	// Not due yet.
	_, err = o.Resume(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Len(t, h.queue.Pending(), 1)

	h.clock.Step(time.Second)

	resumed, err := o.Resume(ctx, sr.RunID)
	jtest.RequireNil(t, err)
	require.Equal(t, profilesync.StatusPersisting, resumed.Status)
	require.Len(t, h.queue.Pending(), 2)

	tasks := h.queue.Pending()
	require.Equal(t, 2, tasks[1].Attempt)
	require.NotEqual(t, tasks[0].InvocationID, tasks[1].InvocationID)
}
