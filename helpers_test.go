package profilesync_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/memprofilestore"
	"github.com/Dipanshu-verma/profilesync/adapters/memqueue"
	"github.com/Dipanshu-verma/profilesync/adapters/memrunstore"
)

var startTime = time.Date(2024, time.April, 19, 9, 30, 0, 0, time.UTC)

// fakeSync records every call and fails with the queued errors before succeeding.
type fakeSync struct {
	mu       sync.Mutex
	errs     []error
	requests []profilesync.SyncRequest
	clock    *clocktesting.FakeClock
}

func (f *fakeSync) Sync(ctx context.Context, req profilesync.SyncRequest) (*profilesync.SyncRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	return &profilesync.SyncRecord{
		StatusCode: 201,
		Response:   []byte(`{"_id":"65f0c1"}`),
		Attempt:    req.Attempt,
		SyncedAt:   f.clock.Now(),
	}, nil
}

func (f *fakeSync) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

type harness struct {
	clock    *clocktesting.FakeClock
	runs     *memrunstore.Store
	profiles *memprofilestore.Store
	queue    *memqueue.Queue
	sync     *fakeSync
}

func newHarness(t *testing.T) *harness {
	clock := clocktesting.NewFakeClock(startTime)
	return &harness{
		clock:    clock,
		runs:     memrunstore.New(memrunstore.WithClock(clock)),
		profiles: memprofilestore.New(memprofilestore.WithClock(clock)),
		queue:    memqueue.New(memqueue.WithClock(clock)),
		sync:     &fakeSync{clock: clock},
	}
}

func (h *harness) orchestrator(opts ...profilesync.Option) *profilesync.Orchestrator {
	defaults := []profilesync.Option{
		profilesync.WithClock(h.clock),
		profilesync.WithLogger(profilesync.NewJSONLogger(io.Discard)),
		profilesync.WithPollingFrequency(5 * time.Millisecond),
	}

	return profilesync.New(h.runs, h.queue, append(defaults, opts...)...)
}

func (h *harness) worker(coord profilesync.Coordinator, sync profilesync.SyncClient, opts ...profilesync.WorkerOption) *profilesync.Worker {
	defaults := []profilesync.WorkerOption{
		profilesync.WithWorkerClock(h.clock),
		profilesync.WithWorkerLogger(profilesync.NewJSONLogger(io.Discard)),
		profilesync.WithConcurrency(2),
	}

	return profilesync.NewProfileWorker(h.queue, coord, h.profiles, sync, append(defaults, opts...)...)
}

// start runs the orchestrator and a worker until the test ends.
func (h *harness) start(t *testing.T, opts ...profilesync.Option) *profilesync.Orchestrator {
	o := h.orchestrator(opts...)
	w := h.worker(o, h.sync)

	ctx := context.Background()
	o.Run(ctx)
	w.Run(ctx)
	t.Cleanup(func() {
		w.Stop()
		o.Stop()
	})

	return o
}

func (h *harness) seedProfile(t *testing.T, email string, f profilesync.ProfileFields) {
	_, err := h.profiles.Create(context.Background(), email, f)
	jtest.RequireNil(t, err)
}

func exampleRequest() profilesync.ProfileUpdateRequest {
	return profilesync.ProfileUpdateRequest{
		SubjectID: "a@x.com",
		Fields: profilesync.ProfileFields{
			FirstName: "A",
			LastName:  "B",
		},
		RequestedAt: startTime,
	}
}
