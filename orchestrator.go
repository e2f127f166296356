package profilesync

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync/internal/graph"
	"github.com/Dipanshu-verma/profilesync/internal/metrics"
)

// Orchestrator drives every run through persist, delay and sync. All of its state lives in the RunStore which means
// that any number of Orchestrators may share a store and any of them may pick up a run after another one crashed.
type Orchestrator struct {
	store  RunStore
	queue  TaskQueue
	clock  clock.Clock
	logger *logger
	opts   options

	statusGraph *graph.Graph

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	processStates
}

func New(store RunStore, queue TaskQueue, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	l := o.logger
	if l == nil {
		l = NewJSONLogger(os.Stdout)
	}

	return &Orchestrator{
		store: store,
		queue: queue,
		clock: o.clock,
		logger: &logger{
			debugMode: o.debugMode,
			inner:     l,
		},
		opts:        o,
		statusGraph: statusGraph(),
	}
}

// Start creates the run for the request and dispatches its first step. Starting a request that already has a run
// returns the existing run. An invalid request is rejected with ErrValidation and no run is created.
func (o *Orchestrator) Start(ctx context.Context, req ProfileUpdateRequest) (*StatusReport, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = o.clock.Now()
	}

	err := req.Validate()
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	r := &Run{
		ID:        RunID(req.SubjectID, req.RequestedAt),
		SubjectID: req.SubjectID,
		Status:    StatusPending,
		Request:   req,
		WakeAt:    now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = o.store.Store(ctx, r)
	if errors.Is(err, ErrRunExists) {
		o.logger.Debug(ctx, "run already exists", MKV{"run_id": r.ID})
		return o.GetStatus(ctx, r.ID)
	} else if err != nil {
		return nil, err
	}

	metrics.RunsStarted.Inc()
	o.logger.Debug(ctx, "run created", MKV{
		"run_id": r.ID,
		"email":  r.SubjectID,
	})

	latest, err := o.advance(ctx, r.ID)
	if err != nil {
		// The run is stored with a WakeAt in the past so the wake poller dispatches it.
		o.logger.Error(ctx, errors.Wrap(err, "dispatch first step", j.MKV{"run_id": r.ID}))
		return newStatusReport(r), nil
	}

	return newStatusReport(latest), nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (*StatusReport, error) {
	r, err := o.store.Lookup(ctx, runID)
	if err != nil {
		return nil, err
	}

	return newStatusReport(r), nil
}

// Await blocks until the run reaches a terminal status or the context is cancelled.
func (o *Orchestrator) Await(ctx context.Context, runID string) (*StatusReport, error) {
	for {
		sr, err := o.GetStatus(ctx, runID)
		if err != nil {
			return nil, err
		}

		if sr.Status.Terminal() {
			return sr, nil
		}

		err = wait(ctx, o.opts.pollingFrequency)
		if err != nil {
			return nil, err
		}
	}
}

// Resume continues a single run from its last durably recorded step.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*StatusReport, error) {
	r, err := o.advance(ctx, runID)
	if err != nil {
		return nil, err
	}

	return newStatusReport(r), nil
}

// ResumeAll continues every incomplete run. It is called on startup and by the recovery sweep. A run that fails to
// advance is logged and skipped. The first such error is returned once every run has been visited.
func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	runs, err := o.store.ListIncomplete(ctx)
	if err != nil {
		return err
	}

	var (
		delayed  int
		failed   int
		firstErr error
	)
	for _, r := range runs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		latest, err := o.advance(ctx, r.ID)
		if err != nil {
			err = errors.Wrap(err, "resume run", j.MKV{"run_id": r.ID})
			o.logger.Error(ctx, err)
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}

		if latest.Status == StatusAwaitingSync {
			delayed++
		}
	}

	metrics.RunsDelayed.Set(float64(delayed))

	if firstErr != nil {
		return errors.Wrap(firstErr, "resume runs", j.MKV{"failed": failed, "total": len(runs)})
	}

	return nil
}

// Run starts the wake poller and the recovery sweep in the background. Run only needs to be called once and any
// subsequent calls are a noop.
func (o *Orchestrator) Run(ctx context.Context) {
	o.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		o.ctx = ctx
		o.cancel = cancel

		o.launch(makeRole("profilesync", "wake", "poller"), "wake-poller", o.pollWaking)
		o.launch(makeRole("profilesync", "recovery", "sweep"), "recovery-sweep", o.sweep)
	})
}

func (o *Orchestrator) launch(role, processName string, process func(ctx context.Context) error) {
	o.updateState(processName, StateIdle)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		runProcess(o.ctx, role, processName, &o.processStates, o.opts.scheduler.Await, process, o.logger, o.clock, o.opts.errBackOff)
	}()
}

// Stop cancels the background processes and waits for them to shut down.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}

	o.cancel()
	o.wg.Wait()
}

// pollWaking advances runs whose WakeAt has passed: runs that finished their delay, runs whose backoff has elapsed
// and dispatched attempts whose lease expired.
func (o *Orchestrator) pollWaking(ctx context.Context) error {
	for {
		runs, err := o.store.ListWaking(ctx, o.clock.Now())
		if err != nil {
			return err
		}

		for _, r := range runs {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			_, err := o.advance(ctx, r.ID)
			if err != nil {
				// NoReturnErr: The run stays waking and is picked up again on the next poll.
				o.logger.Error(ctx, errors.Wrap(err, "advance waking run", j.MKV{"run_id": r.ID}))
				metrics.ProcessErrors.WithLabelValues("wake-poller").Inc()
			}
		}

		err = wait(ctx, o.opts.pollingFrequency)
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) error {
	schedule, err := cron.ParseStandard(o.opts.recoverySchedule)
	if err != nil {
		return errors.Wrap(ErrConfiguration, "invalid recovery schedule", j.MKV{
			"schedule": o.opts.recoverySchedule,
			"error":    err.Error(),
		})
	}

	for {
		err := o.ResumeAll(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		} else if err != nil {
			// NoReturnErr: Failed runs were logged by ResumeAll and are retried on the next sweep.
			metrics.ProcessErrors.WithLabelValues("recovery-sweep").Inc()
		}

		err = waitUntil(ctx, o.clock, schedule.Next(o.clock.Now()))
		if err != nil {
			return err
		}
	}
}

// Claim implements Coordinator.
func (o *Orchestrator) Claim(ctx context.Context, t Task, holder string) (bool, error) {
	_, _, err := o.transition(ctx, t.RunID, func(r *Run, now time.Time) (bool, *Task, error) {
		if !isCurrent(r, t.Activity, t.InvocationID, t.Attempt) {
			return false, nil, errNotCurrent
		}

		if r.Lease.Holder != "" && r.Lease.Holder != holder && r.Lease.Active(now) {
			return false, nil, errNotCurrent
		}

		r.Lease.Holder = holder
		r.Lease.ExpiresAt = now.Add(o.opts.activityTimeout + o.opts.leaseGrace)
		r.WakeAt = r.Lease.ExpiresAt
		return true, nil, nil
	})
	if errors.Is(err, errNotCurrent) || errors.Is(err, ErrRunNotFound) {
		o.logger.Debug(ctx, "invocation not claimable", MKV{
			"run_id":        t.RunID,
			"invocation_id": t.InvocationID,
			"holder":        holder,
		})
		return false, nil
	} else if err != nil {
		return false, err
	}

	return true, nil
}

// Report implements Coordinator. Reports for invocations that are no longer current are ignored.
func (o *Orchestrator) Report(ctx context.Context, inv Invocation) error {
	kind := Classify(inv.Err)
	if inv.TimedOut {
		kind = KindTimeout
	}

	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	metrics.ActivityAttempts.WithLabelValues(string(inv.Activity), outcome).Inc()

	_, changed, err := o.transition(ctx, inv.RunID, func(r *Run, now time.Time) (bool, *Task, error) {
		if !isCurrent(r, inv.Activity, inv.InvocationID, inv.Attempt) {
			return false, nil, nil
		}

		r.Lease = Lease{}
		r.DispatchedAt = time.Time{}
		r.WakeAt = time.Time{}

		if kind == "" {
			err := o.complete(r, inv, now)
			if err == nil {
				return true, nil, nil
			}

			// An undecodable result is treated like any other failed attempt.
			inv.Err = err
			kind = KindInternal
		}

		o.fail(r, inv, kind, now)
		return true, nil, nil
	})
	if errors.Is(err, ErrRunNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if !changed {
		o.logger.Debug(ctx, "ignoring report for stale invocation", MKV{
			"run_id":        inv.RunID,
			"invocation_id": inv.InvocationID,
			"activity":      string(inv.Activity),
		})
		return nil
	}

	_, err = o.advance(ctx, inv.RunID)
	return err
}

func (o *Orchestrator) complete(r *Run, inv Invocation, now time.Time) error {
	r.LastError = nil

	switch inv.Activity {
	case ActivityPersistProfile:
		var p PersistedProfile
		err := Unmarshal(inv.Result, &p)
		if err != nil {
			return errors.Wrap(err, "decode persisted profile")
		}

		r.Profile = &p
		r.PersistedAt = now
		r.Status = StatusPersisted
		return nil
	case ActivitySyncExternal:
		var rec SyncRecord
		err := Unmarshal(inv.Result, &rec)
		if err != nil {
			return errors.Wrap(err, "decode sync record")
		}

		r.Sync = &rec
		r.Status = StatusSynced
		return nil
	default:
		return errors.Wrap(ErrUnknownActivity, "", j.MKV{"activity": string(inv.Activity)})
	}
}

func (o *Orchestrator) fail(r *Run, inv Invocation, kind ErrorKind, now time.Time) {
	msg := "attempt exceeded its timeout"
	if inv.Err != nil {
		msg = inv.Err.Error()
	}

	r.LastError = &RunError{
		Kind:     kind,
		Message:  msg,
		Activity: inv.Activity,
		Attempt:  inv.Attempt,
	}

	policy := o.opts.retry[inv.Activity]
	if !kind.Retriable() || policy.Exhausted(inv.Attempt) {
		r.Status = StatusFailed
		return
	}

	if r.Attempts == nil {
		r.Attempts = make(map[Activity]int)
	}

	r.Attempts[inv.Activity] = inv.Attempt + 1
	r.WakeAt = now.Add(policy.BackOff(inv.Attempt))
}

func isCurrent(r *Run, a Activity, invocationID string, attempt int) bool {
	active, ok := r.Status.Activity()
	if !ok || active != a {
		return false
	}

	return r.Lease.InvocationID == invocationID && r.Attempt(a) == attempt
}

var errNotCurrent = errors.New("invocation is not current")
