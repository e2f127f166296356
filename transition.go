package profilesync

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/Dipanshu-verma/profilesync/internal/metrics"
)

// mutation applies a change to the latest version of a run. It returns false when the run needs no change and may
// return a task that is only enqueued once the change has been stored.
type mutation func(r *Run, now time.Time) (bool, *Task, error)

// transition loads the run, applies fn and stores the result. A stale write reloads the run and applies fn again.
func (o *Orchestrator) transition(ctx context.Context, runID string, fn mutation) (*Run, bool, error) {
	for i := 0; ; i++ {
		r, err := o.store.Lookup(ctx, runID)
		if err != nil {
			return nil, false, err
		}

		from := r.Status
		now := o.clock.Now()

		changed, task, err := fn(r, now)
		if err != nil {
			return nil, false, err
		}

		if !changed {
			return r, false, nil
		}

		err = validateTransition(from, r.Status, o.statusGraph)
		if err != nil {
			return nil, false, errors.Wrap(ErrInvalidTransition, err.Error(), j.MKV{"run_id": runID})
		}

		r.UpdatedAt = now
		err = o.store.Store(ctx, r)
		if errors.Is(err, ErrConflict) {
			if i >= o.opts.maxConflictRetries {
				return nil, false, err
			}

			metrics.ConflictRetries.Inc()
			continue
		} else if err != nil {
			return nil, false, err
		}

		if from != r.Status {
			metrics.RunTransitions.WithLabelValues(from.String(), r.Status.String()).Inc()
			o.logger.Debug(ctx, "run transitioned", MKV{
				"run_id": r.ID,
				"from":   from.String(),
				"to":     r.Status.String(),
			})
		}

		// The task is only handed over once the store has acknowledged the dispatch. Should the enqueue fail the
		// lease expires and the wake poller dispatches the attempt again.
		if task != nil {
			err = o.queue.Enqueue(ctx, *task)
			if err != nil {
				return nil, false, errors.Wrap(err, "enqueue task", j.MKV{
					"run_id":   r.ID,
					"activity": string(task.Activity),
				})
			}
		}

		return r, true, nil
	}
}

// advance moves the run forward until it has to wait on a worker or a timer.
func (o *Orchestrator) advance(ctx context.Context, runID string) (*Run, error) {
	for {
		r, changed, err := o.transition(ctx, runID, o.nextStep)
		if err != nil {
			return nil, err
		}

		if !changed || r.Status.Terminal() {
			return r, nil
		}

		// A dispatched run waits on its worker.
		if !r.DispatchedAt.IsZero() {
			return r, nil
		}
	}
}

func (o *Orchestrator) nextStep(r *Run, now time.Time) (bool, *Task, error) {
	switch r.Status {
	case StatusPending:
		r.Status = StatusPersisting
		r.Attempts = map[Activity]int{ActivityPersistProfile: 1}
		return o.dispatch(r, now)

	case StatusPersisting, StatusSyncing:
		if r.DispatchedAt.IsZero() {
			// Waiting out the backoff of the next attempt.
			if !r.Due(now) {
				return false, nil, nil
			}

			return o.dispatch(r, now)
		}

		if r.Lease.Expired(now) {
			a, _ := r.Status.Activity()
			metrics.LeaseExpiries.WithLabelValues(string(a)).Inc()

			// Nobody claimed the task so it was lost before reaching a worker. The attempt is not charged.
			if r.Lease.Holder == "" {
				return o.dispatch(r, now)
			}

			o.expire(r, a, now)
			return true, nil, nil
		}

		return false, nil, nil

	case StatusPersisted:
		r.Status = StatusAwaitingSync
		r.WakeAt = r.PersistedAt.Add(o.opts.syncDelay)
		return true, nil, nil

	case StatusAwaitingSync:
		if now.Before(r.WakeAt) {
			return false, nil, nil
		}

		r.Status = StatusSyncing
		if r.Attempts == nil {
			r.Attempts = make(map[Activity]int)
		}
		r.Attempts[ActivitySyncExternal] = 1
		return o.dispatch(r, now)

	case StatusSynced:
		r.Status = StatusCompleted
		r.WakeAt = time.Time{}
		return true, nil, nil

	default:
		return false, nil, nil
	}
}

// expire records a claimed attempt whose holder went silent as a timed out attempt. It consumes the attempt so that
// a task that keeps killing its workers still fails the run once the retry budget is spent.
func (o *Orchestrator) expire(r *Run, a Activity, now time.Time) {
	inv := Invocation{
		RunID:        r.ID,
		InvocationID: r.Lease.InvocationID,
		Activity:     a,
		Attempt:      r.Attempt(a),
		StartedAt:    r.DispatchedAt,
		FinishedAt:   now,
		Err: errors.Wrap(ErrTimeout, "lease expired without a report", j.MKV{
			"holder": r.Lease.Holder,
		}),
		TimedOut: true,
	}

	r.Lease = Lease{}
	r.DispatchedAt = time.Time{}
	r.WakeAt = time.Time{}

	o.fail(r, inv, KindTimeout, now)
}

// dispatch leases a new invocation of the activity of the run's current status and builds its task.
func (o *Orchestrator) dispatch(r *Run, now time.Time) (bool, *Task, error) {
	a, ok := r.Status.Activity()
	if !ok {
		return false, nil, errors.Wrap(ErrUnknownActivity, "", j.MKV{"status": r.Status.String()})
	}

	payload, err := o.payload(r, a)
	if err != nil {
		return false, nil, err
	}

	lease := Lease{
		InvocationID: newInvocationID(),
		ExpiresAt:    now.Add(o.opts.activityTimeout + o.opts.leaseGrace),
	}

	r.Lease = lease
	r.DispatchedAt = now
	r.WakeAt = lease.ExpiresAt

	return true, &Task{
		RunID:        r.ID,
		InvocationID: lease.InvocationID,
		Activity:     a,
		Attempt:      r.Attempt(a),
		Payload:      payload,
		EnqueuedAt:   now,
	}, nil
}

func (o *Orchestrator) payload(r *Run, a Activity) ([]byte, error) {
	switch a {
	case ActivityPersistProfile:
		return Marshal(&r.Request)
	case ActivitySyncExternal:
		if r.Profile == nil {
			return nil, errors.New("run has no persisted profile to sync", j.MKV{"run_id": r.ID})
		}

		return Marshal(&SyncRequest{
			RunID:   r.ID,
			Attempt: r.Attempt(a),
			Profile: *r.Profile,
		})
	default:
		return nil, errors.Wrap(ErrUnknownActivity, "", j.MKV{"activity": string(a)})
	}
}
