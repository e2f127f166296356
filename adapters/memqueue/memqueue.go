package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

const defaultVisibilityTimeout = 90 * time.Second

var ErrClosed = errors.New("queue closed", j.C("ERR_8d3e1f6a0b9c2754"))

// New returns an in-memory TaskQueue shared by every consumer that calls Receive on it. A received task is hidden
// from other consumers until it is acknowledged or its visibility timeout passes, after which it is delivered again.
func New(opts ...Option) *Queue {
	opt := options{
		clock:             clock.RealClock{},
		visibilityTimeout: defaultVisibilityTimeout,
		pollFrequency:     10 * time.Millisecond,
	}

	for _, o := range opts {
		o(&opt)
	}

	return &Queue{
		opts: opt,
	}
}

type options struct {
	clock             clock.Clock
	visibilityTimeout time.Duration
	pollFrequency     time.Duration
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) {
		o.visibilityTimeout = d
	}
}

var _ profilesync.TaskQueue = (*Queue)(nil)

type entry struct {
	seq       int64
	task      profilesync.Task
	hiddenTil time.Time
}

type Queue struct {
	opts options

	mu      sync.Mutex
	closed  bool
	seq     int64
	entries []*entry
	// enqueued counts every task ever enqueued.
	enqueued int
}

func (q *Queue) Enqueue(ctx context.Context, t profilesync.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.seq++
	q.enqueued++
	q.entries = append(q.entries, &entry{
		seq:  q.seq,
		task: t,
	})

	return nil
}

func (q *Queue) Receive(ctx context.Context) (*profilesync.Task, profilesync.Ack, error) {
	for ctx.Err() == nil {
		t, ack, ok, err := q.next()
		if err != nil {
			return nil, nil, err
		}

		if ok {
			return t, ack, nil
		}

		timer := time.NewTimer(q.opts.pollFrequency)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	return nil, nil, ctx.Err()
}

func (q *Queue) next() (*profilesync.Task, profilesync.Ack, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, nil, false, ErrClosed
	}

	now := q.opts.clock.Now()
	for _, e := range q.entries {
		if now.Before(e.hiddenTil) {
			continue
		}

		e.hiddenTil = now.Add(q.opts.visibilityTimeout)
		seq := e.seq
		t := e.task

		return &t, func() error {
			return q.ack(seq)
		}, true, nil
	}

	return nil, nil, false, nil
}

func (q *Queue) ack(seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.seq != seq {
			continue
		}

		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return nil
	}

	// Already acknowledged.
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}

// Pending returns the tasks that have not been acknowledged.
func (q *Queue) Pending() []profilesync.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tasks []profilesync.Task
	for _, e := range q.entries {
		tasks = append(tasks, e.task)
	}

	return tasks
}

// Enqueued returns the number of tasks ever enqueued.
func (q *Queue) Enqueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.enqueued
}
