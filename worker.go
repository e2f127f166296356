package profilesync

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync/internal/metrics"
)

// Handler executes one attempt of an activity. The context is cancelled when the attempt exceeds its timeout.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Worker pulls tasks from the queue and executes the registered handler of each. Workers never decide whether an
// attempt is retried: every outcome is reported to the Coordinator.
type Worker struct {
	id       string
	queue    TaskQueue
	coord    Coordinator
	handlers map[Activity]Handler
	clock    clock.Clock
	logger   *logger
	opts     workerOptions

	inFlightMu sync.Mutex
	inFlight   map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	processStates
}

func NewWorker(queue TaskQueue, coord Coordinator, opts ...WorkerOption) *Worker {
	o := defaultWorkerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.id == "" {
		o.id = "worker-" + uuid.NewString()
	}

	if o.concurrency < 1 {
		o.concurrency = 1
	}

	l := o.logger
	if l == nil {
		l = NewJSONLogger(os.Stdout)
	}

	return &Worker{
		id:       o.id,
		queue:    queue,
		coord:    coord,
		handlers: make(map[Activity]Handler),
		clock:    o.clock,
		logger: &logger{
			debugMode: o.debugMode,
			inner:     l,
		},
		opts:     o,
		inFlight: make(map[string]bool),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Register must be called before Run.
func (w *Worker) Register(a Activity, h Handler) {
	w.handlers[a] = h
}

// Run starts the configured number of consumers in the background. Run only needs to be called once and any
// subsequent calls are a noop.
func (w *Worker) Run(ctx context.Context) {
	w.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		w.ctx = ctx
		w.cancel = cancel

		for i := 1; i <= w.opts.concurrency; i++ {
			processName := makeRole(w.id, "consumer", fmt.Sprintf("%v", i), "of", fmt.Sprintf("%v", w.opts.concurrency))
			w.updateState(processName, StateIdle)
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				runProcess(w.ctx, processName, processName, &w.processStates, localScheduler{}.Await, w.consume, w.logger, w.clock, w.opts.errBackOff)
			}()
		}
	})
}

// Stop cancels the consumers and waits for them to exit. Attempts still executing are abandoned without being
// reported and are dispatched again once their lease expires.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}

	w.cancel()
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		t, ack, err := w.queue.Receive(ctx)
		if err != nil {
			return err
		}

		pushTaskLag(w.id, t.Activity, t.EnqueuedAt, w.opts.lagAlert, w.clock)

		err = w.handle(ctx, t, ack)
		if err != nil {
			return err
		}
	}
}

func (w *Worker) handle(ctx context.Context, t *Task, ack Ack) error {
	if !w.begin(t.InvocationID) {
		// Redelivery of an invocation this worker is already executing.
		return ack()
	}
	defer w.end(t.InvocationID)

	ok, err := w.coord.Claim(ctx, *t, w.id)
	if err != nil {
		return err
	}

	if !ok {
		w.logger.Debug(ctx, "dropping task", MKV{
			"run_id":        t.RunID,
			"invocation_id": t.InvocationID,
			"activity":      string(t.Activity),
		})
		return ack()
	}

	inv := w.execute(ctx, t)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	err = w.coord.Report(ctx, inv)
	if err != nil {
		return err
	}

	return ack()
}

func (w *Worker) begin(invocationID string) bool {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()

	if w.inFlight[invocationID] {
		return false
	}

	w.inFlight[invocationID] = true
	return true
}

func (w *Worker) end(invocationID string) {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()

	delete(w.inFlight, invocationID)
}

type outcome struct {
	result []byte
	err    error
}

// execute runs the handler under the activity timeout. The handler is abandoned when the timeout fires.
func (w *Worker) execute(ctx context.Context, t *Task) Invocation {
	inv := Invocation{
		RunID:        t.RunID,
		InvocationID: t.InvocationID,
		Activity:     t.Activity,
		Attempt:      t.Attempt,
		StartedAt:    w.clock.Now(),
	}

	h, ok := w.handlers[t.Activity]
	if !ok {
		inv.Err = errors.Wrap(ErrUnknownActivity, "", j.MKV{"activity": string(t.Activity)})
		inv.FinishedAt = w.clock.Now()
		return inv
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.New("activity panicked", j.MKV{"panic": fmt.Sprintf("%v", r)})}
			}
		}()

		res, err := h(actx, t.Payload)
		done <- outcome{result: res, err: err}
	}()

	timer := w.clock.NewTimer(w.opts.activityTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		inv.Result = out.result
		inv.Err = out.err
	case <-timer.C():
		cancel()
		inv.TimedOut = true
		inv.Err = errors.Wrap(ErrTimeout, "", j.MKV{
			"activity": string(t.Activity),
			"attempt":  fmt.Sprintf("%v", t.Attempt),
		})
	case <-ctx.Done():
		inv.Err = ctx.Err()
	}

	inv.FinishedAt = w.clock.Now()
	metrics.ActivityLatency.WithLabelValues(string(t.Activity)).Observe(inv.FinishedAt.Sub(inv.StartedAt).Seconds())

	if inv.Err != nil {
		w.logger.Debug(ctx, "activity attempt failed", MKV{
			"run_id":   t.RunID,
			"activity": string(t.Activity),
			"attempt":  fmt.Sprintf("%v", t.Attempt),
			"error":    inv.Err.Error(),
		})
	}

	return inv
}
