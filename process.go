package profilesync

import (
	"context"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync/internal/metrics"
)

type State string

const (
	StateUnknown  State = ""
	StateShutdown State = "Shutdown"
	StateRunning  State = "Running"
	StateIdle     State = "Idle"
)

// processStates holds the State of every background process using their process names as the key.
type processStates struct {
	mu     sync.Mutex
	states map[string]State
}

func (p *processStates) updateState(processName string, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch s {
	case StateIdle:
		metrics.ProcessStates.WithLabelValues(processName).Set(2)
	case StateRunning:
		metrics.ProcessStates.WithLabelValues(processName).Set(1)
	case StateShutdown:
		metrics.ProcessStates.WithLabelValues(processName).Set(0.0)
	}

	if p.states == nil {
		p.states = make(map[string]State)
	}

	p.states[processName] = s
}

func (p *processStates) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make(map[string]State)
	for k, v := range p.states {
		states[k] = v
	}

	return states
}

type awaitRoleFn func(ctx context.Context, role string) (context.Context, context.CancelFunc, error)

// runProcess is a standardised way of running blocking calls with a built-in retry mechanism. It returns once the
// parent context is cancelled.
func runProcess(
	ctx context.Context,
	role string,
	processName string,
	states *processStates,
	awaitRole awaitRoleFn,
	process func(ctx context.Context) error,
	log *logger,
	clk clock.Clock,
	errBackOff time.Duration,
) {
	states.updateState(processName, StateIdle)
	defer states.updateState(processName, StateShutdown)

	for {
		err := runOnce(ctx, role, processName, states, awaitRole, process, log, clk, errBackOff)
		if err != nil {
			log.Debug(ctx, "shutting down process", MKV{
				"role":         role,
				"process_name": processName,
			})

			return
		}
	}
}

func runOnce(
	ctx context.Context,
	role string,
	processName string,
	states *processStates,
	awaitRole awaitRoleFn,
	process func(ctx context.Context) error,
	log *logger,
	clk clock.Clock,
	errBackOff time.Duration,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	states.updateState(processName, StateIdle)

	ctx, cancel, err := awaitRole(ctx, role)
	if errors.Is(err, context.Canceled) {
		// Exit cleanly if error returned is cancellation of context
		return err
	} else if err != nil {
		log.Error(ctx, errors.Wrap(err, "await role", j.MKV{
			"role":         role,
			"process_name": processName,
		}))

		// Return nil to try again
		return nil
	}
	defer cancel()

	states.updateState(processName, StateRunning)

	err = process(ctx)
	if errors.Is(err, context.Canceled) {
		// Context can be cancelled by the role scheduler and thus return nil to attempt to gain the role again
		// and if the parent context was cancelled then that will exit safely.
		return nil
	} else if err != nil {
		log.Error(ctx, errors.Wrap(err, "process error", j.MKV{
			"role":         role,
			"process_name": processName,
		}))
		metrics.ProcessErrors.WithLabelValues(processName).Inc()

		timer := clk.NewTimer(errBackOff)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C():
			// Return nil to try again
			return nil
		}
	}

	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func waitUntil(ctx context.Context, clk clock.Clock, until time.Time) error {
	d := until.Sub(clk.Now())
	if d <= 0 {
		return nil
	}

	t := clk.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
