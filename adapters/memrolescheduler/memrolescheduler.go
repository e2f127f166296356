package memrolescheduler

import (
	"context"
	"sync"

	"github.com/Dipanshu-verma/profilesync"
)

// RoleScheduler grants each role to one caller at a time within a single process. It lets several Orchestrators
// in the same process share a RunStore in tests.
type RoleScheduler struct {
	mu    sync.Mutex
	roles map[string]chan struct{}
}

var _ profilesync.RoleScheduler = (*RoleScheduler)(nil)

func (r *RoleScheduler) Await(ctx context.Context, role string) (context.Context, context.CancelFunc, error) {
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	r.mu.Lock()
	sem, ok := r.roles[role]
	if !ok {
		sem = make(chan struct{}, 1)
		r.roles[role] = sem
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case sem <- struct{}{}:
	}

	ctx, cancel := context.WithCancel(ctx)

	// Release the role once the holder is done with it.
	go func() {
		<-ctx.Done()
		<-sem
	}()

	return ctx, cancel, nil
}

func New() *RoleScheduler {
	return &RoleScheduler{
		roles: make(map[string]chan struct{}),
	}
}
