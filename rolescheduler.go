package profilesync

import (
	"context"
	"strings"
)

// RoleScheduler implementations should all be tested with adaptertest.TestRoleScheduler. The Orchestrator uses it to
// make sure that only one replica runs the wake poller and the recovery sweep at any given time.
type RoleScheduler interface {
	// Await must return a child context of the provided (parent) context. Await should block until the role is
	// assigned to the caller. Only one caller should be able to be assigned the role at any given time.
	Await(ctx context.Context, role string) (context.Context, context.CancelFunc, error)
}

// localScheduler grants every role immediately and is suitable when a single orchestrator is deployed.
type localScheduler struct{}

func (localScheduler) Await(ctx context.Context, role string) (context.Context, context.CancelFunc, error) {
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, nil
}

func makeRole(inputs ...string) string {
	joined := strings.Join(inputs, "-")
	lowered := strings.ToLower(joined)
	return strings.ReplaceAll(lowered, " ", "_")
}
