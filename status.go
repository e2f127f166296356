package profilesync

import (
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/Dipanshu-verma/profilesync/internal/graph"
)

// Status is the position of a run in the persist -> delay -> sync sequence. The numeric values are part of the
// persisted run record and must never be renumbered.
type Status int

const (
	StatusUnknown      Status = 0
	StatusPending      Status = 1
	StatusPersisting   Status = 2
	StatusPersisted    Status = 3
	StatusAwaitingSync Status = 4
	StatusSyncing      Status = 5
	StatusSynced       Status = 6
	StatusFailed       Status = 7
	StatusCompleted    Status = 8
	statusSentinel     Status = 9
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusPersisting:
		return "Persisting"
	case StatusPersisted:
		return "Persisted"
	case StatusAwaitingSync:
		return "AwaitingSync"
	case StatusSyncing:
		return "Syncing"
	case StatusSynced:
		return "Synced"
	case StatusFailed:
		return "Failed"
	case StatusCompleted:
		return "Completed"
	case StatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) Valid() bool {
	return s > StatusUnknown && s < statusSentinel
}

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether s is a status in which an activity invocation is dispatched or due to be dispatched.
func (s Status) InFlight() bool {
	return s == StatusPersisting || s == StatusSyncing
}

// Activity returns the activity that is executed while a run is in status s.
func (s Status) Activity() (Activity, bool) {
	switch s {
	case StatusPersisting:
		return ActivityPersistProfile, true
	case StatusSyncing:
		return ActivitySyncExternal, true
	default:
		return "", false
	}
}

// statusGraph holds the only transitions a run can take. Staying in an in-flight status (a retry or a
// re-dispatch) is not a transition and is not represented.
func statusGraph() *graph.Graph {
	g := graph.New()
	g.AddTransition(int(StatusPending), int(StatusPersisting))
	g.AddTransition(int(StatusPersisting), int(StatusPersisted))
	g.AddTransition(int(StatusPersisting), int(StatusFailed))
	g.AddTransition(int(StatusPersisted), int(StatusAwaitingSync))
	g.AddTransition(int(StatusAwaitingSync), int(StatusSyncing))
	g.AddTransition(int(StatusSyncing), int(StatusSynced))
	g.AddTransition(int(StatusSyncing), int(StatusFailed))
	g.AddTransition(int(StatusSynced), int(StatusCompleted))
	return g
}

func validateTransition(current, next Status, g *graph.Graph) error {
	if current == next {
		return nil
	}

	nodes := g.Transitions(int(current))
	if len(nodes) == 0 {
		return errors.New("current status not predefined", j.MKV{
			"current_status": current.String(),
		})
	}

	for _, node := range nodes {
		if node == int(next) {
			return nil
		}
	}

	return errors.New("invalid transition attempted", j.MKV{
		"current_status": current.String(),
		"next_status":    next.String(),
	})
}
