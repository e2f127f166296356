package profilesync

import (
	"encoding/json"
	"time"
)

// Activity names a unit of side-effecting work executed by a Worker.
type Activity string

const (
	ActivityPersistProfile Activity = "persistProfile"
	ActivitySyncExternal   Activity = "syncExternal"
)

// Task is one dispatched attempt of an activity as carried by the TaskQueue.
type Task struct {
	RunID        string          `json:"run_id"`
	InvocationID string          `json:"invocation_id"`
	Activity     Activity        `json:"activity"`
	Attempt      int             `json:"attempt"`
	Payload      json.RawMessage `json:"payload"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

// Ack is used to acknowledge that a task has been fully handled and must not be redelivered.
type Ack func() error

// Invocation is the outcome of executing a Task, reported back to the Orchestrator.
type Invocation struct {
	RunID        string          `json:"run_id"`
	InvocationID string          `json:"invocation_id"`
	Activity     Activity        `json:"activity"`
	Attempt      int             `json:"attempt"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Result       json.RawMessage `json:"result,omitempty"`
	Err          error           `json:"-"`
	TimedOut     bool            `json:"timed_out"`
}
