package profilesync

import (
	"context"
	"time"
)

// RunStore implementations should all be tested with adaptertest.TestRunStore. A RunStore holds the authoritative
// state of every run and must survive process restarts.
type RunStore interface {
	// Store inserts the run when its Version is zero and returns ErrRunExists if a run with the same ID is already
	// present. Otherwise Store replaces the stored run only if the stored Version matches the run's Version and
	// returns ErrConflict if it does not. On success the run's Version is incremented in place.
	Store(ctx context.Context, r *Run) error
	// Lookup returns ErrRunNotFound if no run with the ID exists.
	Lookup(ctx context.Context, id string) (*Run, error)
	// ListIncomplete returns every run that is not in a terminal status.
	ListIncomplete(ctx context.Context) ([]Run, error)
	// ListWaking returns the incomplete runs that have a WakeAt at or before the provided time.
	ListWaking(ctx context.Context, before time.Time) ([]Run, error)
}

// ProfileStore implementations should all be tested with adaptertest.TestProfileStore. It is the primary data store
// that the persistProfile activity writes to.
type ProfileStore interface {
	// Upsert updates the profile of an existing subject and returns ErrNotFound if the subject has no profile.
	// Writing fields equal to the stored ones returns the stored snapshot unchanged.
	Upsert(ctx context.Context, subjectID string, f ProfileFields) (*PersistedProfile, error)
	// Create returns ErrProfileExists if the subject already has a profile.
	Create(ctx context.Context, subjectID string, f ProfileFields) (*PersistedProfile, error)
	// Lookup returns ErrNotFound if the subject has no profile.
	Lookup(ctx context.Context, subjectID string) (*PersistedProfile, error)
	List(ctx context.Context) ([]PersistedProfile, error)
}

// TaskQueue implementations should all be tested with adaptertest.TestTaskQueue. Delivery is at least once: a task
// that is received but never acknowledged will be delivered again.
type TaskQueue interface {
	Enqueue(ctx context.Context, t Task) error
	// Receive blocks until a task is available or the context is cancelled.
	Receive(ctx context.Context) (*Task, Ack, error)
	Close() error
}

// SyncClient pushes a persisted profile to the external sync endpoint.
type SyncClient interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncRecord, error)
}

// Coordinator is how a Worker talks back to the Orchestrator.
type Coordinator interface {
	// Claim takes the lease of the invocation carried by the task. False is returned when the invocation is no
	// longer current or is held by another worker, in which case the task must be dropped.
	Claim(ctx context.Context, t Task, holder string) (bool, error)
	// Report records the outcome of an invocation.
	Report(ctx context.Context, inv Invocation) error
}

type TestingRunStore interface {
	RunStore

	// Snapshots returns every version of the run that was stored, oldest first.
	Snapshots(runID string) []*Run
}
