package profilesync

import (
	"encoding/json"
	"time"
)

// Run is the durable record of one profile update moving through the pipeline. It is owned by the Orchestrator and
// every change to it goes through RunStore.Store which rejects writes made against a stale Version.
type Run struct {
	ID        string               `json:"id"`
	SubjectID string               `json:"subject_id"`
	Status    Status               `json:"status"`
	Request   ProfileUpdateRequest `json:"request"`

	// Attempts counts the attempts of each activity, including the one currently dispatched.
	Attempts  map[Activity]int `json:"attempts,omitempty"`
	LastError *RunError        `json:"last_error,omitempty"`

	// WakeAt is the next time the run must be looked at. It holds the delay deadline while AwaitingSync, the
	// backoff deadline while an activity waits to be retried and the lease expiry while an attempt is dispatched.
	WakeAt time.Time `json:"wake_at"`

	// DispatchedAt is set once the current attempt has been handed to the task queue.
	DispatchedAt time.Time `json:"dispatched_at"`
	Lease        Lease     `json:"lease"`

	PersistedAt time.Time         `json:"persisted_at"`
	Profile     *PersistedProfile `json:"profile,omitempty"`
	Sync        *SyncRecord       `json:"sync,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Run) Attempt(a Activity) int {
	return r.Attempts[a]
}

// Due reports whether a waiting run has reached its WakeAt.
func (r *Run) Due(now time.Time) bool {
	return !r.WakeAt.IsZero() && !now.Before(r.WakeAt)
}

// Lease is the exclusive claim over the run's in-flight invocation. It is taken when the invocation is dispatched,
// claimed by the worker that executes it and released when the outcome is reported.
type Lease struct {
	InvocationID string    `json:"invocation_id,omitempty"`
	Holder       string    `json:"holder,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (l Lease) Active(now time.Time) bool {
	return l.InvocationID != "" && now.Before(l.ExpiresAt)
}

func (l Lease) Expired(now time.Time) bool {
	return l.InvocationID != "" && !now.Before(l.ExpiresAt)
}

// StatusReport is the externally visible view of a run.
type StatusReport struct {
	RunID     string           `json:"runId"`
	SubjectID string           `json:"email"`
	Status    Status           `json:"-"`
	Attempts  map[Activity]int `json:"attempts,omitempty"`
	LastError *RunError        `json:"lastError,omitempty"`
	Result    *Result          `json:"result,omitempty"`
	WakeAt    time.Time        `json:"wakeAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// MarshalJSON writes the status name and leaves out wakeAt when nothing is scheduled.
func (sr StatusReport) MarshalJSON() ([]byte, error) {
	type report StatusReport
	var wakeAt *time.Time
	if !sr.WakeAt.IsZero() {
		wakeAt = &sr.WakeAt
	}

	return json.Marshal(struct {
		report
		Status string     `json:"status"`
		WakeAt *time.Time `json:"wakeAt,omitempty"`
	}{
		report: report(sr),
		Status: sr.Status.String(),
		WakeAt: wakeAt,
	})
}

// Result is only present once a run has Completed and always carries both the persisted snapshot and the sync audit.
type Result struct {
	Profile PersistedProfile `json:"user"`
	Sync    SyncRecord       `json:"syncResult"`
}

func newStatusReport(r *Run) *StatusReport {
	sr := &StatusReport{
		RunID:     r.ID,
		SubjectID: r.SubjectID,
		Status:    r.Status,
		LastError: r.LastError,
		WakeAt:    r.WakeAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if len(r.Attempts) > 0 {
		sr.Attempts = make(map[Activity]int, len(r.Attempts))
		for k, v := range r.Attempts {
			sr.Attempts[k] = v
		}
	}

	if r.Status == StatusCompleted && r.Profile != nil && r.Sync != nil {
		sr.Result = &Result{
			Profile: *r.Profile,
			Sync:    *r.Sync,
		}
	}

	return sr
}
