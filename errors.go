package profilesync

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrValidation        = errors.New("validation failed", j.C("ERR_4b1c0e5f8d2a7391"))
	ErrNotFound          = errors.New("profile not found", j.C("ERR_9e2f61a0c4d8b357"))
	ErrConfiguration     = errors.New("invalid configuration", j.C("ERR_c07a3d9e15b2f846"))
	ErrTransientNetwork  = errors.New("transient network error", j.C("ERR_5d8e2b7f0a1c9463"))
	ErrNonSuccessStatus  = errors.New("non-success response status", j.C("ERR_a61f4c2e9b7d0358"))
	ErrTimeout           = errors.New("activity attempt timed out", j.C("ERR_2c9b7e4a1f6d0835"))
	ErrConflict          = errors.New("stale run version", j.C("ERR_7f3a0d6c2e9b1548"))
	ErrProfileExists     = errors.New("profile already exists", j.C("ERR_e84b1f7a3c0d2596"))
	ErrRunNotFound       = errors.New("run not found", j.C("ERR_3a7d9c1e6b2f0487"))
	ErrRunExists         = errors.New("run already exists", j.C("ERR_b52e8a4f1d7c3690"))
	ErrUnknownActivity   = errors.New("no handler registered for activity", j.C("ERR_0d6f3b9a2e8c1475"))
	ErrInvalidTransition = errors.New("run is not in a state to accept this change", j.C("ERR_6c1e8f2d9a4b7053"))
)

// ErrorKind is the classification the Orchestrator uses to decide between retrying an activity and failing the run.
type ErrorKind string

const (
	KindValidation       ErrorKind = "ValidationError"
	KindNotFound         ErrorKind = "NotFoundError"
	KindConfiguration    ErrorKind = "ConfigurationError"
	KindTransientNetwork ErrorKind = "TransientNetworkError"
	KindNonSuccessStatus ErrorKind = "NonSuccessStatus"
	KindTimeout          ErrorKind = "TimeoutError"
	KindInternal         ErrorKind = "InternalError"
)

// Retriable reports whether an attempt that failed with this kind may be attempted again.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindValidation, KindNotFound, KindConfiguration:
		return false
	default:
		return true
	}
}

// Classify maps an activity error onto its ErrorKind. Errors that match none of the known sentinels are
// KindInternal which is retriable.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrUnknownActivity):
		return KindConfiguration
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNonSuccessStatus):
		return KindNonSuccessStatus
	case errors.Is(err, ErrTransientNetwork):
		return KindTransientNetwork
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}

		return KindTransientNetwork
	}

	return KindInternal
}

// RunError is the persisted form of the last error observed by a run.
type RunError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Activity Activity  `json:"activity,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
}

func (e *RunError) Error() string {
	if e.Activity == "" {
		return string(e.Kind) + ": " + e.Message
	}

	return string(e.Kind) + ": " + string(e.Activity) + ": " + e.Message
}
