package profilesync

import (
	"context"

	"github.com/luno/jettison/errors"
)

// PersistProfileHandler writes the requested fields to the primary data store. Executing it more than once with the
// same payload leaves the store in the same state.
func PersistProfileHandler(ps ProfileStore) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req ProfileUpdateRequest
		err := Unmarshal(payload, &req)
		if err != nil {
			return nil, errors.Wrap(ErrValidation, "malformed persist payload")
		}

		err = req.Validate()
		if err != nil {
			return nil, err
		}

		p, err := ps.Upsert(ctx, req.SubjectID, req.Fields)
		if err != nil {
			return nil, err
		}

		return Marshal(p)
	}
}

// SyncExternalHandler pushes the persisted snapshot to the external sync endpoint. A nil client fails every attempt
// with ErrConfiguration before any network I/O.
func SyncExternalHandler(c SyncClient) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		if c == nil {
			return nil, errors.Wrap(ErrConfiguration, "no sync client configured")
		}

		var req SyncRequest
		err := Unmarshal(payload, &req)
		if err != nil {
			return nil, errors.Wrap(ErrValidation, "malformed sync payload")
		}

		rec, err := c.Sync(ctx, req)
		if err != nil {
			return nil, err
		}

		return Marshal(rec)
	}
}

// NewProfileWorker returns a Worker with both activities registered.
func NewProfileWorker(queue TaskQueue, coord Coordinator, profiles ProfileStore, sync SyncClient, opts ...WorkerOption) *Worker {
	w := NewWorker(queue, coord, opts...)
	w.Register(ActivityPersistProfile, PersistProfileHandler(profiles))
	w.Register(ActivitySyncExternal, SyncExternalHandler(sync))
	return w
}
