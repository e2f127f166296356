package memrunstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

// New constructs and returns an in-memory RunStore. Runs are held in their encoded form so that callers never share
// memory with the store, the same as they would with a database backed store.
func New(opts ...Option) *Store {
	opt := options{
		clock: clock.RealClock{},
	}

	for _, o := range opts {
		o(&opt)
	}

	return &Store{
		clock:     opt.clock,
		runs:      make(map[string][]byte),
		snapshots: make(map[string][][]byte),
	}
}

type options struct {
	clock clock.Clock
}

type Option func(o *options)

// WithClock sets the clock used to stamp CreatedAt and UpdatedAt when a run does not carry them.
func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

var _ profilesync.TestingRunStore = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	runs  map[string][]byte
	order []string

	// snapshots holds every version of every run that was stored.
	snapshots map[string][][]byte
}

func (s *Store) Store(ctx context.Context, r *profilesync.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[r.ID]
	if r.Version == 0 && ok {
		return errors.Wrap(profilesync.ErrRunExists, "", j.MKV{"run_id": r.ID})
	}

	if r.Version != 0 {
		if !ok {
			return errors.Wrap(profilesync.ErrRunNotFound, "", j.MKV{"run_id": r.ID})
		}

		var current profilesync.Run
		err := json.Unmarshal(existing, &current)
		if err != nil {
			return err
		}

		if current.Version != r.Version {
			return errors.Wrap(profilesync.ErrConflict, "", j.MKV{
				"run_id":         r.ID,
				"stored_version": current.Version,
				"write_version":  r.Version,
			})
		}
	}

	now := s.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	next := *r
	next.Version++

	b, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	if !ok {
		s.order = append(s.order, r.ID)
	}

	s.runs[r.ID] = b
	s.snapshots[r.ID] = append(s.snapshots[r.ID], b)
	r.Version = next.Version
	return nil
}

func (s *Store) Lookup(ctx context.Context, id string) (*profilesync.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.runs[id]
	if !ok {
		return nil, errors.Wrap(profilesync.ErrRunNotFound, "", j.MKV{"run_id": id})
	}

	var r profilesync.Run
	err := json.Unmarshal(b, &r)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *Store) ListIncomplete(ctx context.Context) ([]profilesync.Run, error) {
	return s.list(func(r *profilesync.Run) bool {
		return !r.Status.Terminal()
	})
}

func (s *Store) ListWaking(ctx context.Context, before time.Time) ([]profilesync.Run, error) {
	runs, err := s.list(func(r *profilesync.Run) bool {
		return !r.Status.Terminal() && r.Due(before)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].WakeAt.Before(runs[j].WakeAt)
	})

	return runs, nil
}

func (s *Store) list(filter func(r *profilesync.Run) bool) ([]profilesync.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []profilesync.Run
	for _, id := range s.order {
		var r profilesync.Run
		err := json.Unmarshal(s.runs[id], &r)
		if err != nil {
			return nil, err
		}

		if !filter(&r) {
			continue
		}

		runs = append(runs, r)
	}

	return runs, nil
}

// Snapshots returns every stored version of the run, oldest first.
func (s *Store) Snapshots(runID string) []*profilesync.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*profilesync.Run
	for _, b := range s.snapshots[runID] {
		var r profilesync.Run
		err := json.Unmarshal(b, &r)
		if err != nil {
			panic(err)
		}

		runs = append(runs, &r)
	}

	return runs
}
