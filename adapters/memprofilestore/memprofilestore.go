package memprofilestore

import (
	"context"
	"sort"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

func New(opts ...Option) *Store {
	opt := options{
		clock: clock.RealClock{},
	}

	for _, o := range opts {
		o(&opt)
	}

	return &Store{
		clock:    opt.clock,
		profiles: make(map[string]profilesync.PersistedProfile),
	}
}

type options struct {
	clock clock.Clock
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

var _ profilesync.ProfileStore = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	clock    clock.Clock
	profiles map[string]profilesync.PersistedProfile

	// writes counts the calls to Upsert and Create that changed a profile.
	writes int
}

func (s *Store) Upsert(ctx context.Context, subjectID string, f profilesync.ProfileFields) (*profilesync.PersistedProfile, error) {
	err := profilesync.ValidateProfile(subjectID, f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[subjectID]
	if !ok {
		return nil, errors.Wrap(profilesync.ErrNotFound, "", j.MKV{"email": subjectID})
	}

	if p.ProfileFields == f {
		return &p, nil
	}

	p.ProfileFields = f
	p.Version++
	p.UpdatedAt = s.clock.Now()
	s.profiles[subjectID] = p
	s.writes++

	return &p, nil
}

func (s *Store) Create(ctx context.Context, subjectID string, f profilesync.ProfileFields) (*profilesync.PersistedProfile, error) {
	err := profilesync.ValidateProfile(subjectID, f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[subjectID]; ok {
		return nil, errors.Wrap(profilesync.ErrProfileExists, "", j.MKV{"email": subjectID})
	}

	now := s.clock.Now()
	p := profilesync.PersistedProfile{
		SubjectID:     subjectID,
		ProfileFields: f,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.profiles[subjectID] = p
	s.writes++

	return &p, nil
}

func (s *Store) Lookup(ctx context.Context, subjectID string) (*profilesync.PersistedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[subjectID]
	if !ok {
		return nil, errors.Wrap(profilesync.ErrNotFound, "", j.MKV{"email": subjectID})
	}

	return &p, nil
}

func (s *Store) List(ctx context.Context) ([]profilesync.PersistedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]profilesync.PersistedProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].SubjectID < list[j].SubjectID
	})

	return list, nil
}

// Writes returns the number of writes that changed a profile.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes
}
