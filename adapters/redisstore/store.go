package redisstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

const (
	runKeyPrefix  = "profilesync:run:"
	incompleteKey = "profilesync:runs:incomplete"
	wakingKey     = "profilesync:runs:waking"
)

type Store struct {
	client redis.UniversalClient
	clock  clock.Clock
}

type Option func(s *Store)

func WithClock(clock clock.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		clock:  clock.RealClock{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

var _ profilesync.RunStore = (*Store)(nil)

// storeScript writes a run hash only when the stored version matches the expected one and keeps the incomplete and
// waking indexes in step with the run.
var storeScript = redis.NewScript(`
	local run_key = KEYS[1]
	local incomplete_key = KEYS[2]
	local waking_key = KEYS[3]

	local expected = tonumber(ARGV[1])
	local object = ARGV[2]
	local run_id = ARGV[3]
	local terminal = ARGV[4] == "1"
	local created_score = ARGV[5]
	local wake_score = tonumber(ARGV[6])

	if expected == 0 then
		if redis.call('EXISTS', run_key) == 1 then
			return 'exists'
		end
	else
		local current = redis.call('HGET', run_key, 'version')
		if not current then
			return 'missing'
		end
		if tonumber(current) ~= expected then
			return 'conflict'
		end
	end

	redis.call('HSET', run_key, 'object', object, 'version', expected + 1)

	if terminal then
		redis.call('ZREM', incomplete_key, run_id)
		redis.call('ZREM', waking_key, run_id)
		return 'ok'
	end

	redis.call('ZADD', incomplete_key, created_score, run_id)
	if wake_score > 0 then
		redis.call('ZADD', waking_key, wake_score, run_id)
	else
		redis.call('ZREM', waking_key, run_id)
	end

	return 'ok'
`)

func (s *Store) Store(ctx context.Context, r *profilesync.Run) error {
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

	terminal := "0"
	if r.Status.Terminal() {
		terminal = "1"
	}

	var wakeScore int64
	if !r.WakeAt.IsZero() {
		wakeScore = r.WakeAt.UnixMilli()
	}

	res, err := storeScript.Run(ctx, s.client,
		[]string{runKeyPrefix + r.ID, incompleteKey, wakingKey},
		r.Version,
		string(b),
		r.ID,
		terminal,
		strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
		wakeScore,
	).Text()
	if err != nil {
		return errors.Wrap(err, "store run", j.MKV{"run_id": r.ID})
	}

	switch res {
	case "ok":
		r.Version = next.Version
		return nil
	case "exists":
		return errors.Wrap(profilesync.ErrRunExists, "", j.MKV{"run_id": r.ID})
	case "missing":
		return errors.Wrap(profilesync.ErrRunNotFound, "", j.MKV{"run_id": r.ID})
	case "conflict":
		return errors.Wrap(profilesync.ErrConflict, "", j.MKV{
			"run_id":        r.ID,
			"write_version": r.Version,
		})
	default:
		return errors.New("unexpected store result", j.MKV{"result": res})
	}
}

func (s *Store) Lookup(ctx context.Context, id string) (*profilesync.Run, error) {
	b, err := s.client.HGet(ctx, runKeyPrefix+id, "object").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(profilesync.ErrRunNotFound, "", j.MKV{"run_id": id})
	} else if err != nil {
		return nil, err
	}

	var r profilesync.Run
	err = json.Unmarshal(b, &r)
	if err != nil {
		return nil, errors.Wrap(err, "decode run", j.MKV{"run_id": id})
	}

	return &r, nil
}

func (s *Store) ListIncomplete(ctx context.Context) ([]profilesync.Run, error) {
	ids, err := s.client.ZRange(ctx, incompleteKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	return s.lookupAll(ctx, ids, func(r *profilesync.Run) bool {
		return !r.Status.Terminal()
	})
}

func (s *Store) ListWaking(ctx context.Context, before time.Time) ([]profilesync.Run, error) {
	ids, err := s.client.ZRangeByScore(ctx, wakingKey, &redis.ZRangeBy{
		Min: "1",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	// Scores only carry milliseconds.
	return s.lookupAll(ctx, ids, func(r *profilesync.Run) bool {
		return !r.Status.Terminal() && r.Due(before)
	})
}

func (s *Store) lookupAll(ctx context.Context, ids []string, filter func(r *profilesync.Run) bool) ([]profilesync.Run, error) {
	var runs []profilesync.Run
	for _, id := range ids {
		r, err := s.Lookup(ctx, id)
		if errors.Is(err, profilesync.ErrRunNotFound) {
			// NoReturnErr: The index is only updated by the store script so a missing run means it was flushed.
			continue
		} else if err != nil {
			return nil, err
		}

		if !filter(r) {
			continue
		}

		runs = append(runs, *r)
	}

	return runs, nil
}
