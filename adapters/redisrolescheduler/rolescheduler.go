package redisrolescheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"

	"github.com/Dipanshu-verma/profilesync"
)

const (
	keyPrefix         = "profilesync:role:"
	defaultTTL        = 10 * time.Second
	defaultAwaitRetry = 100 * time.Millisecond
)

// RoleScheduler grants a role to one holder across every process sharing the Redis instance. The holder keeps the
// lock alive for as long as the returned context is not cancelled. Losing the lock cancels the context.
type RoleScheduler struct {
	client     redis.UniversalClient
	ttl        time.Duration
	awaitRetry time.Duration
}

type Option func(r *RoleScheduler)

func WithTTL(d time.Duration) Option {
	return func(r *RoleScheduler) {
		r.ttl = d
	}
}

func WithAwaitRetry(d time.Duration) Option {
	return func(r *RoleScheduler) {
		r.awaitRetry = d
	}
}

func New(client redis.UniversalClient, opts ...Option) *RoleScheduler {
	r := &RoleScheduler{
		client:     client,
		ttl:        defaultTTL,
		awaitRetry: defaultAwaitRetry,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

var _ profilesync.RoleScheduler = (*RoleScheduler)(nil)

var (
	refreshScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('PEXPIRE', KEYS[1], ARGV[2])
		end
		return 0
	`)

	releaseScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)
)

func (r *RoleScheduler) Await(ctx context.Context, role string) (context.Context, context.CancelFunc, error) {
	key := keyPrefix + role
	token := uuid.NewString()

	for {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, nil, errors.Wrap(err, "acquire role", j.MKV{"role": role})
		}

		if ok {
			break
		}

		t := time.NewTimer(r.awaitRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil, ctx.Err()
		case <-t.C:
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	go r.hold(ctx, cancel, key, token)

	return ctx, cancel, nil
}

// hold refreshes the lock until the context is done and then releases it.
func (r *RoleScheduler) hold(ctx context.Context, cancel context.CancelFunc, key, token string) {
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()

		releaseScript.Run(releaseCtx, r.client, []string{key}, token)
	}()

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
			if err != nil || n == 0 {
				cancel()
				return
			}
		}
	}
}
