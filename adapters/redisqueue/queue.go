package redisqueue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/redis/go-redis/v9"

	"github.com/Dipanshu-verma/profilesync"
)

const (
	defaultStream            = "profilesync:tasks"
	defaultGroup             = "profilesync:workers"
	defaultVisibilityTimeout = 90 * time.Second
	defaultBlock             = 250 * time.Millisecond
)

var ErrClosed = errors.New("queue closed", j.C("ERR_1f7c4a9e2d0b6583"))

// Queue is a TaskQueue over a single Redis stream read through one consumer group. A task that is received but not
// acknowledged within the visibility timeout is claimed again by the next Receive.
type Queue struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string

	visibilityTimeout time.Duration
	block             time.Duration

	groupMu    sync.Mutex
	groupReady bool

	mu     sync.Mutex
	closed bool
}

type Option func(q *Queue)

func WithStream(stream string) Option {
	return func(q *Queue) {
		q.stream = stream
	}
}

func WithGroup(group string) Option {
	return func(q *Queue) {
		q.group = group
	}
}

func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.visibilityTimeout = d
	}
}

func New(client redis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		client:            client,
		stream:            defaultStream,
		group:             defaultGroup,
		consumer:          "consumer-" + uuid.NewString(),
		visibilityTimeout: defaultVisibilityTimeout,
		block:             defaultBlock,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

var _ profilesync.TaskQueue = (*Queue)(nil)

func (q *Queue) Enqueue(ctx context.Context, t profilesync.Task) error {
	if q.isClosed() {
		return errors.Wrap(ErrClosed, "")
	}

	b, err := json.Marshal(t)
	if err != nil {
		return err
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"task": string(b),
		},
	}).Result()
	if err != nil {
		return errors.Wrap(err, "enqueue task", j.MKV{"run_id": t.RunID, "invocation_id": t.InvocationID})
	}

	return nil
}

func (q *Queue) Receive(ctx context.Context) (*profilesync.Task, profilesync.Ack, error) {
	err := q.ensureGroup(ctx)
	if err != nil {
		return nil, nil, err
	}

	for ctx.Err() == nil {
		if q.isClosed() {
			return nil, nil, errors.Wrap(ErrClosed, "")
		}

		// Messages delivered to a consumer that never acknowledged them are taken over first.
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.visibilityTimeout,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, nil, errors.Wrap(err, "claim idle task")
		}

		if len(claimed) > 0 {
			return q.parse(claimed[0])
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				break
			}

			return nil, nil, errors.Wrap(err, "read task")
		}

		if len(streams) > 0 && len(streams[0].Messages) > 0 {
			return q.parse(streams[0].Messages[0])
		}
	}

	return nil, nil, ctx.Err()
}

func (q *Queue) parse(msg redis.XMessage) (*profilesync.Task, profilesync.Ack, error) {
	data, ok := msg.Values["task"].(string)
	if !ok {
		return nil, nil, errors.New("invalid task message", j.MKV{"message_id": msg.ID})
	}

	var t profilesync.Task
	err := json.Unmarshal([]byte(data), &t)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode task", j.MKV{"message_id": msg.ID})
	}

	ack := func() error {
		// The receive context may already be cancelled by the time the task is acknowledged.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.XAck(ctx, q.stream, q.group, msg.ID)
			p.XDel(ctx, q.stream, msg.ID)
			return nil
		})
		return err
	}

	return &t, ack, nil
}

// ensureGroup creates the consumer group on first use. Failures are not remembered so a later Receive tries again.
func (q *Queue) ensureGroup(ctx context.Context) error {
	q.groupMu.Lock()
	defer q.groupMu.Unlock()

	if q.groupReady {
		return nil
	}

	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "create consumer group", j.MKV{"stream": q.stream, "group": q.group})
	}

	q.groupReady = true
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.closed
}

// Close stops the queue from handing out tasks. The client is owned by the caller and is left open.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}
