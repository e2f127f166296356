package kafkaqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/segmentio/kafka-go"

	"github.com/Dipanshu-verma/profilesync"
)

const (
	defaultGroupID     = "profilesync-workers"
	headerActivity     = "activity"
	headerInvocationID = "invocation_id"
)

// Queue is a TaskQueue backed by a Kafka topic read through a consumer group. Tasks are keyed by run id so that every
// task of a run lands on the same partition.
//
// Acknowledging a task commits its offset once every earlier task fetched from the same partition has been
// acknowledged as well. A task whose offset is never committed is delivered again after a rebalance or restart.
type Queue struct {
	writer *kafka.Writer
	reader *kafka.Reader

	// fetch serialises FetchMessage calls between the workers sharing the reader.
	fetch   chan struct{}
	offsets *offsetTracker
	// commitMu keeps commits on a partition in offset order.
	commitMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	groupID string
	maxWait time.Duration
}

type Option func(o *options)

func WithGroupID(id string) Option {
	return func(o *options) {
		o.groupID = id
	}
}

// WithMaxWait sets how long a fetch waits for new messages before polling the brokers again.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		o.maxWait = d
	}
}

func New(brokers []string, topic string, opts ...Option) *Queue {
	o := options{
		groupID: defaultGroupID,
		maxWait: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Queue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     o.groupID,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     o.maxWait,
			StartOffset: kafka.FirstOffset,
		}),
		fetch:   make(chan struct{}, 1),
		offsets: newOffsetTracker(),
	}
}

var _ profilesync.TaskQueue = (*Queue)(nil)

func (q *Queue) Enqueue(ctx context.Context, t profilesync.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}

	for ctx.Err() == nil {
		err = q.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(t.RunID),
			Value: b,
			Headers: []kafka.Header{
				{Key: headerActivity, Value: []byte(t.Activity)},
				{Key: headerInvocationID, Value: []byte(t.InvocationID)},
			},
		})
		if errors.Is(err, kafka.LeaderNotAvailable) || errors.Is(err, kafka.UnknownTopicOrPartition) {
			// The topic is still being created.
			time.Sleep(100 * time.Millisecond)
			continue
		} else if err != nil {
			return errors.Wrap(err, "enqueue task", j.MKV{"run_id": t.RunID, "invocation_id": t.InvocationID})
		}

		return nil
	}

	return ctx.Err()
}

func (q *Queue) Receive(ctx context.Context) (*profilesync.Task, profilesync.Ack, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case q.fetch <- struct{}{}:
	}

	m, err := q.reader.FetchMessage(ctx)
	if err != nil {
		<-q.fetch
		return nil, nil, err
	}
	q.offsets.track(m)
	<-q.fetch

	var t profilesync.Task
	err = json.Unmarshal(m.Value, &t)
	if err != nil {
		// NoReturnErr: An undecodable message would otherwise hold back every later commit on its partition.
		_ = q.ack(m)
		return nil, nil, errors.Wrap(err, "decode task", j.MKV{"partition": m.Partition, "offset": m.Offset})
	}

	return &t, func() error {
		return q.ack(m)
	}, nil
}

func (q *Queue) ack(m kafka.Message) error {
	q.commitMu.Lock()
	defer q.commitMu.Unlock()

	commit, ok := q.offsets.done(m)
	if !ok {
		return nil
	}

	// The receive context may already be cancelled by the time the task is acknowledged.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return q.reader.CommitMessages(ctx, commit)
}

func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		werr := q.writer.Close()
		rerr := q.reader.Close()
		if werr != nil {
			q.closeErr = werr
		} else {
			q.closeErr = rerr
		}
	})

	return q.closeErr
}
