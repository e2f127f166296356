package adaptertest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
)

func RunTaskQueueTest(t *testing.T, factory func() profilesync.TaskQueue) {
	tests := []func(t *testing.T, queue profilesync.TaskQueue){
		testEnqueueReceive,
		testReceiveBlocksUntilCancelled,
		testCompetingConsumers,
	}

	for _, test := range tests {
		queueForTesting := factory()
		test(t, queueForTesting)
		jtest.RequireNil(t, queueForTesting.Close())
	}
}

func testEnqueueReceive(t *testing.T, queue profilesync.TaskQueue) {
	t.Run("A received task matches the enqueued task", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t.Cleanup(cancel)

		expected := profilesync.Task{
			RunID:        "run-1",
			InvocationID: "inv-1",
			Activity:     profilesync.ActivitySyncExternal,
			Attempt:      2,
			Payload:      json.RawMessage(`{"run_id":"run-1"}`),
			EnqueuedAt:   baseTime,
		}

		err := queue.Enqueue(ctx, expected)
		jtest.RequireNil(t, err)

		actual, ack, err := queue.Receive(ctx)
		jtest.RequireNil(t, err)
		jtest.RequireNil(t, ack())

		require.Equal(t, expected.RunID, actual.RunID)
		require.Equal(t, expected.InvocationID, actual.InvocationID)
		require.Equal(t, expected.Activity, actual.Activity)
		require.Equal(t, expected.Attempt, actual.Attempt)
		require.JSONEq(t, string(expected.Payload), string(actual.Payload))
		require.True(t, expected.EnqueuedAt.Equal(actual.EnqueuedAt))
	})
}

func testReceiveBlocksUntilCancelled(t *testing.T, queue profilesync.TaskQueue) {
	t.Run("Receive on an empty queue returns when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		t.Cleanup(cancel)

		_, _, err := queue.Receive(ctx)
		require.Error(t, err)
	})
}

func testCompetingConsumers(t *testing.T, queue profilesync.TaskQueue) {
	t.Run("Each acknowledged task is received by a single consumer", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t.Cleanup(cancel)

		ids := []string{"inv-a", "inv-b", "inv-c", "inv-d"}
		for _, id := range ids {
			err := queue.Enqueue(ctx, profilesync.Task{RunID: "run-" + id, InvocationID: id, Activity: profilesync.ActivityPersistProfile, Attempt: 1})
			jtest.RequireNil(t, err)
		}

		received := make(chan string, len(ids))
		for i := 0; i < 2; i++ {
			go func() {
				for {
					task, ack, err := queue.Receive(ctx)
					if err != nil {
						return
					}

					if ack() != nil {
						return
					}

					received <- task.InvocationID
				}
			}()
		}

		var got []string
		for range ids {
			select {
			case id := <-received:
				got = append(got, id)
			case <-ctx.Done():
				t.Fatal("timed out waiting for tasks")
			}
		}

		require.ElementsMatch(t, ids, got)
	})
}
