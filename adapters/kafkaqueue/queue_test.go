package kafkaqueue_test

import (
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/adaptertest"
	"github.com/Dipanshu-verma/profilesync/adapters/kafkaqueue"
)

func TestKafkaTaskQueue(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}

	adaptertest.RunTaskQueueTest(t, func() profilesync.TaskQueue {
		topic := "profilesync-tasks-" + uuid.NewString()
		return kafkaqueue.New(strings.Split(brokers, ","), topic, kafkaqueue.WithGroupID("test-"+uuid.NewString()))
	})
}
