package redisstore_test

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/adaptertest"
	"github.com/Dipanshu-verma/profilesync/adapters/redisstore"
)

func TestRedisRunStore(t *testing.T) {
	client := connectForTesting(t)

	factory := func() profilesync.RunStore {
		client.FlushDB(t.Context())
		return redisstore.New(client)
	}

	adaptertest.RunRunStoreTest(t, factory)
}

func connectForTesting(t *testing.T) redis.UniversalClient {
	ctx := t.Context()

	redisInstance, err := rediscontainer.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, redisInstance)
	require.NoError(t, err)

	host, err := redisInstance.Host(ctx)
	require.NoError(t, err)

	port, err := redisInstance.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})
}
