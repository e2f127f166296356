package profilesync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
)

func TestRetryPolicyBackOff(t *testing.T) {
	p := profilesync.RetryPolicy{
		MaxAttempts: 3,
		BaseBackOff: time.Second,
		MaxBackOff:  30 * time.Second,
	}

	expected := map[int]time.Duration{
		0: time.Second,
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		5: 16 * time.Second,
		6: 30 * time.Second,
		9: 30 * time.Second,
	}

	for attempt, d := range expected {
		require.Equal(t, d, p.BackOff(attempt), "attempt %d", attempt)
	}

	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))
}
