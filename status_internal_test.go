package profilesync

import (
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	require.Equal(t, "Pending", StatusPending.String())
	require.Equal(t, "AwaitingSync", StatusAwaitingSync.String())
	require.Equal(t, "Completed", StatusCompleted.String())
	require.Equal(t, "Status(42)", Status(42).String())
}

func TestStatusTerminal(t *testing.T) {
	for s := StatusPending; s < statusSentinel; s++ {
		expected := s == StatusFailed || s == StatusCompleted
		require.Equal(t, expected, s.Terminal(), s.String())
	}
}

func TestStatusGraphIsMonotonic(t *testing.T) {
	g := statusGraph()

	jtest.RequireNil(t, validateTransition(StatusPending, StatusPersisting, g))
	jtest.RequireNil(t, validateTransition(StatusPersisting, StatusPersisting, g))
	jtest.RequireNil(t, validateTransition(StatusPersisting, StatusFailed, g))
	jtest.RequireNil(t, validateTransition(StatusAwaitingSync, StatusSyncing, g))
	jtest.RequireNil(t, validateTransition(StatusSynced, StatusCompleted, g))

	require.Error(t, validateTransition(StatusPersisted, StatusPending, g))
	require.Error(t, validateTransition(StatusAwaitingSync, StatusFailed, g))
	require.Error(t, validateTransition(StatusCompleted, StatusSyncing, g))
	require.Error(t, validateTransition(StatusFailed, StatusPersisting, g))

	require.True(t, g.IsTerminal(int(StatusCompleted)))
	require.True(t, g.IsTerminal(int(StatusFailed)))
	require.False(t, g.IsTerminal(int(StatusSyncing)))
}

func TestStatusActivity(t *testing.T) {
	a, ok := StatusPersisting.Activity()
	require.True(t, ok)
	require.Equal(t, ActivityPersistProfile, a)

	a, ok = StatusSyncing.Activity()
	require.True(t, ok)
	require.Equal(t, ActivitySyncExternal, a)

	_, ok = StatusAwaitingSync.Activity()
	require.False(t, ok)
}
