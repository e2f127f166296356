package memrunstore_test

import (
	"testing"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/adaptertest"
	"github.com/Dipanshu-verma/profilesync/adapters/memrunstore"
)

func TestStore(t *testing.T) {
	adaptertest.RunRunStoreTest(t, func() profilesync.RunStore {
		return memrunstore.New()
	})
}
