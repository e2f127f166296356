package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/adaptertest"
	"github.com/Dipanshu-verma/profilesync/adapters/sqlite"
)

func TestRunStore(t *testing.T) {
	adaptertest.RunRunStoreTest(t, func() profilesync.RunStore {
		return sqlite.NewRunStore(connectForTesting(t))
	})
}

func TestProfileStore(t *testing.T) {
	adaptertest.RunProfileStoreTest(t, func() profilesync.ProfileStore {
		return sqlite.NewProfileStore(connectForTesting(t))
	})
}

func TestInitSchemaIsRepeatable(t *testing.T) {
	db := connectForTesting(t)

	err := sqlite.InitSchema(db)
	jtest.RequireNil(t, err)

	store := sqlite.NewProfileStore(db)
	_, err = store.Create(context.Background(), "ada@example.com", profilesync.ProfileFields{
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	jtest.RequireNil(t, err)

	err = sqlite.InitSchema(db)
	jtest.RequireNil(t, err)

	list, err := store.List(context.Background())
	jtest.RequireNil(t, err)
	require.Len(t, list, 1)
}

func connectForTesting(t *testing.T) *sql.DB {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	jtest.RequireNil(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	err = sqlite.InitSchema(db)
	jtest.RequireNil(t, err)

	return db
}
