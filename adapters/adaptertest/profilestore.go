package adaptertest

import (
	"context"
	"strings"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
)

func RunProfileStoreTest(t *testing.T, factory func() profilesync.ProfileStore) {
	tests := []func(t *testing.T, store profilesync.ProfileStore){
		testCreateAndLookup,
		testUpsertMissing,
		testUpsertIsIdempotent,
		testUpsertValidation,
		testList,
	}

	for _, test := range tests {
		storeForTesting := factory()
		test(t, storeForTesting)
	}
}

func testCreateAndLookup(t *testing.T, store profilesync.ProfileStore) {
	t.Run("Create stores a new profile and rejects a second create", func(t *testing.T) {
		ctx := context.Background()
		fields := profilesync.ProfileFields{FirstName: "Ada", LastName: "Lovelace"}

		_, err := store.Lookup(ctx, "ada@example.com")
		jtest.Require(t, profilesync.ErrNotFound, err)

		created, err := store.Create(ctx, "ada@example.com", fields)
		jtest.RequireNil(t, err)
		require.Equal(t, "ada@example.com", created.SubjectID)
		require.Equal(t, fields, created.ProfileFields)

		_, err = store.Create(ctx, "ada@example.com", fields)
		jtest.Require(t, profilesync.ErrProfileExists, err)

		found, err := store.Lookup(ctx, "ada@example.com")
		jtest.RequireNil(t, err)
		require.Equal(t, fields, found.ProfileFields)
		require.Equal(t, created.Version, found.Version)
	})
}

func testUpsertMissing(t *testing.T, store profilesync.ProfileStore) {
	t.Run("Upsert of an unknown subject returns ErrNotFound", func(t *testing.T) {
		ctx := context.Background()

		_, err := store.Upsert(ctx, "nobody@example.com", profilesync.ProfileFields{FirstName: "No", LastName: "Body"})
		jtest.Require(t, profilesync.ErrNotFound, err)

		list, err := store.List(ctx)
		jtest.RequireNil(t, err)
		require.Empty(t, list)
	})
}

func testUpsertIsIdempotent(t *testing.T, store profilesync.ProfileStore) {
	t.Run("Repeating an upsert leaves an identical record and no duplicates", func(t *testing.T) {
		ctx := context.Background()

		_, err := store.Create(ctx, "grace@example.com", profilesync.ProfileFields{FirstName: "Grace", LastName: "Hopper"})
		jtest.RequireNil(t, err)

		update := profilesync.ProfileFields{
			FirstName:   "Grace",
			LastName:    "Hopper",
			PhoneNumber: "555-0100",
			City:        "Arlington",
			Pincode:     "22201",
		}

		first, err := store.Upsert(ctx, "grace@example.com", update)
		jtest.RequireNil(t, err)
		require.Equal(t, update, first.ProfileFields)

		second, err := store.Upsert(ctx, "grace@example.com", update)
		jtest.RequireNil(t, err)
		require.Equal(t, first.ProfileFields, second.ProfileFields)
		require.Equal(t, first.Version, second.Version)
		require.True(t, first.UpdatedAt.Equal(second.UpdatedAt))

		list, err := store.List(ctx)
		jtest.RequireNil(t, err)
		require.Len(t, list, 1)
	})
}

func testUpsertValidation(t *testing.T, store profilesync.ProfileStore) {
	t.Run("Upsert rejects a profile without a last name or with oversized fields", func(t *testing.T) {
		ctx := context.Background()

		_, err := store.Create(ctx, "alan@example.com", profilesync.ProfileFields{FirstName: "Alan", LastName: "Turing"})
		jtest.RequireNil(t, err)

		_, err = store.Upsert(ctx, "alan@example.com", profilesync.ProfileFields{FirstName: "Alan"})
		jtest.Require(t, profilesync.ErrValidation, err)

		_, err = store.Upsert(ctx, "alan@example.com", profilesync.ProfileFields{
			FirstName: "Alan",
			LastName:  "Turing",
			City:      strings.Repeat("x", 256),
		})
		jtest.Require(t, profilesync.ErrValidation, err)

		found, err := store.Lookup(ctx, "alan@example.com")
		jtest.RequireNil(t, err)
		require.Equal(t, "Turing", found.LastName)
		require.Empty(t, found.City)
	})
}

func testList(t *testing.T, store profilesync.ProfileStore) {
	t.Run("List returns every profile ordered by email", func(t *testing.T) {
		ctx := context.Background()

		for _, email := range []string{"c@example.com", "a@example.com", "b@example.com"} {
			_, err := store.Create(ctx, email, profilesync.ProfileFields{FirstName: "F", LastName: "L"})
			jtest.RequireNil(t, err)
		}

		list, err := store.List(ctx)
		jtest.RequireNil(t, err)

		var emails []string
		for _, p := range list {
			emails = append(emails, p.SubjectID)
		}

		require.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, emails)
	})
}
