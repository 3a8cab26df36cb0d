// Package storetest holds the behavioral test suite every storage.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/sync/errgroup"

	"usersvc/internal/domain"
	"usersvc/internal/storage"
)

// Factory returns an empty store. Implementations register cleanup on t.
type Factory func(t *testing.T) storage.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"GetMissing", testGetMissing},
		{"CreateThenGet", testCreateThenGet},
		{"ListPaging", testListPaging},
		{"ListEmpty", testListEmpty},
		{"DuplicateUsername", testDuplicateUsername},
		{"DuplicateEmail", testDuplicateEmail},
		{"UpdateBioOnly", testUpdateBioOnly},
		{"UpdateEmpty", testUpdateEmpty},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateEmailConflict", testUpdateEmailConflict},
		{"ConcurrentCreate", testConcurrentCreate},
		{"PropertyCoalesce", testPropertyCoalesce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustCreate(t *testing.T, s storage.Store, u domain.User) {
	t.Helper()
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create %s: %v", u.Username, err)
	}
}

func strPtr(s string) *string { return &s }

func testGetMissing(t *testing.T, s storage.Store) {
	_, ok, err := s.GetUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected missing user to be not found")
	}
}

func testCreateThenGet(t *testing.T, s storage.Store) {
	want := domain.User{Username: "ada", Email: "ada@example.com", Bio: "analyst"}
	mustCreate(t, s, want)

	got, ok, err := s.GetUser(context.Background(), "ada")
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func testListPaging(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, name := range []string{"carol", "alice", "bob"} {
		mustCreate(t, s, domain.User{Username: name, Email: name + "@example.com"})
	}

	first, err := s.ListUsers(ctx, domain.Page{Offset: 0, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 users, got %d", len(first))
	}
	if first[0].Username != "alice" || first[1].Username != "bob" {
		t.Fatalf("expected alice,bob got %s,%s", first[0].Username, first[1].Username)
	}

	rest, err := s.ListUsers(ctx, domain.Page{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rest) != 1 || rest[0].Username != "carol" {
		t.Fatalf("expected [carol], got %+v", rest)
	}

	past, err := s.ListUsers(ctx, domain.Page{Offset: 3, Limit: domain.DefaultPageLimit})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if past == nil || len(past) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", past)
	}

	all, err := s.ListUsers(ctx, domain.DefaultPage())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 users, got %d", len(all))
	}
}

func testListEmpty(t *testing.T, s storage.Store) {
	got, err := s.ListUsers(context.Background(), domain.DefaultPage())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func testDuplicateUsername(t *testing.T, s storage.Store) {
	mustCreate(t, s, domain.User{Username: "ada", Email: "ada@example.com"})
	err := s.CreateUser(context.Background(), domain.User{Username: "ada", Email: "other@example.com"})
	if !storage.IsConstraint(err, storage.UsernameConstraint) {
		t.Fatalf("expected %s violation, got %v", storage.UsernameConstraint, err)
	}
}

func testDuplicateEmail(t *testing.T, s storage.Store) {
	mustCreate(t, s, domain.User{Username: "ada", Email: "ada@example.com"})
	err := s.CreateUser(context.Background(), domain.User{Username: "grace", Email: "ada@example.com"})
	if !storage.IsConstraint(err, storage.EmailConstraint) {
		t.Fatalf("expected %s violation, got %v", storage.EmailConstraint, err)
	}
	if _, ok, _ := s.GetUser(context.Background(), "grace"); ok {
		t.Fatalf("rejected user must not be stored")
	}
}

func testUpdateBioOnly(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, domain.User{Username: "ada", Email: "ada@example.com", Bio: "old"})

	ok, err := s.UpdateUser(ctx, "ada", domain.UserUpdate{Bio: strPtr("new")})
	if err != nil || !ok {
		t.Fatalf("update: %v ok=%v", err, ok)
	}
	got, _, _ := s.GetUser(ctx, "ada")
	if got.Bio != "new" || got.Email != "ada@example.com" {
		t.Fatalf("expected bio updated and email kept, got %+v", got)
	}
}

func testUpdateEmpty(t *testing.T, s storage.Store) {
	ctx := context.Background()
	want := domain.User{Username: "ada", Email: "ada@example.com", Bio: "bio"}
	mustCreate(t, s, want)

	ok, err := s.UpdateUser(ctx, "ada", domain.UserUpdate{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if !ok {
		t.Fatalf("expected empty update to match the existing row")
	}
	got, _, _ := s.GetUser(ctx, "ada")
	if got != want {
		t.Fatalf("empty update changed the row: %+v", got)
	}
}

func testUpdateMissing(t *testing.T, s storage.Store) {
	ok, err := s.UpdateUser(context.Background(), "ghost", domain.UserUpdate{Bio: strPtr("boo")})
	if err != nil {
		t.Fatalf("update missing: %v", err)
	}
	if ok {
		t.Fatalf("expected no row matched")
	}
	if _, found, _ := s.GetUser(context.Background(), "ghost"); found {
		t.Fatalf("update must not create a row")
	}
}

func testUpdateEmailConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, domain.User{Username: "ada", Email: "ada@example.com"})
	mustCreate(t, s, domain.User{Username: "grace", Email: "grace@example.com"})

	_, err := s.UpdateUser(ctx, "grace", domain.UserUpdate{Email: strPtr("ada@example.com")})
	if !storage.IsConstraint(err, storage.EmailConstraint) {
		t.Fatalf("expected %s violation, got %v", storage.EmailConstraint, err)
	}
	got, _, _ := s.GetUser(ctx, "grace")
	if got.Email != "grace@example.com" {
		t.Fatalf("failed update must not change the row, got %+v", got)
	}

	// Re-setting one's own email is not a conflict.
	if _, err := s.UpdateUser(ctx, "ada", domain.UserUpdate{Email: strPtr("ada@example.com")}); err != nil {
		t.Fatalf("self email update: %v", err)
	}
}

func testConcurrentCreate(t *testing.T, s storage.Store) {
	const attempts = 8
	var created, conflicts atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			err := s.CreateUser(ctx, domain.User{Username: "racer", Email: fmt.Sprintf("racer%d@example.com", i)})
			switch {
			case err == nil:
				created.Add(1)
			case storage.IsConstraint(err, storage.UsernameConstraint):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error during race: %v", err)
	}
	if created.Load() != 1 || conflicts.Load() != attempts-1 {
		t.Fatalf("expected 1 create and %d conflicts, got %d and %d", attempts-1, created.Load(), conflicts.Load())
	}
}

// testPropertyCoalesce checks that an update changes exactly the fields it carries.
func testPropertyCoalesce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	var seq atomic.Int64
	properties.Property("absent fields keep their stored value", prop.ForAll(
		func(email, bio, newEmail, newBio string, setEmail, setBio bool) bool {
			n := seq.Add(1)
			username := fmt.Sprintf("prop%d", n)
			before := domain.User{Username: username, Email: fmt.Sprintf("%d-%s", n, email), Bio: bio}
			if err := s.CreateUser(ctx, before); err != nil {
				t.Logf("create: %v", err)
				return false
			}

			var upd domain.UserUpdate
			if setEmail {
				upd.Email = strPtr(fmt.Sprintf("%d-new-%s", n, newEmail))
			}
			if setBio {
				upd.Bio = strPtr(newBio)
			}
			if ok, err := s.UpdateUser(ctx, username, upd); err != nil || !ok {
				t.Logf("update: %v ok=%v", err, ok)
				return false
			}

			after, ok, err := s.GetUser(ctx, username)
			if err != nil || !ok {
				return false
			}
			return after == upd.Apply(before)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
