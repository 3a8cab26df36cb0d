//go:build sqlite

package api_test

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"usersvc/internal/domain"
	sqlitestore "usersvc/internal/storage/sqlite"
	"usersvc/internal/testutil"
)

func newSQLiteServer(t *testing.T) *testutil.TestServerComponents {
	t.Helper()
	st, err := sqlitestore.New("file:" + filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	cfg := testutil.DefaultTestServerConfig()
	cfg.Store = st
	return testutil.NewTestServer(t, cfg)
}

// Racing creates go through real unique indexes and the constraint table.
func TestIntegrationSQLite_ConcurrentCreate(t *testing.T) {
	ts := newSQLiteServer(t)

	const attempts = 10
	var created, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			body := fmt.Sprintf(`{"username":"racer","email":"racer%d@example.com","bio":""}`, i)
			req, err := http.NewRequest(http.MethodPost, ts.URL("/user"), strings.NewReader(body))
			if err != nil {
				return err
			}
			resp, err := ts.Server.Client().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusCreated:
				created.Add(1)
			case http.StatusUnprocessableEntity:
				rejected.Add(1)
			default:
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("race: %v", err)
	}
	if created.Load() != 1 || rejected.Load() != attempts-1 {
		t.Fatalf("expected 1 created and %d rejected, got %d and %d", attempts-1, created.Load(), rejected.Load())
	}
}

func TestIntegrationSQLite_EmailConflictAndSlashUsername(t *testing.T) {
	ts := newSQLiteServer(t)

	resp := ts.Do(t, http.MethodPost, "/user", testutil.JSONBody(t, domain.User{Username: "a/b", Email: "ab@example.com", Bio: "x"}))
	testutil.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
	resp = ts.Do(t, http.MethodPost, "/user", testutil.JSONBody(t, domain.User{Username: "grace", Email: "grace@example.com", Bio: ""}))
	testutil.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = ts.Do(t, http.MethodPut, "/user/grace", strings.NewReader(`{"email":"ab@example.com"}`))
	testutil.AssertStatus(t, resp, http.StatusUnprocessableEntity)
	var conflict errorBody
	testutil.ReadJSONResponse(t, resp, &conflict)
	if msgs := conflict.Errors["email"]; len(msgs) != 1 || msgs[0] != "already taken" {
		t.Fatalf("expected email: [already taken], got %v", conflict.Errors)
	}

	resp = ts.Do(t, http.MethodGet, "/user/a%2Fb", nil)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var got domain.User
	testutil.ReadJSONResponse(t, resp, &got)
	if got.Username != "a/b" {
		t.Fatalf("expected a/b, got %+v", got)
	}
}
