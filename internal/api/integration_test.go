package api_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"usersvc/internal/api"
	"usersvc/internal/audit"
	"usersvc/internal/domain"
	"usersvc/internal/testutil"
)

type errorBody struct {
	Error  string              `json:"error"`
	Errors map[string][]string `json:"errors"`
}

func TestIntegration_UserLifecycle(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.DefaultTestServerConfig())

	resp := ts.Do(t, http.MethodPost, "/user", testutil.JSONBody(t, domain.User{Username: "ada", Email: "ada@example.com", Bio: "analyst"}))
	testutil.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = ts.Do(t, http.MethodPut, "/user/ada", strings.NewReader(`{"bio":"engine"}`))
	testutil.AssertStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	resp = ts.Do(t, http.MethodGet, "/user/ada", nil)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var got domain.User
	testutil.ReadJSONResponse(t, resp, &got)
	want := domain.User{Username: "ada", Email: "ada@example.com", Bio: "engine"}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	resp = ts.Do(t, http.MethodPost, "/user", testutil.JSONBody(t, domain.User{Username: "grace", Email: "ada@example.com", Bio: ""}))
	testutil.AssertStatus(t, resp, http.StatusUnprocessableEntity)
	var conflict errorBody
	testutil.ReadJSONResponse(t, resp, &conflict)
	if msgs := conflict.Errors["email"]; len(msgs) != 1 || msgs[0] != "already taken" {
		t.Fatalf("expected email: [already taken], got %v", conflict.Errors)
	}

	events, total, err := ts.AuditLogger.List(t.Context(), audit.ListOptions{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if total != 2 || events[0].Action != audit.ActionUpdate || events[1].Action != audit.ActionCreate {
		t.Fatalf("expected update then create, got %d events", total)
	}
}

func TestIntegration_RateLimit(t *testing.T) {
	cfg := testutil.DefaultTestServerConfig()
	cfg.EnableRateLimit = true
	cfg.RateLimitConfig = api.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	ts := testutil.NewTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		resp := ts.Do(t, http.MethodGet, "/user", nil)
		testutil.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp := ts.Do(t, http.MethodGet, "/user", nil)
	defer resp.Body.Close()
	testutil.AssertStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	testutil.AssertHeader(t, resp, "X-RateLimit-Remaining", "0")
}

func TestIntegration_MetricsEndpoint(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.DefaultTestServerConfig())

	resp := ts.Do(t, http.MethodGet, "/user/nobody", nil)
	testutil.AssertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = ts.Do(t, http.MethodGet, "/metrics", nil)
	testutil.AssertStatus(t, resp, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), `path="/user/{username}",status="404"`) {
		t.Fatalf("expected normalized 404 sample in metrics, got:\n%s", body)
	}
}
