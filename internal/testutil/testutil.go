// Package testutil provides helpers for end-to-end tests that drive the
// user API over a real HTTP listener.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"usersvc/internal/api"
	"usersvc/internal/apperr"
	"usersvc/internal/audit"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
)

// TestServerConfig holds configuration for creating a test server.
type TestServerConfig struct {
	// Store overrides the default in-memory store.
	Store storage.Store
	// EnableRateLimit enables rate limiting middleware.
	EnableRateLimit bool
	// RateLimitConfig configures rate limiting if enabled.
	RateLimitConfig api.RateLimitConfig
	// EnableMetrics enables metrics collection and the /metrics endpoint.
	EnableMetrics bool
	// AuditCapacity bounds the audit ring. Zero uses the audit default.
	AuditCapacity int
	// Rules overrides the constraint table. Nil uses the username and email rules.
	Rules []apperr.Rule
}

// DefaultTestServerConfig returns a basic test server configuration.
func DefaultTestServerConfig() TestServerConfig {
	return TestServerConfig{EnableMetrics: true}
}

// TestServerComponents holds all the components created for a test server.
type TestServerComponents struct {
	Server      *httptest.Server
	Store       storage.Store
	AuditLogger *audit.MemoryLogger
	Metrics     *observability.Metrics
	Logger      observability.Logger
}

// DefaultRules is the constraint table the service ships with.
func DefaultRules() []apperr.Rule {
	return []apperr.Rule{
		{Constraint: storage.UsernameConstraint, Field: "username", Message: "already taken"},
		{Constraint: storage.EmailConstraint, Field: "email", Message: "already taken"},
	}
}

// NewTestServer starts an httptest.Server wired the same way as the binary.
// The server and store are closed when the test finishes.
func NewTestServer(t *testing.T, cfg TestServerConfig) *TestServerComponents {
	t.Helper()

	store := cfg.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	logger := observability.NewLogger(observability.Config{
		Level:  "debug",
		Format: "json",
		Output: io.Discard,
	})

	var metrics *observability.Metrics
	if cfg.EnableMetrics {
		metrics = observability.NewMetrics("usersvc_test", "test")
	}
	auditLogger := audit.NewMemoryLogger(cfg.AuditCapacity)

	mux := http.NewServeMux()
	srv := api.NewServer(mux, store, logger, metrics, auditLogger)
	srv.RegisterRoutes()
	api.NewUserServer(srv, store, apperr.NewTranslator(rules...)).RegisterUserRoutes()

	middlewares := []api.Middleware{
		metrics.Middleware,
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger),
	}
	if cfg.EnableRateLimit {
		middlewares = append(middlewares, api.RateLimitMiddleware(cfg.RateLimitConfig, logger, metrics))
	}
	testServer := httptest.NewServer(api.ApplyMiddlewares(mux, middlewares...))

	t.Cleanup(func() {
		testServer.Close()
		_ = store.Close()
	})

	return &TestServerComponents{
		Server:      testServer,
		Store:       store,
		AuditLogger: auditLogger,
		Metrics:     metrics,
		Logger:      logger,
	}
}

// URL returns the full URL for a given path.
func (c *TestServerComponents) URL(path string) string {
	return c.Server.URL + path
}

// Do sends a request with an optional JSON body and returns the response.
func (c *TestServerComponents) Do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, c.URL(path), body)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// AssertStatus checks that the response has the expected status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, data)
	}
}

// AssertHeader checks that the response has the expected header value.
func AssertHeader(t *testing.T, resp *http.Response, key, expected string) {
	t.Helper()
	if got := resp.Header.Get(key); got != expected {
		t.Errorf("expected header %s=%q, got %q", key, expected, got)
	}
}

// JSONBody creates an io.Reader from a JSON-serializable value.
func JSONBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return bytes.NewReader(data)
}

// ReadJSONResponse reads, closes and unmarshals a JSON response body.
func ReadJSONResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal response: %v\nBody: %s", err, string(data))
	}
}
