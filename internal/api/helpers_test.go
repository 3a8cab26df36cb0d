package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"usersvc/internal/apperr"
	"usersvc/internal/audit"
	"usersvc/internal/domain"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
)

type testEnv struct {
	handler http.Handler
	store   storage.Store
	audit   *audit.MemoryLogger
	metrics *observability.Metrics
}

func userRules() *apperr.Translator {
	return apperr.NewTranslator(
		apperr.Rule{Constraint: storage.UsernameConstraint, Field: "username", Message: "already taken"},
		apperr.Rule{Constraint: storage.EmailConstraint, Field: "email", Message: "already taken"},
	)
}

func newTestEnv(t *testing.T, st storage.Store) *testEnv {
	t.Helper()
	if st == nil {
		st = storage.NewMemoryStore()
	}
	mux := http.NewServeMux()
	logger := observability.NewLogger(observability.Config{Level: "debug", Format: "json", Output: io.Discard})
	metrics := observability.NewMetrics("", "test")
	auditLogger := audit.NewMemoryLogger(100)

	srv := NewServer(mux, st, logger, metrics, auditLogger)
	srv.RegisterRoutes()
	NewUserServer(srv, st, userRules()).RegisterUserRoutes()

	h := ApplyMiddlewares(mux, metrics.Middleware, RequestIDMiddleware(), LoggingMiddleware(logger))
	return &testEnv{handler: h, store: st, audit: auditLogger, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// failingStore fails every call with err.
type failingStore struct{ err error }

func (f failingStore) GetUser(context.Context, string) (domain.User, bool, error) {
	return domain.User{}, false, f.err
}
func (f failingStore) ListUsers(context.Context, domain.Page) ([]domain.User, error) {
	return nil, f.err
}
func (f failingStore) CreateUser(context.Context, domain.User) error { return f.err }
func (f failingStore) UpdateUser(context.Context, string, domain.UserUpdate) (bool, error) {
	return false, f.err
}
func (f failingStore) Ping(context.Context) error { return f.err }
func (f failingStore) Close() error               { return nil }

var errBackend = errors.New("connection refused: db.internal:5432")
