// Package api serves the user records HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"usersvc/internal/apperr"
	"usersvc/internal/audit"
	"usersvc/internal/observability"
	"usersvc/internal/validation"
)

type apiError struct {
	Error  string              `json:"error"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Pinger is satisfied by stores that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies shared by every route group.
type Server struct {
	mux         *http.ServeMux
	health      Pinger
	logger      observability.Logger
	metrics     *observability.Metrics
	auditLogger audit.Logger
	proxies     *TrustedProxyConfig
}

// NewServer creates a Server. A nil logger logs JSON to stdout, nil metrics
// disables /metrics and a nil auditLogger gets an in-memory one.
func NewServer(mux *http.ServeMux, health Pinger, logger observability.Logger, metrics *observability.Metrics, auditLogger audit.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if auditLogger == nil {
		auditLogger = audit.NewMemoryLogger(0)
	}
	return &Server{mux: mux, health: health, logger: logger, metrics: metrics, auditLogger: auditLogger}
}

// SetTrustedProxies makes audit records use the same client address as the
// rate limiter when requests arrive through a trusted proxy.
func (s *Server) SetTrustedProxies(proxies *TrustedProxyConfig) {
	s.proxies = proxies
}

// RegisterRoutes registers the operational endpoints.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/openapi.yaml", s.handleOpenAPISpec)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/audit", s.handleAuditList)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{"status", code, "error", msg}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		captureMessage(ctx, fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

// writeAppErr renders a classified error. Internal causes are logged and
// reported but never sent to the client.
func (s *Server) writeAppErr(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, validation.ErrMalformed) {
		s.writeErr(ctx, w, http.StatusBadRequest, "malformed request", err.Error())
		return
	}
	e := apperr.As(err)
	switch e.Kind {
	case apperr.KindNotFound:
		s.logger.DebugContext(ctx, "not found")
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
	case apperr.KindValidation:
		for field := range e.Fields {
			var cv interface{ Constraint() string }
			if errors.As(e.Err, &cv) {
				s.metrics.RecordConstraintViolation(field)
			}
		}
		s.logger.WarnContext(ctx, "validation failed", "fields", e.Fields)
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "validation failed", Errors: e.Fields})
	default:
		s.logger.ErrorContext(ctx, "internal error", "error", e.Error())
		captureException(ctx, e)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	s.writeErr(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed", "")
}

func (s *Server) logAudit(ctx context.Context, r *http.Request, action, username string, fields []string, status int) {
	event := &audit.Event{
		Actor:      audit.ActorAnonymous,
		Action:     action,
		Username:   username,
		Fields:     fields,
		RequestID:  observability.RequestIDFromContext(ctx),
		IPAddress:  clientKeyWithProxies(r, s.proxies),
		StatusCode: status,
	}
	if err := s.auditLogger.Log(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", "error", err)
	}
}

func hubFor(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func captureMessage(ctx context.Context, msg string) {
	hubFor(ctx).CaptureMessage(msg)
}

func captureException(ctx context.Context, err error) {
	hubFor(ctx).CaptureException(err)
}
