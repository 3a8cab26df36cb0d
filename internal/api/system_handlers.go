package api

import (
	"net/http"

	apidocs "usersvc/docs"
	"usersvc/internal/audit"
	"usersvc/internal/validation"
)

func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(apidocs.OpenAPISpec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadinessResponse represents the JSON response for the readiness check endpoint.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleReady reports 200 when the store answers a ping and 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx := r.Context()
	resp := ReadinessResponse{Status: "ok", Checks: map[string]string{"database": "ok"}}
	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["database"] = "error"
			s.logger.ErrorContext(ctx, "readiness check failed", "check", "database", "error", err)
		}
	}
	if resp.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// auditPage is the GET /audit response body.
type auditPage struct {
	Events []*audit.Event `json:"events"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// GET /audit?limit=&offset=&action=&username=
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	page, err := validation.ParsePage(q)
	if err != nil {
		s.writeAppErr(r.Context(), w, err)
		return
	}
	limit := min(page.Limit, audit.MaxListLimit)
	if q.Get("limit") == "" {
		limit = audit.DefaultListLimit
	}

	events, total, err := s.auditLogger.List(r.Context(), audit.ListOptions{
		Limit:    limit,
		Offset:   page.Offset,
		Action:   q.Get("action"),
		Username: q.Get("username"),
	})
	if err != nil {
		s.writeAppErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditPage{Events: events, Total: total, Limit: limit, Offset: page.Offset})
}
