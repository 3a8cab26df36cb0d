// Package audit records successful user mutations.
package audit

import (
	"context"
	"time"
)

// Event is one recorded mutation.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Username   string    `json:"username"`
	Fields     []string  `json:"fields,omitempty"` // fields the request carried
	RequestID  string    `json:"request_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	StatusCode int       `json:"status_code"`
}

// ListOptions filters and pages events. Zero Limit means DefaultListLimit.
type ListOptions struct {
	Limit    int
	Offset   int
	Action   string
	Username string
}

// Logger stores audit events.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	// List returns matching events newest first, plus the total match count.
	List(ctx context.Context, opts ListOptions) ([]*Event, int, error)
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// ActorAnonymous is the only actor until the service grows authentication.
const ActorAnonymous = "anonymous"

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)
