// Package apperr defines the error kinds exposed to API clients and the
// translator that maps storage failures onto them.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for client-facing purposes.
type Kind int

const (
	// KindInternal is any unclassified failure. Details are never shown to clients.
	KindInternal Kind = iota
	// KindNotFound means the addressed resource does not exist.
	KindNotFound
	// KindValidation means the input conflicts with rules or existing data.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Error is a classified error. Fields is only populated for KindValidation.
type Error struct {
	Kind   Kind
	Fields map[string][]string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return "not found"
	case KindValidation:
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], ", ")))
		}
		return "validation failed: " + strings.Join(parts, "; ")
	default:
		if e.Err != nil {
			return "internal error: " + e.Err.Error()
		}
		return "internal error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound returns a KindNotFound error.
func NotFound() *Error {
	return &Error{Kind: KindNotFound}
}

// Validation returns a KindValidation error with one message per field.
func Validation(fields map[string]string) *Error {
	e := &Error{Kind: KindValidation, Fields: make(map[string][]string, len(fields))}
	for k, v := range fields {
		e.Fields[k] = []string{v}
	}
	return e
}

// Internal wraps err as a KindInternal error.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// As converts err into an *Error, wrapping unclassified errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
