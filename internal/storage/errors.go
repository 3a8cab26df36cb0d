package storage

import (
	"errors"
	"fmt"
)

// Constraint identities for the users schema. Every adapter reports uniqueness
// failures under these names, whatever the underlying engine calls them.
const (
	UsernameConstraint = "users_username_key"
	EmailConstraint    = "users_email_key"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store closed")

// ConstraintError reports that a write was rejected by a named integrity constraint.
type ConstraintError struct {
	Name string
	Err  error
}

func (e *ConstraintError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("constraint %s violated: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("constraint %s violated", e.Name)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Constraint returns the identity of the violated constraint.
func (e *ConstraintError) Constraint() string { return e.Name }

// IsConstraint reports whether err is a violation of the named constraint.
func IsConstraint(err error, name string) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Name == name
}
