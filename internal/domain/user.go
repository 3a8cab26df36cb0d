// Package domain holds the user record types shared by storage and the API.
package domain

import "math"

// DefaultPageLimit is the limit applied when a list request does not specify one.
const DefaultPageLimit = math.MaxInt32

// User is a user record. Username is the natural key and never changes after creation.
type User struct {
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
	Bio      string `json:"bio" db:"bio"`
}

// UserUpdate is the input for a partial update.
// A nil field leaves the stored value unchanged.
type UserUpdate struct {
	Email *string `json:"email,omitempty"`
	Bio   *string `json:"bio,omitempty"`
}

// Fields names the fields the update carries, in a stable order.
func (u UserUpdate) Fields() []string {
	var out []string
	if u.Email != nil {
		out = append(out, "email")
	}
	if u.Bio != nil {
		out = append(out, "bio")
	}
	return out
}

// Apply returns a copy of user with the present fields of u overwritten.
func (u UserUpdate) Apply(user User) User {
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.Bio != nil {
		user.Bio = *u.Bio
	}
	return user
}

// Page bounds a list query.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// DefaultPage returns the page used when no pagination is requested.
func DefaultPage() Page {
	return Page{Offset: 0, Limit: DefaultPageLimit}
}
