// Package validation parses and checks the shape of user API requests.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"usersvc/internal/apperr"
	"usersvc/internal/domain"
)

// ErrMalformed marks request-shape failures (bad JSON, bad query parameters).
var ErrMalformed = errors.New("malformed request")

// ParamError describes one bad query parameter.
type ParamError struct {
	Param  string
	Value  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrMalformed }

// ParsePage reads offset and limit from q. Absent parameters take the
// defaults; a non-integer, a negative offset or a non-positive limit is an error.
func ParsePage(q url.Values) (domain.Page, error) {
	page := domain.DefaultPage()
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return domain.Page{}, &ParamError{Param: "offset", Value: raw, Reason: "must be an integer"}
		}
		if n < 0 {
			return domain.Page{}, &ParamError{Param: "offset", Value: raw, Reason: "must not be negative"}
		}
		page.Offset = int(n)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return domain.Page{}, &ParamError{Param: "limit", Value: raw, Reason: "must be an integer"}
		}
		if n <= 0 {
			return domain.Page{}, &ParamError{Param: "limit", Value: raw, Reason: "must be positive"}
		}
		page.Limit = int(n)
	}
	return page, nil
}

// CreateUser is the POST /user payload. Pointers distinguish absent from empty.
type CreateUser struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Bio      *string `json:"bio"`
}

// Missing returns a message per absent field, or nil when all are present.
func (c CreateUser) Missing() map[string]string {
	missing := map[string]string{}
	if c.Username == nil {
		missing["username"] = "is required"
	}
	if c.Email == nil {
		missing["email"] = "is required"
	}
	if c.Bio == nil {
		missing["bio"] = "is required"
	}
	if len(missing) == 0 {
		return nil
	}
	return missing
}

// User converts a complete payload. Call Missing first.
func (c CreateUser) User() domain.User {
	var u domain.User
	if c.Username != nil {
		u.Username = *c.Username
	}
	if c.Email != nil {
		u.Email = *c.Email
	}
	if c.Bio != nil {
		u.Bio = *c.Bio
	}
	return u
}

// DecodeJSON reads exactly one JSON value from r into dst. Unknown fields
// are ignored. A well-formed value of the wrong type for a field is an
// apperr validation error keyed by that field; syntax errors and trailing
// data are malformed.
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrMalformed)
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.Validation(map[string]string{typeErr.Field: "must be a " + typeErr.Type.Kind().String()})
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON value", ErrMalformed)
	}
	return nil
}

// UsernameFromPath extracts the single segment after prefix from an escaped
// path (r.URL.EscapedPath()) and unescapes it, so "/user/a%2Fb" yields "a/b".
// It reports false for an empty segment, one spanning further raw slashes or
// an invalid escape.
func UsernameFromPath(escapedPath, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(escapedPath, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	name, err := url.PathUnescape(rest)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}
