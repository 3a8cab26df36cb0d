package apperr

import (
	"errors"
	"fmt"
)

// constraintViolation is implemented by storage errors that carry the identity
// of the integrity constraint that rejected a write.
type constraintViolation interface {
	error
	Constraint() string
}

// Rule maps one constraint identity to a field-keyed validation message.
type Rule struct {
	Constraint string `yaml:"constraint"`
	Field      string `yaml:"field"`
	Message    string `yaml:"message"`
}

// Validate reports whether the rule is usable.
func (r Rule) Validate() error {
	switch {
	case r.Constraint == "":
		return errors.New("constraint rule: constraint is required")
	case r.Field == "":
		return fmt.Errorf("constraint rule %q: field is required", r.Constraint)
	case r.Message == "":
		return fmt.Errorf("constraint rule %q: message is required", r.Constraint)
	}
	return nil
}

// Translator rewrites storage failures into client-facing errors using a
// declarative constraint table. It holds no mutable state after construction.
type Translator struct {
	rules map[string]Rule
}

// NewTranslator builds a Translator. A later rule for the same constraint
// replaces an earlier one.
func NewTranslator(rules ...Rule) *Translator {
	t := &Translator{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		t.rules[r.Constraint] = r
	}
	return t
}

// Rules returns the configured rules keyed by constraint identity.
func (t *Translator) Rules() map[string]Rule {
	out := make(map[string]Rule, len(t.rules))
	for k, v := range t.rules {
		out[k] = v
	}
	return out
}

// Translate maps err to an *Error. A nil error stays nil; an *Error passes
// through; a violation of a registered constraint becomes KindValidation;
// everything else becomes KindInternal wrapping the original cause.
func (t *Translator) Translate(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	var cv constraintViolation
	if errors.As(err, &cv) {
		if r, ok := t.rules[cv.Constraint()]; ok {
			e := Validation(map[string]string{r.Field: r.Message})
			e.Err = err
			return e
		}
	}
	return Internal(err)
}
