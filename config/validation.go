package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// FieldError names one rejected configuration key.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// Validator accumulates field errors so Validate can report every problem
// in one pass. Methods return the receiver for chaining.
type Validator struct {
	errs []FieldError
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) check(ok bool, field, format string, args ...any) *Validator {
	if !ok {
		v.errs = append(v.errs, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	return v
}

func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	return v.check(strings.TrimSpace(value) != "", field, "must be set")
}

func (v *Validator) RequirePositive(field string, value int) *Validator {
	return v.check(value > 0, field, "must be > 0 (got %d)", value)
}

// ValidateRange checks min <= value <= max.
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	return v.check(value >= min && value <= max, field, "must be in [%d, %d] (got %d)", min, max, value)
}

func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	return v.check(value >= min && value <= max, field, "must be in [%g, %g] (got %g)", min, max, value)
}

// ValidateDBNumber checks a Redis logical database index.
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

func (v *Validator) ValidateOneOf(field, value string, allowed ...string) *Validator {
	return v.check(slices.Contains(allowed, value), field, "%q is not one of %s", value, strings.Join(allowed, ", "))
}

// ValidateIdentifier accepts names safe to splice into SQL unquoted.
func (v *Validator) ValidateIdentifier(field, value string) *Validator {
	return v.check(identifier.MatchString(value), field, "%q is not a plain identifier", value)
}

func (v *Validator) HasErrors() bool { return len(v.errs) > 0 }

func (v *Validator) Errors() []FieldError { return v.errs }

// Error joins every field error, or returns nil when none were recorded.
func (v *Validator) Error() error {
	if len(v.errs) == 0 {
		return nil
	}
	joined := make([]error, 0, len(v.errs)+1)
	joined = append(joined, errors.New("invalid configuration"))
	for _, e := range v.errs {
		joined = append(joined, e)
	}
	return errors.Join(joined...)
}
