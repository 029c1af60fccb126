package dto

import (
	"sort"
	"unicode/utf8"

	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

// FieldErrors maps a request field to what is wrong with it.
type FieldErrors map[string]string

// Add records msg for field unless the field already has an error.
func (f FieldErrors) Add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

// Fields returns the offending field names in stable order.
func (f FieldErrors) Fields() []string {
	out := make([]string, 0, len(f))
	for field := range f {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// Err converts the collected errors into a validation error, or nil.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	details := make(map[string]any, len(f))
	for field, msg := range f {
		details[field] = msg
	}
	return apperrors.NewValidationError("request validation failed", details)
}

func checkLength(errs FieldErrors, field, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	switch {
	case n < min && min == 1:
		errs.Add(field, "is required")
	case n < min:
		errs.Add(field, "must be at least "+itoa(min)+" characters")
	case max > 0 && n > max:
		errs.Add(field, "must be at most "+itoa(max)+" characters")
	}
}
