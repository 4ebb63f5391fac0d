package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAuthRequired is returned when an owner-scoped call has no user.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidCredentials is returned by Authenticate on a bad login.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrFormToken is returned when a page form lacks a valid form token.
	ErrFormToken = errors.New("form token missing or invalid")
)

// ValidationError reports malformed input, keyed by field name.
type ValidationError struct {
	Fields map[string][]string
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {msg}}}
}

// Add records msg against field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// NotFoundError reports a missing resource. Foreign tasks are reported the
// same way as absent ones.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
