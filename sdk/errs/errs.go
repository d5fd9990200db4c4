// Package errs provides the error taxonomy shared by the installer and the
// execution backend.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind int

// Set of error kinds.
const (
	Unknown Kind = iota
	Configuration
	Integrity
	TransientIO
	Execution
	Exhaustion
)

var kindNames = map[Kind]string{
	Unknown:       "unknown",
	Configuration: "configuration",
	Integrity:     "integrity",
	TransientIO:   "transient-io",
	Execution:     "execution",
	Exhaustion:    "exhaustion",
}

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	if s, exists := kindNames[k]; exists {
		return s
	}

	return kindNames[Unknown]
}

// Error wraps an error with its kind.
type Error struct {
	Kind Kind
	Err  error
}

// New wraps the error with the specified kind. A nil error returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Err: err}
}

// Newf constructs a new error of the specified kind using a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap provides access to the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first Error found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Unknown
}

// IsKind reports whether the error chain carries the specified kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
