package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies where a failure came from
type Kind string

const (
	KindTransport  Kind = "transport"  // network failure or non-2xx status after retries
	KindProtocol   Kind = "protocol"   // malformed or unexpected server response
	KindValidation Kind = "validation" // invalid workflow descriptor or configuration
	KindIO         Kind = "io"         // local file system failure
)

// Error error tagged with a Kind and the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and op, returns nil for a nil err
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a new tagged error from a format string
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost tagged error in the chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
