package proxyerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure for logging at the connection boundary.
type Kind string

const (
	// Empty or unparseable request line.
	KindParse Kind = "parse"
	// Origin unreachable, reset, or failing mid-transfer.
	KindConnect Kind = "connect"
	// Cache directory or database failures.
	KindStorage Kind = "storage"
	// Deadline exceeded while talking to an origin.
	KindTimeout Kind = "timeout"
	// Anything not produced by this package.
	KindUnknown Kind = "unknown"
)

// Error is a failure of a single proxy operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap makes the wrapped error reachable for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error {
	return e.Err
}

// New creates an error of the given kind with a message and stack trace.
func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(message)}
}

// Wrap annotates err with a kind and the operation that failed.
// It returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
