package syncengine

import (
	"errors"
	"fmt"
)

var (
	errMissingStore     = errors.New("store dependency is required")
	errMissingTransport = errors.New("transport dependency is required")
	errMissingResolver  = errors.New("resolver dependency is required")
)

// EngineError wraps a construction-time or operational failure with a
// dotted code, in the shape of the teacher's ServiceError: a stable code for
// programmatic matching plus an unwrappable cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *EngineError) Code() string {
	return e.code
}

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
