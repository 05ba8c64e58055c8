package operator

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySequence is returned by aggregates that are undefined on an empty input.
	ErrEmptySequence = errors.New("sequence contains no elements")

	// ErrNotSupported is returned by query operators that have no incremental implementation.
	ErrNotSupported = errors.New("operator not supported")
)

// NewNotSupportedError wraps ErrNotSupported with the name of the operator.
func NewNotSupportedError(op string) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, op)
}

// NewEvalError wraps an error returned by a user function.
func NewEvalError(op string, err error) error {
	return fmt.Errorf("%s: evaluation failed: %w", op, err)
}
