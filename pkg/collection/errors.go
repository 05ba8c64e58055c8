package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned when a disposed collection or operator is accessed.
	ErrDisposed = errors.New("collection is disposed")
	// ErrIndexOutOfRange is returned for positional access beyond the bounds of a collection.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrTransactionDone is returned when a committed or rolled back transaction is reused.
	ErrTransactionDone = errors.New("transaction already completed")
)

func newIndexError(index, length int) error {
	return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, length)
}
