package operator

import "github.com/l7mp/livequery/pkg/collection"

// Join is not supported, it always returns ErrNotSupported.
func Join[O, I, R comparable](_ collection.Observable[O], _ collection.Observable[I], _ Options) (Query[R], error) {
	return nil, NewNotSupportedError("join")
}

// Intersect is not supported, it always returns ErrNotSupported.
func Intersect[T comparable](_, _ collection.Observable[T], _ Options) (Query[T], error) {
	return nil, NewNotSupportedError("intersect")
}

// Except is not supported, it always returns ErrNotSupported.
func Except[T comparable](_, _ collection.Observable[T], _ Options) (Query[T], error) {
	return nil, NewNotSupportedError("except")
}

// Zip is not supported, it always returns ErrNotSupported.
func Zip[A, B, R comparable](_ collection.Observable[A], _ collection.Observable[B], _ Options) (Query[R], error) {
	return nil, NewNotSupportedError("zip")
}
