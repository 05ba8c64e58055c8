package projection

import "errors"

var errNotRegistered = errors.New("element has no registered projection")

// IsNotRegistered reports whether err was returned for an unregistered element.
func IsNotRegistered(err error) bool { return errors.Is(err, errNotRegistered) }
