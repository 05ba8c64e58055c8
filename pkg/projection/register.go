// Package projection implements the projection register: an identity-preserving memo from source
// elements to the projections computed for them.
//
// The register lets a mapping operator hand out the same projected instance for every occurrence
// of a source element, and find the previously returned instance when the element is re-projected
// after a property change.
package projection

import "sync"

type entry[R any] struct {
	value R
	refs  int
}

// Register maps source elements to their most recent projection. Entries are reference counted
// per occurrence of the source element.
type Register[S comparable, R any] struct {
	mu      sync.Mutex
	project func(S) (R, error)
	entries map[S]*entry[R]
}

// New creates a register using the given projector.
func New[S comparable, R any](project func(S) (R, error)) *Register[S, R] {
	return &Register[S, R]{project: project, entries: map[S]*entry[R]{}}
}

// CreateOrGetProjection returns the cached projection of item, computing and storing it first if
// there is none. Each call adds one reference to the entry.
func (r *Register[S, R]) CreateOrGetProjection(item S) (R, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[item]; ok {
		e.refs++
		return e.value, nil
	}

	v, err := r.project(item)
	if err != nil {
		var zero R
		return zero, err
	}
	r.entries[item] = &entry[R]{value: v, refs: 1}
	return v, nil
}

// Reproject recomputes the projection of a registered item and returns the previous and the new
// projection. The register is left unchanged if the projector fails.
func (r *Register[S, R]) Reproject(item S) (old, cur R, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[item]
	if !ok {
		return old, cur, errNotRegistered
	}

	v, err := r.project(item)
	if err != nil {
		return old, cur, err
	}
	old = e.value
	e.value = v
	return old, v, nil
}

// Remove drops one reference to the entry of item and reports whether the entry was deleted.
func (r *Register[S, R]) Remove(item S) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[item]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(r.entries, item)
	return true
}

// Clear drops all entries.
func (r *Register[S, R]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[S]*entry[R]{}
}

// Len returns the number of distinct registered source elements.
func (r *Register[S, R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
