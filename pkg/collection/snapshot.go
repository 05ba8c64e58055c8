package collection

import (
	"slices"
	"sync/atomic"
)

// snapshotCache holds a lazily built immutable copy of a collection's contents. Mutators invalidate
// it with the collection lock held exclusively, readers rebuild it with the lock held shared: since
// the live list cannot change under a shared lock, concurrent rebuilds produce identical copies and
// the first one to be stored wins.
type snapshotCache[T any] struct {
	cur atomic.Pointer[[]T]
}

func (s *snapshotCache[T]) invalidate() { s.cur.Store(nil) }

func (s *snapshotCache[T]) getOrBuild(live []T) []T {
	if p := s.cur.Load(); p != nil {
		return *p
	}

	cp := slices.Clone(live)
	if cp == nil {
		cp = []T{}
	}
	if !s.cur.CompareAndSwap(nil, &cp) {
		if p := s.cur.Load(); p != nil {
			return *p
		}
	}
	return cp
}
