package operator

import (
	"slices"

	"github.com/l7mp/livequery/pkg/collection"
)

// Mirror is an operator's private copy of its source contents. It always reflects the source as
// of the last successfully handled event, reactors read it to locate element positions.
type Mirror[S comparable] struct {
	items []S
}

// Items returns the mirrored elements. The slice must not be modified.
func (m *Mirror[S]) Items() []S { return m.items }

// Len returns the number of mirrored elements.
func (m *Mirror[S]) Len() int { return len(m.items) }

// At returns the element at position i.
func (m *Mirror[S]) At(i int) S { return m.items[i] }

// Contains reports whether item is present.
func (m *Mirror[S]) Contains(item S) bool { return slices.Contains(m.items, item) }

// Positions returns the ascending positions at which item occurs.
func (m *Mirror[S]) Positions(item S) []int {
	var ret []int
	for i, x := range m.items {
		if x == item {
			ret = append(ret, i)
		}
	}
	return ret
}

func (m *Mirror[S]) reset(items []S) { m.items = slices.Clone(items) }

// apply updates the mirror with a source event.
func (m *Mirror[S]) apply(ev collection.ChangeEvent[S]) {
	switch ev.Type {
	case collection.Added:
		m.items = slices.Insert(m.items, ev.Index, ev.Item)
	case collection.Removed:
		m.items = slices.Delete(m.items, ev.Index, ev.Index+1)
	case collection.Moved:
		m.items = slices.Delete(m.items, ev.OldIndex, ev.OldIndex+1)
		m.items = slices.Insert(m.items, ev.Index, ev.Item)
	case collection.Replaced:
		m.items[ev.Index] = ev.Item
	case collection.Reset:
		m.reset(ev.Items)
	}
}
