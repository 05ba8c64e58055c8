package collection

import "fmt"

// EventType is the kind of a structural change.
type EventType int

const (
	// Added means Item was inserted at Index.
	Added EventType = iota
	// Removed means Item was removed from Index.
	Removed
	// Moved means Item was moved from OldIndex to Index.
	Moved
	// Replaced means OldItem at Index was replaced by Item.
	Replaced
	// Reset means the contents changed arbitrarily: discard derived state and reload from Items.
	Reset
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "Added"
	case Removed:
		return "Removed"
	case Moved:
		return "Moved"
	case Replaced:
		return "Replaced"
	case Reset:
		return "Reset"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// ChangeEvent describes a single structural change of a collection.
type ChangeEvent[T any] struct {
	Type EventType
	// Item is the added, removed, moved or new item.
	Item T
	// OldItem is the replaced item, only set for Replaced events.
	OldItem T
	// Index is the position of the change. For Moved events it is the target position.
	Index int
	// OldIndex is the source position of a Moved event.
	OldIndex int
	// Items holds the full contents after a Reset event. The slice must not be modified.
	Items []T
}

func (ev ChangeEvent[T]) String() string {
	switch ev.Type {
	case Added, Removed:
		return fmt.Sprintf("%s(%v@%d)", ev.Type, ev.Item, ev.Index)
	case Moved:
		return fmt.Sprintf("%s(%v:%d->%d)", ev.Type, ev.Item, ev.OldIndex, ev.Index)
	case Replaced:
		return fmt.Sprintf("%s(%v->%v@%d)", ev.Type, ev.OldItem, ev.Item, ev.Index)
	default:
		return fmt.Sprintf("%s(len=%d)", ev.Type, len(ev.Items))
	}
}

// Handler is called for each change event delivered to a subscriber. An error returned by a
// handler is propagated to the caller that committed the change.
type Handler[T any] func(ChangeEvent[T]) error
