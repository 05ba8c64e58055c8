package collection

import (
	"slices"
)

// Transaction groups mutations of a collection into one atomically delivered batch of events. The
// collection's exclusive lock is held from Begin until Commit or Rollback, mutations are applied to
// the live list immediately and logged; subscribers receive the log after the lock is released.
//
// A transaction is owned by a single goroutine. Nested scopes within the same logical operation
// are opened with Begin on the transaction itself.
type Transaction[T comparable] struct {
	c     *Collection[T]
	log   []ChangeEvent[T]
	prev  map[int][]T // contents before each logged Reset, for rollback
	depth int
	done  bool
}

// Begin opens a nested scope sharing the lock and the event log. Only the outermost Commit
// publishes the events.
func (tx *Transaction[T]) Begin() (*Transaction[T], error) {
	if tx.done {
		return nil, ErrTransactionDone
	}
	tx.depth++
	return tx, nil
}

// Len returns the current number of items, including uncommitted changes.
func (tx *Transaction[T]) Len() int { return len(tx.c.items) }

// At returns the current item at position i, including uncommitted changes.
func (tx *Transaction[T]) At(i int) (T, error) {
	if i < 0 || i >= len(tx.c.items) {
		var zero T
		return zero, newIndexError(i, len(tx.c.items))
	}
	return tx.c.items[i], nil
}

// IndexOf returns the position of the first occurrence of item or -1.
func (tx *Transaction[T]) IndexOf(item T) int { return slices.Index(tx.c.items, item) }

// Items returns a copy of the current contents, including uncommitted changes.
func (tx *Transaction[T]) Items() []T { return slices.Clone(tx.c.items) }

// Events returns the number of events logged so far.
func (tx *Transaction[T]) Events() int { return len(tx.log) }

func (tx *Transaction[T]) logEvent(ev ChangeEvent[T]) {
	tx.log = append(tx.log, ev)
	tx.c.snapshot.invalidate()
}

// Add appends an item.
func (tx *Transaction[T]) Add(item T) error {
	return tx.Insert(len(tx.c.items), item)
}

// Insert inserts an item at position i, 0 <= i <= Len().
func (tx *Transaction[T]) Insert(i int, item T) error {
	if tx.done {
		return ErrTransactionDone
	}
	if i < 0 || i > len(tx.c.items) {
		return newIndexError(i, len(tx.c.items))
	}

	tx.c.items = slices.Insert(tx.c.items, i, item)
	tx.logEvent(ChangeEvent[T]{Type: Added, Item: item, Index: i})
	return nil
}

// Remove removes the first occurrence of item and reports whether it was found.
func (tx *Transaction[T]) Remove(item T) (bool, error) {
	if tx.done {
		return false, ErrTransactionDone
	}
	i := slices.Index(tx.c.items, item)
	if i < 0 {
		return false, nil
	}
	return true, tx.RemoveAt(i)
}

// RemoveAt removes the item at position i.
func (tx *Transaction[T]) RemoveAt(i int) error {
	if tx.done {
		return ErrTransactionDone
	}
	if i < 0 || i >= len(tx.c.items) {
		return newIndexError(i, len(tx.c.items))
	}

	item := tx.c.items[i]
	tx.c.items = slices.Delete(tx.c.items, i, i+1)
	tx.logEvent(ChangeEvent[T]{Type: Removed, Item: item, Index: i})
	return nil
}

// Replace overwrites the item at position i.
func (tx *Transaction[T]) Replace(i int, item T) error {
	if tx.done {
		return ErrTransactionDone
	}
	if i < 0 || i >= len(tx.c.items) {
		return newIndexError(i, len(tx.c.items))
	}

	old := tx.c.items[i]
	tx.c.items[i] = item
	tx.logEvent(ChangeEvent[T]{Type: Replaced, Item: item, OldItem: old, Index: i})
	return nil
}

// Move removes the item at position from and reinserts it at position to. A target beyond the end
// of the shortened list appends. Moving an item onto its own position is a no-op.
func (tx *Transaction[T]) Move(from, to int) error {
	if tx.done {
		return ErrTransactionDone
	}
	if from < 0 || from >= len(tx.c.items) {
		return newIndexError(from, len(tx.c.items))
	}
	if to < 0 {
		return newIndexError(to, len(tx.c.items))
	}

	item := tx.c.items[from]
	items := slices.Delete(tx.c.items, from, from+1)
	if to > len(items) {
		to = len(items)
	}
	if to == from {
		tx.c.items = slices.Insert(items, from, item)
		return nil
	}
	tx.c.items = slices.Insert(items, to, item)
	tx.logEvent(ChangeEvent[T]{Type: Moved, Item: item, OldIndex: from, Index: to})
	return nil
}

// Clear removes all items with a single Reset event. Clearing an empty collection is a no-op.
func (tx *Transaction[T]) Clear() error {
	if tx.done {
		return ErrTransactionDone
	}
	if len(tx.c.items) == 0 {
		return nil
	}
	return tx.ResetTo(nil)
}

// ResetTo replaces the whole contents with items and logs a single Reset event.
func (tx *Transaction[T]) ResetTo(items []T) error {
	if tx.done {
		return ErrTransactionDone
	}

	if tx.prev == nil {
		tx.prev = map[int][]T{}
	}
	tx.prev[len(tx.log)] = tx.c.items
	tx.c.items = slices.Clone(items)
	tx.logEvent(ChangeEvent[T]{Type: Reset, Items: slices.Clone(items)})
	return nil
}

// Commit closes the current scope. Closing the outermost scope releases the lock and delivers the
// logged events, in order, to the subscribers; errors returned by handlers are aggregated. Commit
// returns once the batch has been delivered, also when another goroutine runs the delivery. A
// commit made by a handler during delivery returns at once, its events follow the current batch
// and its handler errors are reported to the committer of that batch.
func (tx *Transaction[T]) Commit() error {
	if tx.done {
		return ErrTransactionDone
	}
	if tx.depth > 0 {
		tx.depth--
		return nil
	}
	tx.done = true

	c := tx.c
	if len(tx.log) == 0 {
		c.mu.Unlock()
		return nil
	}

	gid := goroutineID()
	first := c.seq + 1
	c.seq += uint64(len(tx.log))
	b := c.dispatch.enqueue(gid, first, tx.log)
	c.log.V(5).Info("commit", "events", len(tx.log), "seq", c.seq)
	c.mu.Unlock()

	return c.dispatch.deliver(gid, b)
}

// Rollback undoes every mutation of the transaction, including nested scopes, and releases the
// lock without emitting any event. Rolling back a completed transaction is a no-op.
func (tx *Transaction[T]) Rollback() {
	if tx.done {
		return
	}
	tx.done = true

	c := tx.c
	for i := len(tx.log) - 1; i >= 0; i-- {
		ev := tx.log[i]
		switch ev.Type {
		case Added:
			c.items = slices.Delete(c.items, ev.Index, ev.Index+1)
		case Removed:
			c.items = slices.Insert(c.items, ev.Index, ev.Item)
		case Moved:
			c.items = slices.Delete(c.items, ev.Index, ev.Index+1)
			c.items = slices.Insert(c.items, ev.OldIndex, ev.Item)
		case Replaced:
			c.items[ev.Index] = ev.OldItem
		case Reset:
			c.items = tx.prev[i]
		}
	}
	if len(tx.log) > 0 {
		c.snapshot.invalidate()
		c.log.V(5).Info("rollback", "events", len(tx.log))
	}
	tx.log = nil
	c.mu.Unlock()
}
