package collection

import (
	"iter"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Options configures a Collection.
type Options struct {
	// Name is used in logs and graph visualization.
	Name string
	// Logger is the base logger, defaults to a discarding logger.
	Logger logr.Logger
}

var _ Observable[int] = &Collection[int]{}

// Collection is an ordered, mutable, observable list of elements. It is safe for concurrent use.
type Collection[T comparable] struct {
	mu       sync.RWMutex
	items    []T
	snapshot snapshotCache[T]
	seq      uint64
	disposed bool
	dispatch dispatcher[T]
	id, name string
	log      logr.Logger
}

// New creates an empty collection.
func New[T comparable](opts Options) *Collection[T] {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	c := &Collection[T]{
		id:   uuid.NewString(),
		name: opts.Name,
		log:  logger.WithName("collection").WithValues("name", opts.Name),
	}
	c.dispatch.log = c.log
	return c
}

// NewFrom creates a collection with the given initial contents. No events are emitted.
func NewFrom[T comparable](items []T, opts Options) *Collection[T] {
	c := New[T](opts)
	c.items = slices.Clone(items)
	return c
}

// Info implements Describer.
func (c *Collection[T]) Info() Info {
	return Info{ID: c.id, Kind: "collection", Name: c.name}
}

// Begin opens a transaction, blocking until the exclusive lock is acquired. The lock is held until
// the transaction is committed or rolled back.
func (c *Collection[T]) Begin() (*Transaction[T], error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	return &Transaction[T]{c: c}, nil
}

// Add appends an item.
func (c *Collection[T]) Add(item T) error {
	return c.do(func(tx *Transaction[T]) error { return tx.Add(item) })
}

// Insert inserts an item at position i.
func (c *Collection[T]) Insert(i int, item T) error {
	return c.do(func(tx *Transaction[T]) error { return tx.Insert(i, item) })
}

// Remove removes the first occurrence of item and reports whether it was found.
func (c *Collection[T]) Remove(item T) (bool, error) {
	found := false
	err := c.do(func(tx *Transaction[T]) error {
		var err error
		found, err = tx.Remove(item)
		return err
	})
	return found, err
}

// RemoveAt removes the item at position i.
func (c *Collection[T]) RemoveAt(i int) error {
	return c.do(func(tx *Transaction[T]) error { return tx.RemoveAt(i) })
}

// Replace overwrites the item at position i.
func (c *Collection[T]) Replace(i int, item T) error {
	return c.do(func(tx *Transaction[T]) error { return tx.Replace(i, item) })
}

// Move moves the item at position from to position to. A target beyond the end appends.
func (c *Collection[T]) Move(from, to int) error {
	return c.do(func(tx *Transaction[T]) error { return tx.Move(from, to) })
}

// Clear removes all items.
func (c *Collection[T]) Clear() error {
	return c.do(func(tx *Transaction[T]) error { return tx.Clear() })
}

// ResetTo replaces the contents with items and emits a single Reset event.
func (c *Collection[T]) ResetTo(items []T) error {
	return c.do(func(tx *Transaction[T]) error { return tx.ResetTo(items) })
}

func (c *Collection[T]) do(f func(tx *Transaction[T]) error) error {
	tx, err := c.Begin()
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Snapshot returns an immutable copy of the current contents. The returned slice is shared with
// other readers and must not be modified.
func (c *Collection[T]) Snapshot() ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return nil, ErrDisposed
	}
	return c.snapshot.getOrBuild(c.items), nil
}

// All iterates over a snapshot of the collection. The lock is held only while the snapshot is
// fetched, concurrent mutations do not affect a running iteration.
func (c *Collection[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		snap, err := c.Snapshot()
		if err != nil {
			return
		}
		for i, item := range snap {
			if !yield(i, item) {
				return
			}
		}
	}
}

// Count returns the number of items.
func (c *Collection[T]) Count() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return 0, ErrDisposed
	}
	return len(c.items), nil
}

// At returns the item at position i.
func (c *Collection[T]) At(i int) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	if c.disposed {
		return zero, ErrDisposed
	}
	if i < 0 || i >= len(c.items) {
		return zero, newIndexError(i, len(c.items))
	}
	return c.items[i], nil
}

// IndexOf returns the position of the first occurrence of item or -1.
func (c *Collection[T]) IndexOf(item T) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Index(c.items, item)
}

// IsLoading is always false for a source collection.
func (c *Collection[T]) IsLoading() bool { return false }

// Observe implements Observable.
func (c *Collection[T]) Observe(h Handler[T]) ([]T, *Subscription[T], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return nil, nil, ErrDisposed
	}

	snap := c.snapshot.getOrBuild(c.items)
	sub := c.dispatch.subscribe(h, c.seq)
	c.log.V(4).Info("subscriber registered", "since", c.seq, "size", len(snap))

	return snap, sub, nil
}

// Subscribe registers a handler for changes committed from now on.
func (c *Collection[T]) Subscribe(h Handler[T]) (*Subscription[T], error) {
	_, sub, err := c.Observe(h)
	return sub, err
}

// Subscribers returns the number of registered subscribers.
func (c *Collection[T]) Subscribers() int { return c.dispatch.numSubscribers() }

// Dispose cancels all subscriptions. Any later access fails with ErrDisposed.
func (c *Collection[T]) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.items = nil
	c.snapshot.invalidate()
	c.mu.Unlock()

	c.dispatch.cancelAll()
	c.log.V(1).Info("disposed")
}

// IsDisposed reports whether Dispose has been called.
func (c *Collection[T]) IsDisposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}
