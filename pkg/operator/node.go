package operator

import (
	"fmt"
	"iter"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/dependency"
)

// Reactor is the operator-specific part of a Node: it translates source changes into mutations of
// the result transaction. Reactors must evaluate every user function before mutating their own
// state or the transaction so that a failed evaluation can be rolled back cleanly.
type Reactor[S, R comparable] interface {
	// LoadInitial rebuilds the reactor state and the result from the full source contents.
	LoadInitial(tx *collection.Transaction[R], items []S) error
	// ReactToAdd handles an element inserted at position i.
	ReactToAdd(tx *collection.Transaction[R], item S, i int) error
	// ReactToRemove handles the removal of the element at position i.
	ReactToRemove(tx *collection.Transaction[R], item S, i int) error
	// ReactToMove handles the element moving from one position to another.
	ReactToMove(tx *collection.Transaction[R], item S, from, to int) error
	// ReactToReplace handles the element at position i being replaced.
	ReactToReplace(tx *collection.Transaction[R], old, item S, i int) error
	// ReactToItemChanged handles a change of a tracked property of an element.
	ReactToItemChanged(tx *collection.Transaction[R], item S, path string) error
}

// Query is a live query result.
type Query[T comparable] interface {
	collection.Observable[T]
	// All iterates over a snapshot of the result.
	All() iter.Seq2[int, T]
	// Refresh forces a full re-evaluation.
	Refresh() error
	// Dispose unsubscribes from the source and disposes the result.
	Dispose()
}

type nodeState int

const (
	unloaded nodeState = iota
	loaded
	disposed
)

var _ Query[int] = &Node[int, int]{}

// Node is the generic operator frame shared by the single-source operators. It owns the source
// subscription, the mirror of the source, the dependency tracker and the result collection, and
// delegates the translation of source changes to a Reactor.
type Node[S, R comparable] struct {
	id, kind, detail string
	source           collection.Observable[S]
	result           *collection.Collection[R]
	mirror           *Mirror[S]
	reactor          Reactor[S, R]
	tracker          *dependency.Tracker[S]
	opts             Options

	mu    sync.Mutex
	state nodeState
	stale bool
	sub   *collection.Subscription[S]
	owned []disposer // upstream operators created on behalf of this one

	log logr.Logger
}

type disposer interface{ Dispose() }

// NewNode creates an operator over src. The reactor constructor receives the mirror of the source
// maintained by the node.
func NewNode[S, R comparable](kind, detail string, src collection.Observable[S],
	newReactor func(m *Mirror[S]) Reactor[S, R], opts Options) (*Node[S, R], error) {
	if src == nil {
		return nil, fmt.Errorf("%s: nil source", kind)
	}
	opts = opts.withDefaults()
	log := opts.Logger.WithName(kind)
	if opts.Name != "" {
		log = log.WithValues("name", opts.Name)
	}

	n := &Node[S, R]{
		id:     uuid.NewString(),
		kind:   kind,
		detail: detail,
		source: src,
		result: collection.New[R](collection.Options{Name: opts.Name, Logger: opts.Logger}),
		mirror: &Mirror[S]{},
		opts:   opts,
		log:    log,
	}
	n.reactor = newReactor(n.mirror)

	tracker, err := dependency.New(opts.DependsOn, opts.External, dependency.Callbacks[S]{
		ItemChanged: n.itemChanged,
		Reset:       n.reset,
	}, dependency.Options{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	n.tracker = tracker

	return n, nil
}

// Info implements collection.Describer.
func (n *Node[S, R]) Info() collection.Info {
	return collection.Info{
		ID:     n.id,
		Kind:   n.kind,
		Name:   n.opts.Name,
		Detail: n.detail,
		Inputs: []collection.Describer{n.source},
	}
}

// ensureLoaded subscribes to the source and computes the initial result on first use.
func (n *Node[S, R]) ensureLoaded() error {
	n.mu.Lock()
	switch n.state {
	case loaded:
		n.mu.Unlock()
		return nil
	case disposed:
		n.mu.Unlock()
		return collection.ErrDisposed
	}

	start := n.opts.Clock.Now()
	items, sub, err := n.source.Observe(n.handle)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("%s: %w", n.kind, err)
	}

	tx, err := n.result.Begin()
	if err != nil {
		sub.Cancel()
		n.mu.Unlock()
		return err
	}
	if err := n.reactor.LoadInitial(tx, items); err != nil {
		tx.Rollback()
		sub.Cancel()
		n.mu.Unlock()
		n.opts.Metrics.Error(n.opts.label(n.kind))
		return NewEvalError(n.kind, err)
	}

	n.mirror.reset(items)
	n.tracker.Start()
	n.tracker.Reattach(items)
	n.sub = sub
	n.state = loaded
	n.mu.Unlock()

	n.opts.Metrics.ObserveLoad(n.opts.label(n.kind), n.opts.Clock.Since(start))
	n.log.V(1).Info("loaded", "source-items", len(items), "result-items", tx.Len())

	return tx.Commit()
}

// handle translates a source change event. The result is committed after the node lock is
// released so that downstream handlers may call back into the node.
//
// If the reactor fails the result is left intact and the node becomes stale: the mirror keeps
// following the source and every subsequent event retries a full reload.
func (n *Node[S, R]) handle(ev collection.ChangeEvent[S]) error {
	n.mu.Lock()
	if n.state != loaded {
		n.mu.Unlock()
		return nil
	}

	tx, err := n.result.Begin()
	if err != nil {
		n.mu.Unlock()
		return err
	}

	n.log.V(5).Info("source event", "event", ev.String(), "stale", n.stale)

	if n.stale {
		n.follow(ev)
		err = n.reactor.LoadInitial(tx, n.mirror.Items())
	} else {
		switch ev.Type {
		case collection.Added:
			err = n.reactor.ReactToAdd(tx, ev.Item, ev.Index)
		case collection.Removed:
			err = n.reactor.ReactToRemove(tx, ev.Item, ev.Index)
		case collection.Moved:
			err = n.reactor.ReactToMove(tx, ev.Item, ev.OldIndex, ev.Index)
		case collection.Replaced:
			err = n.reactor.ReactToReplace(tx, ev.OldItem, ev.Item, ev.Index)
		case collection.Reset:
			err = n.reactor.LoadInitial(tx, ev.Items)
		default:
			err = n.reactor.LoadInitial(tx, n.mirror.Items())
		}
		if err != nil {
			n.follow(ev)
			n.stale = true
		}
	}
	if err != nil {
		tx.Rollback()
		n.mu.Unlock()
		n.opts.Metrics.Error(n.opts.label(n.kind))
		n.log.V(2).Info("update failed, result unchanged", "event", ev.String(), "error", err.Error())
		return NewEvalError(n.kind, err)
	}

	if !n.stale {
		n.follow(ev)
	}
	n.stale = false
	n.mu.Unlock()

	n.opts.Metrics.Event(n.opts.label(n.kind), ev.Type.String())
	return tx.Commit()
}

// follow updates the mirror and the tracked elements with a source event.
func (n *Node[S, R]) follow(ev collection.ChangeEvent[S]) {
	n.mirror.apply(ev)
	switch ev.Type {
	case collection.Added:
		n.tracker.Attach(ev.Item)
	case collection.Removed:
		n.tracker.Detach(ev.Item)
	case collection.Replaced:
		n.tracker.Detach(ev.OldItem)
		n.tracker.Attach(ev.Item)
	case collection.Reset:
		n.tracker.Reattach(ev.Items)
	}
}

// itemChanged is called by the tracker when a tracked property of an element changes.
func (n *Node[S, R]) itemChanged(item S, path string) error {
	n.mu.Lock()
	if n.state != loaded || !n.mirror.Contains(item) {
		n.mu.Unlock()
		return nil
	}

	tx, err := n.result.Begin()
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if n.stale {
		err = n.reactor.LoadInitial(tx, n.mirror.Items())
	} else {
		err = n.reactor.ReactToItemChanged(tx, item, path)
	}
	if err != nil {
		tx.Rollback()
		n.mu.Unlock()
		n.opts.Metrics.Error(n.opts.label(n.kind))
		return NewEvalError(n.kind, err)
	}
	n.stale = false
	n.mu.Unlock()

	n.log.V(5).Info("item changed", "path", path, "events", tx.Events())
	n.opts.Metrics.Event(n.opts.label(n.kind), "ItemChanged")
	return tx.Commit()
}

// reset re-evaluates the whole query over the mirror.
func (n *Node[S, R]) reset(reason string) error {
	n.mu.Lock()
	if n.state != loaded {
		n.mu.Unlock()
		return nil
	}

	start := n.opts.Clock.Now()
	tx, err := n.result.Begin()
	if err != nil {
		n.mu.Unlock()
		return err
	}
	if err := n.reactor.LoadInitial(tx, n.mirror.Items()); err != nil {
		tx.Rollback()
		n.mu.Unlock()
		n.opts.Metrics.Error(n.opts.label(n.kind))
		return NewEvalError(n.kind, err)
	}
	n.stale = false
	n.mu.Unlock()

	n.log.V(2).Info("reset", "reason", reason)
	n.opts.Metrics.Reset(n.opts.label(n.kind))
	n.opts.Metrics.ObserveLoad(n.opts.label(n.kind), n.opts.Clock.Since(start))
	return tx.Commit()
}

// Refresh re-evaluates the query over the current source contents, loading it if necessary.
func (n *Node[S, R]) Refresh() error {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()

	switch state {
	case unloaded:
		return n.ensureLoaded()
	case disposed:
		return collection.ErrDisposed
	}
	return n.reset("refresh")
}

// Observe implements collection.Observable.
func (n *Node[S, R]) Observe(h collection.Handler[R]) ([]R, *collection.Subscription[R], error) {
	if err := n.ensureLoaded(); err != nil {
		return nil, nil, err
	}
	return n.result.Observe(h)
}

// Subscribe registers a handler for future changes of the result.
func (n *Node[S, R]) Subscribe(h collection.Handler[R]) (*collection.Subscription[R], error) {
	_, sub, err := n.Observe(h)
	return sub, err
}

// Snapshot implements collection.Observable.
func (n *Node[S, R]) Snapshot() ([]R, error) {
	if err := n.ensureLoaded(); err != nil {
		return nil, err
	}
	return n.result.Snapshot()
}

// Count implements collection.Observable.
func (n *Node[S, R]) Count() (int, error) {
	if err := n.ensureLoaded(); err != nil {
		return 0, err
	}
	return n.result.Count()
}

// At implements collection.Observable.
func (n *Node[S, R]) At(i int) (R, error) {
	if err := n.ensureLoaded(); err != nil {
		var zero R
		return zero, err
	}
	return n.result.At(i)
}

// All iterates over a snapshot of the result. Errors end the iteration silently.
func (n *Node[S, R]) All() iter.Seq2[int, R] {
	return func(yield func(int, R) bool) {
		items, err := n.Snapshot()
		if err != nil {
			return
		}
		for i, item := range items {
			if !yield(i, item) {
				return
			}
		}
	}
}

// IsLoading implements collection.Observable.
func (n *Node[S, R]) IsLoading() bool { return n.source.IsLoading() }

// IsLoaded reports whether the node has performed its initial load.
func (n *Node[S, R]) IsLoaded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == loaded
}

// Own ties the lifetime of d to the node: d is disposed together with the node, or at once if the
// node is already disposed.
func (n *Node[S, R]) Own(d interface{ Dispose() }) {
	n.mu.Lock()
	if n.state == disposed {
		n.mu.Unlock()
		d.Dispose()
		return
	}
	n.owned = append(n.owned, d)
	n.mu.Unlock()
}

// Dispose unsubscribes from the source, stops dependency tracking and disposes the result. It is
// idempotent.
func (n *Node[S, R]) Dispose() {
	n.mu.Lock()
	if n.state == disposed {
		n.mu.Unlock()
		return
	}
	n.state = disposed
	if n.sub != nil {
		n.sub.Cancel()
		n.sub = nil
	}
	n.tracker.Stop()
	if d, ok := n.reactor.(interface{ dispose() }); ok {
		d.dispose()
	}
	owned := n.owned
	n.owned = nil
	n.mu.Unlock()

	n.result.Dispose()
	for _, o := range owned {
		o.Dispose()
	}
	n.log.V(1).Info("disposed")
}
