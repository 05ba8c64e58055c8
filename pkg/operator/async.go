package operator

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/livequery/pkg/collection"
)

var _ Query[int] = &Async[int]{}

// Async decouples a source from its consumers: the initial contents are transferred element by
// element on a background goroutine and later source changes are applied on the same goroutine.
// Consumers observe a growing result while IsLoading reports true.
type Async[T comparable] struct {
	id     string
	source collection.Observable[T]
	result *collection.Collection[T]
	opts   Options

	mu         sync.Mutex
	state      nodeState
	sub        *collection.Subscription[T]
	gen        uint64 // generation of the current source subscription
	cancel     context.CancelFunc
	loading    atomic.Bool
	loaded     chan struct{}
	loadedOnce sync.Once
	done       chan struct{}

	qmu    sync.Mutex
	queue  []asyncEvent[T]
	signal chan struct{}

	log logr.Logger
}

// asyncEvent is a queued source change tagged with the subscription generation it came from.
type asyncEvent[T comparable] struct {
	gen uint64
	ev  collection.ChangeEvent[T]
}

// Asynchronous wraps src into an asynchronously loaded live collection.
func Asynchronous[T comparable](src collection.Observable[T], opts Options) (*Async[T], error) {
	if src == nil {
		return nil, fmt.Errorf("async: nil source")
	}
	opts = opts.withDefaults()
	return &Async[T]{
		id:     uuid.NewString(),
		source: src,
		result: collection.New[T](collection.Options{Name: opts.Name, Logger: opts.Logger}),
		opts:   opts,
		loaded: make(chan struct{}),
		signal: make(chan struct{}, 1),
		log:    opts.Logger.WithName("async"),
	}, nil
}

// Info implements collection.Describer.
func (a *Async[T]) Info() collection.Info {
	return collection.Info{
		ID:     a.id,
		Kind:   "async",
		Name:   a.opts.Name,
		Inputs: []collection.Describer{a.source},
	}
}

func (a *Async[T]) ensureLoaded() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case loaded:
		return nil
	case disposed:
		return collection.ErrDisposed
	}

	gen := a.gen + 1
	items, sub, err := a.source.Observe(a.handler(gen))
	if err != nil {
		return fmt.Errorf("async: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.sub, a.gen, a.cancel = sub, gen, cancel
	a.done = make(chan struct{})
	a.state = loaded
	a.loading.Store(true)
	go a.run(ctx, gen, items)
	return nil
}

// handler returns the source handler of subscription generation gen.
func (a *Async[T]) handler(gen uint64) collection.Handler[T] {
	return func(ev collection.ChangeEvent[T]) error {
		a.qmu.Lock()
		a.queue = append(a.queue, asyncEvent[T]{gen: gen, ev: ev})
		a.qmu.Unlock()
		a.wake()
		return nil
	}
}

func (a *Async[T]) wake() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

func (a *Async[T]) closeLoaded() { a.loadedOnce.Do(func() { close(a.loaded) }) }

// resubscribe replaces the source subscription and queues a reset to the contents observed
// together with the new subscription, ahead of any event of that subscription. The worker drops
// events of older subscriptions once it has applied the reset.
func (a *Async[T]) resubscribe() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != loaded {
		return 0, collection.ErrDisposed
	}

	gen := a.gen + 1
	items, sub, err := a.source.Observe(a.handler(gen))
	if err != nil {
		return 0, fmt.Errorf("async: %w", err)
	}
	old := a.sub
	a.sub, a.gen = sub, gen
	old.Cancel()

	a.qmu.Lock()
	i := slices.IndexFunc(a.queue, func(e asyncEvent[T]) bool { return e.gen == gen })
	if i < 0 {
		i = len(a.queue)
	}
	reset := collection.ChangeEvent[T]{Type: collection.Reset, Items: items}
	a.queue = slices.Insert(a.queue, i, asyncEvent[T]{gen: gen, ev: reset})
	a.qmu.Unlock()
	a.wake()

	a.log.V(4).Info("source subscription renewed", "generation", gen)
	return gen, nil
}

func (a *Async[T]) run(ctx context.Context, cur uint64, items []T) {
	defer close(a.done)
	defer a.closeLoaded()

	a.log.V(1).Info("async load started", "items", len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if err := a.result.Add(item); err != nil {
			a.log.V(2).Info("async load aborted", "error", err.Error())
			return
		}
	}
	a.loading.Store(false)
	a.closeLoaded()
	a.log.V(1).Info("async load finished")

	for {
		a.qmu.Lock()
		queue := a.queue
		a.queue = nil
		a.qmu.Unlock()

		for _, e := range queue {
			if ctx.Err() != nil {
				return
			}
			if e.gen < cur {
				// superseded subscription
				continue
			}
			cur = e.gen
			if err := applyEvent(a.result, e.ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Error(err, "failed to apply source change, resynchronizing", "event", e.ev.String())
				gen, err := a.resubscribe()
				if err != nil {
					a.log.Error(err, "resynchronization failed")
					return
				}
				cur = gen
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-a.signal:
		}
	}
}

// applyEvent replays a change event on a collection.
func applyEvent[T comparable](c *collection.Collection[T], ev collection.ChangeEvent[T]) error {
	switch ev.Type {
	case collection.Added:
		return c.Insert(ev.Index, ev.Item)
	case collection.Removed:
		return c.RemoveAt(ev.Index)
	case collection.Moved:
		return c.Move(ev.OldIndex, ev.Index)
	case collection.Replaced:
		return c.Replace(ev.Index, ev.Item)
	case collection.Reset:
		return c.ResetTo(ev.Items)
	}
	return nil
}

// Loaded returns a channel that is closed when the initial contents have been transferred or the
// transfer was abandoned by Dispose.
func (a *Async[T]) Loaded() <-chan struct{} { return a.loaded }

// Refresh resets the result to the current source contents on the worker goroutine.
func (a *Async[T]) Refresh() error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	_, err := a.resubscribe()
	return err
}

// Observe implements collection.Observable. The returned contents may be partial while loading.
func (a *Async[T]) Observe(h collection.Handler[T]) ([]T, *collection.Subscription[T], error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, nil, err
	}
	return a.result.Observe(h)
}

// Snapshot implements collection.Observable.
func (a *Async[T]) Snapshot() ([]T, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	return a.result.Snapshot()
}

// Count implements collection.Observable.
func (a *Async[T]) Count() (int, error) {
	if err := a.ensureLoaded(); err != nil {
		return 0, err
	}
	return a.result.Count()
}

// At implements collection.Observable.
func (a *Async[T]) At(i int) (T, error) {
	if err := a.ensureLoaded(); err != nil {
		var zero T
		return zero, err
	}
	return a.result.At(i)
}

// All iterates over a snapshot of the result.
func (a *Async[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		items, err := a.Snapshot()
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
func (a *Async[T]) IsLoading() bool { return a.loading.Load() || a.source.IsLoading() }

// Dispose cancels the background transfer and disposes the result.
func (a *Async[T]) Dispose() {
	a.mu.Lock()
	if a.state == disposed {
		a.mu.Unlock()
		return
	}
	a.state = disposed
	if a.cancel != nil {
		a.cancel()
	}
	if a.sub != nil {
		a.sub.Cancel()
	}
	a.loading.Store(false)
	a.mu.Unlock()

	a.closeLoaded()
	a.result.Dispose()
	a.log.V(1).Info("disposed")
}
