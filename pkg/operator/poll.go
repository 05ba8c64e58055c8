package operator

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/livequery/internal/zset"
	"github.com/l7mp/livequery/pkg/collection"
)

// Lister produces a full listing of a data source.
type Lister[T any] interface {
	List(ctx context.Context) ([]T, error)
}

// ListerFunc adapts a function to a Lister.
type ListerFunc[T any] func(ctx context.Context) ([]T, error)

// List implements Lister.
func (f ListerFunc[T]) List(ctx context.Context) ([]T, error) { return f(ctx) }

// SnapshotLister lists the current contents of a live collection.
func SnapshotLister[T comparable](src collection.Observable[T]) Lister[T] {
	return ListerFunc[T](func(context.Context) ([]T, error) { return src.Snapshot() })
}

var _ Query[int] = &Poller[int]{}

// Poller turns a non-observable data source into a live collection by listing it periodically
// and applying the difference between consecutive listings to the result.
type Poller[T comparable] struct {
	id       string
	lister   Lister[T]
	interval time.Duration
	result   *collection.Collection[T]
	opts     Options

	mu     sync.Mutex
	state  nodeState
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// pollMu serializes polls and disposal.
	pollMu sync.Mutex

	log logr.Logger
}

// Poll creates a polling source. The first listing is performed synchronously on first use, then
// every interval until disposal.
func Poll[T comparable](lister Lister[T], interval time.Duration, opts Options) (*Poller[T], error) {
	if lister == nil {
		return nil, fmt.Errorf("poll: nil lister")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll: invalid interval %s", interval)
	}
	opts = opts.withDefaults()
	return &Poller[T]{
		id:       uuid.NewString(),
		lister:   lister,
		interval: interval,
		result:   collection.New[T](collection.Options{Name: opts.Name, Logger: opts.Logger}),
		opts:     opts,
		log:      opts.Logger.WithName("poll"),
	}, nil
}

// Info implements collection.Describer.
func (p *Poller[T]) Info() collection.Info {
	return collection.Info{
		ID:     p.id,
		Kind:   "poll",
		Name:   p.opts.Name,
		Detail: fmt.Sprintf("interval=%s", p.interval),
	}
}

func (p *Poller[T]) ensureLoaded() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case loaded:
		return nil
	case disposed:
		return collection.ErrDisposed
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.poll(ctx); err != nil {
		cancel()
		return err
	}
	p.ctx, p.cancel = ctx, cancel
	p.done = make(chan struct{})
	p.state = loaded
	go p.run(ctx)
	return nil
}

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.done)
	ticker := p.opts.Clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.V(1).Info("polling started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.log.V(1).Info("polling stopped")
			return
		case <-ticker.C():
			if err := p.poll(ctx); err != nil {
				p.log.Error(err, "poll failed")
			}
		}
	}
}

// poll lists the source and applies the delta. The result is committed after pollMu is released.
func (p *Poller[T]) poll(ctx context.Context) error {
	p.pollMu.Lock()
	items, err := p.lister.List(ctx)
	if err != nil {
		p.pollMu.Unlock()
		p.opts.Metrics.Error(p.opts.label("poll"))
		return fmt.Errorf("poll: %w", err)
	}
	if ctx.Err() != nil {
		p.pollMu.Unlock()
		return nil
	}

	tx, err := p.result.Begin()
	if err != nil {
		p.pollMu.Unlock()
		return err
	}
	if err := applyListing(tx, items); err != nil {
		tx.Rollback()
		p.pollMu.Unlock()
		return err
	}
	p.pollMu.Unlock()

	if n := tx.Events(); n > 0 {
		p.log.V(5).Info("poll applied", "events", n)
		p.opts.Metrics.Event(p.opts.label("poll"), "Poll")
	}
	return tx.Commit()
}

// applyListing removes the occurrences missing from items, then inserts and moves the rest into
// the listed order.
func applyListing[T comparable](tx *collection.Transaction[T], items []T) error {
	old := tx.Items()
	delta := zset.From(items).Subtract(zset.From(old))
	for i := len(old) - 1; i >= 0; i-- {
		if delta.Count(old[i]) < 0 {
			if err := tx.RemoveAt(i); err != nil {
				return err
			}
			delta.Insert(old[i], 1)
		}
	}
	return reconcile(tx, items)
}

// Refresh polls immediately.
func (p *Poller[T]) Refresh() error {
	p.mu.Lock()
	state, ctx := p.state, p.ctx
	p.mu.Unlock()

	switch state {
	case unloaded:
		return p.ensureLoaded()
	case disposed:
		return collection.ErrDisposed
	}
	return p.poll(ctx)
}

// Observe implements collection.Observable.
func (p *Poller[T]) Observe(h collection.Handler[T]) ([]T, *collection.Subscription[T], error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, nil, err
	}
	return p.result.Observe(h)
}

// Snapshot implements collection.Observable.
func (p *Poller[T]) Snapshot() ([]T, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	return p.result.Snapshot()
}

// Count implements collection.Observable.
func (p *Poller[T]) Count() (int, error) {
	if err := p.ensureLoaded(); err != nil {
		return 0, err
	}
	return p.result.Count()
}

// At implements collection.Observable.
func (p *Poller[T]) At(i int) (T, error) {
	if err := p.ensureLoaded(); err != nil {
		var zero T
		return zero, err
	}
	return p.result.At(i)
}

// All iterates over a snapshot of the result.
func (p *Poller[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		items, err := p.Snapshot()
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

// IsLoading implements collection.Observable. A poller is loaded once its first listing is done.
func (p *Poller[T]) IsLoading() bool { return false }

// Dispose stops polling. A poll in progress completes its current step, no mutation of the result
// happens after Dispose returns.
func (p *Poller[T]) Dispose() {
	p.mu.Lock()
	if p.state == disposed {
		p.mu.Unlock()
		return
	}
	wasLoaded := p.state == loaded
	p.state = disposed
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	// An in-flight listing holds pollMu until its changes are staged.
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	p.result.Dispose()
	if wasLoaded {
		p.log.V(1).Info("disposed")
	}
}

// Done is closed when the polling goroutine has exited. It is nil before the first load.
func (p *Poller[T]) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
