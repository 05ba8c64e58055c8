package collection

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// batch is the event log of one committed transaction. A batch committed from a handler running on
// the draining goroutine is a child of the batch being delivered: its errors are reported to, and
// its delivery completes, the root batch.
type batch[T any] struct {
	first   uint64
	events  []ChangeEvent[T]
	root    *batch[T]
	pending int // undelivered batches in the tree, root only
	errs    []error
	done    chan struct{}
	once    sync.Once
}

func (b *batch[T]) close() { b.once.Do(func() { close(b.done) }) }

// dispatcher delivers committed events to subscribers in commit order. Commits enqueue while
// holding the collection lock, so the queue order is the commit order; whoever finds the queue
// idle drains it with no lock held. A committer that finds another goroutine draining waits until
// its own batch is delivered and receives the errors of that batch only.
type dispatcher[T any] struct {
	mu       sync.Mutex
	queue    []*batch[T]
	draining bool
	drainer  uint64 // goroutine running the drain loop
	current  *batch[T]
	subs     []*Subscription[T]
	log      logr.Logger
}

// Subscription is a registered event handler. Cancel it to stop receiving events.
type Subscription[T any] struct {
	handler Handler[T]
	since   uint64
	active  atomic.Bool
	d       *dispatcher[T]
}

// Cancel removes the subscription. Events already being delivered may still reach the handler.
func (s *Subscription[T]) Cancel() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.d.unsubscribe(s)
}

// Active reports whether the subscription is still registered.
func (s *Subscription[T]) Active() bool { return s != nil && s.active.Load() }

// subscribe registers a handler that receives events with sequence numbers above since. The caller
// must hold the collection lock so that since matches the snapshot handed out with it.
func (d *dispatcher[T]) subscribe(h Handler[T], since uint64) *Subscription[T] {
	s := &Subscription[T]{handler: h, since: since, d: d}
	s.active.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(slices.Clone(d.subs), s)
	return s
}

func (d *dispatcher[T]) unsubscribe(s *Subscription[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = slices.DeleteFunc(slices.Clone(d.subs), func(x *Subscription[T]) bool { return x == s })
}

// cancelAll drops every subscription and completes the queued batches undelivered.
func (d *dispatcher[T]) cancelAll() {
	d.mu.Lock()
	subs := d.subs
	queue := d.queue
	d.subs = nil
	d.queue = nil
	for _, b := range queue {
		d.finishLocked(b)
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.active.Store(false)
	}
}

func (d *dispatcher[T]) numSubscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// enqueue appends events numbered from first. Must be called with the collection lock held.
func (d *dispatcher[T]) enqueue(gid, first uint64, events []ChangeEvent[T]) *batch[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := &batch[T]{first: first, events: events}
	if d.draining && d.drainer == gid && d.current != nil {
		b.root = d.current.root
	} else {
		b.root = b
		b.done = make(chan struct{})
	}
	b.root.pending++
	d.queue = append(d.queue, b)
	return b
}

// deliver makes sure b gets delivered and returns the aggregated handler errors of the batch tree
// rooted at b. Child batches return immediately, their errors go to the root.
func (d *dispatcher[T]) deliver(gid uint64, b *batch[T]) error {
	if b.root != b {
		return nil
	}

	d.mu.Lock()
	if !d.draining {
		d.draining, d.drainer = true, gid
		d.mu.Unlock()
		d.drain()
	} else {
		drainer := d.drainer
		d.mu.Unlock()

		if drainer == gid {
			return nil
		}
		if !waits.add(gid, drainer) {
			// the drainer is (transitively) waiting for this goroutine
			d.log.V(2).Info("circular delivery, batch left to the running drain loop",
				"seq", b.first)
			return nil
		}
		defer waits.remove(gid)
	}

	<-b.done
	return utilerrors.NewAggregate(b.errs)
}

// drain delivers queued batches until the queue is empty. Must be called by the goroutine that set
// draining, without the collection lock.
func (d *dispatcher[T]) drain() {
	var cur *batch[T]
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			if cur != nil {
				cur.root.errs = append(cur.root.errs, fmt.Errorf("event handler panic: %v", r))
				cur.root.close()
			}
			d.draining, d.drainer, d.current = false, 0, nil
			d.mu.Unlock()
			panic(r)
		}
	}()

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining, d.drainer, d.current = false, 0, nil
			d.mu.Unlock()
			return
		}
		cur = d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.current = cur
		d.mu.Unlock()

		for i, ev := range cur.events {
			seq := cur.first + uint64(i)
			d.mu.Lock()
			subs := d.subs
			d.mu.Unlock()

			for _, s := range subs {
				if !s.active.Load() || seq <= s.since {
					continue
				}
				if err := s.handler(ev); err != nil {
					cur.root.errs = append(cur.root.errs, err)
				}
			}
		}

		d.mu.Lock()
		d.finishLocked(cur)
		d.mu.Unlock()
		cur = nil
	}
}

func (d *dispatcher[T]) finishLocked(b *batch[T]) {
	root := b.root
	root.pending--
	if root.pending <= 0 {
		root.close()
	}
}
