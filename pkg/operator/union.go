package operator

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/livequery/pkg/collection"
)

type flattenInput[T comparable] struct {
	source collection.Observable[T]
	sub    *collection.Subscription[T]
	items  []T
	active bool
}

var _ Query[int] = &Flatten[int]{}

// Flatten concatenates a live collection of live collections. The result holds the elements of
// every inner collection, in the order of the inner collections. A change of an inner collection
// is translated by offsetting its positions with the sizes of the preceding inner collections. A
// change of the outer collection inserts, removes or moves the block of the affected inner
// collection; an outer reset rebuilds the result.
type Flatten[T comparable] struct {
	id      string
	kind    string
	sources collection.Observable[collection.Observable[T]]
	result  *collection.Collection[T]
	opts    Options

	mu       sync.Mutex
	state    nodeState
	outerSub *collection.Subscription[collection.Observable[T]]
	outer    Mirror[collection.Observable[T]]
	inputs   []*flattenInput[T]
	owned    []disposer

	log logr.Logger
}

// Concat creates an operator concatenating every inner collection of sources, keeping duplicates.
func Concat[T comparable](sources collection.Observable[collection.Observable[T]], opts Options) (*Flatten[T], error) {
	return newFlatten("concat", sources, opts)
}

// ConcatOf concatenates a fixed list of sources.
func ConcatOf[T comparable](opts Options, sources ...collection.Observable[T]) (*Flatten[T], error) {
	outer := collection.NewFrom(sources, collection.Options{Logger: opts.Logger})
	return newFlatten("concat", outer, opts)
}

// UnionAll is an alias of Concat.
func UnionAll[T comparable](sources collection.Observable[collection.Observable[T]], opts Options) (*Flatten[T], error) {
	return Concat(sources, opts)
}

// Union creates an operator holding the distinct elements of every inner collection of sources in
// order of first occurrence.
func Union[T comparable](sources collection.Observable[collection.Observable[T]], opts Options) (*Node[T, T], error) {
	flat, err := newFlatten("union", sources, opts)
	if err != nil {
		return nil, err
	}
	n, err := Distinct[T](flat, opts)
	if err != nil {
		return nil, err
	}
	n.Own(flat)
	return n, nil
}

// UnionOf creates a union of a fixed list of sources.
func UnionOf[T comparable](opts Options, sources ...collection.Observable[T]) (*Node[T, T], error) {
	outer := collection.NewFrom(sources, collection.Options{Logger: opts.Logger})
	return Union[T](outer, opts)
}

// SelectMany maps every source element to a live collection and concatenates the results.
func SelectMany[S, R comparable](src collection.Observable[S], fn func(S) (collection.Observable[R], error), opts Options) (*Flatten[R], error) {
	inner, err := Select(src, fn, opts)
	if err != nil {
		return nil, err
	}
	f, err := newFlatten("selectmany", inner, opts)
	if err != nil {
		inner.Dispose()
		return nil, err
	}
	f.owned = append(f.owned, inner)
	return f, nil
}

func newFlatten[T comparable](kind string, sources collection.Observable[collection.Observable[T]], opts Options) (*Flatten[T], error) {
	if sources == nil {
		return nil, fmt.Errorf("%s: nil source", kind)
	}
	opts = opts.withDefaults()
	return &Flatten[T]{
		id:      uuid.NewString(),
		kind:    kind,
		sources: sources,
		result:  collection.New[T](collection.Options{Name: opts.Name, Logger: opts.Logger}),
		opts:    opts,
		log:     opts.Logger.WithName(kind),
	}, nil
}

// Info implements collection.Describer.
func (f *Flatten[T]) Info() collection.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	inputs := []collection.Describer{f.sources}
	for _, in := range f.inputs {
		if in.source != nil {
			inputs = append(inputs, in.source)
		}
	}
	return collection.Info{
		ID:     f.id,
		Kind:   f.kind,
		Name:   f.opts.Name,
		Detail: fmt.Sprintf("inputs=%d", len(f.inputs)),
		Inputs: inputs,
	}
}

func (f *Flatten[T]) ensureLoaded() error {
	f.mu.Lock()
	switch f.state {
	case loaded:
		f.mu.Unlock()
		return nil
	case disposed:
		f.mu.Unlock()
		return collection.ErrDisposed
	}

	outer, sub, err := f.sources.Observe(f.handleOuter)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("%s: %w", f.kind, err)
	}
	f.outer.reset(outer)

	tx, err := f.result.Begin()
	if err != nil {
		sub.Cancel()
		f.mu.Unlock()
		return err
	}
	if err := f.rebuild(tx); err != nil {
		tx.Rollback()
		sub.Cancel()
		f.mu.Unlock()
		return err
	}
	f.outerSub = sub
	f.state = loaded
	f.mu.Unlock()

	f.log.V(1).Info("loaded", "inputs", len(f.inputs))
	return tx.Commit()
}

// attach subscribes to one inner collection. Nil and disposed sources get an empty placeholder so
// that inputs stay aligned with the outer collection.
func (f *Flatten[T]) attach(src collection.Observable[T]) (*flattenInput[T], error) {
	in := &flattenInput[T]{source: src}
	if src == nil {
		return in, nil
	}
	in.active = true
	items, sub, err := src.Observe(f.innerHandler(in))
	if errors.Is(err, collection.ErrDisposed) {
		f.log.V(2).Info("skipping disposed input", "input", src.Info().ID)
		in.active = false
		return in, nil
	}
	if err != nil {
		in.active = false
		return nil, err
	}
	in.items = slices.Clone(items)
	in.sub = sub
	return in, nil
}

func (in *flattenInput[T]) detach() {
	in.active = false
	in.sub.Cancel()
}

// offset returns the result position of the first element of the k-th input.
func (f *Flatten[T]) offset(k int) int {
	off := 0
	for _, in := range f.inputs[:k] {
		off += len(in.items)
	}
	return off
}

// rebuild resubscribes to every inner collection and resets the result.
func (f *Flatten[T]) rebuild(tx *collection.Transaction[T]) error {
	for _, in := range f.inputs {
		in.detach()
	}
	f.inputs = nil

	inputs := []*flattenInput[T]{}
	out := []T{}
	for _, src := range f.outer.Items() {
		in, err := f.attach(src)
		if err != nil {
			for _, in := range inputs {
				in.detach()
			}
			return err
		}
		inputs = append(inputs, in)
		out = append(out, in.items...)
	}
	f.inputs = inputs
	return tx.ResetTo(out)
}

// applyOuter translates a change of the outer collection into insertions, removals or moves of
// the elements of the affected inner collection.
func (f *Flatten[T]) applyOuter(tx *collection.Transaction[T], ev collection.ChangeEvent[collection.Observable[T]]) error {
	switch ev.Type {
	case collection.Added:
		in, err := f.attach(ev.Item)
		if err != nil {
			return err
		}
		off := f.offset(ev.Index)
		f.inputs = slices.Insert(f.inputs, ev.Index, in)
		for j, item := range in.items {
			if err := tx.Insert(off+j, item); err != nil {
				return err
			}
		}

	case collection.Removed:
		in := f.inputs[ev.Index]
		in.detach()
		off := f.offset(ev.Index)
		f.inputs = slices.Delete(f.inputs, ev.Index, ev.Index+1)
		for range in.items {
			if err := tx.RemoveAt(off); err != nil {
				return err
			}
		}

	case collection.Moved:
		in := f.inputs[ev.OldIndex]
		from := f.offset(ev.OldIndex)
		f.inputs = slices.Insert(slices.Delete(f.inputs, ev.OldIndex, ev.OldIndex+1), ev.Index, in)
		to := f.offset(ev.Index)
		n := len(in.items)
		for j := range n {
			var err error
			if to > from {
				err = tx.Move(from, to+n-1)
			} else {
				err = tx.Move(from+j, to+j)
			}
			if err != nil {
				return err
			}
		}

	case collection.Replaced:
		old := f.inputs[ev.Index]
		old.detach()
		in, err := f.attach(ev.Item)
		if err != nil {
			return err
		}
		off := f.offset(ev.Index)
		f.inputs[ev.Index] = in
		for range old.items {
			if err := tx.RemoveAt(off); err != nil {
				return err
			}
		}
		for j, item := range in.items {
			if err := tx.Insert(off+j, item); err != nil {
				return err
			}
		}

	default:
		return f.rebuild(tx)
	}
	return nil
}

func (f *Flatten[T]) handleOuter(ev collection.ChangeEvent[collection.Observable[T]]) error {
	f.mu.Lock()
	if f.state != loaded {
		f.mu.Unlock()
		return nil
	}

	f.outer.apply(ev)
	tx, err := f.result.Begin()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if err := f.applyOuter(tx, ev); err != nil {
		tx.Rollback()
		f.log.V(2).Info("outer change could not be applied, rebuilding", "event", ev.Type.String(), "error", err.Error())
		if tx, err = f.result.Begin(); err != nil {
			f.mu.Unlock()
			return err
		}
		if err := f.rebuild(tx); err != nil {
			tx.Rollback()
			f.mu.Unlock()
			return err
		}
		ev.Type = collection.Reset
	}
	f.mu.Unlock()

	f.log.V(4).Info("outer change", "event", ev.Type.String(), "inputs", len(f.inputs))
	if ev.Type == collection.Reset {
		f.opts.Metrics.Reset(f.opts.label(f.kind))
	} else {
		f.opts.Metrics.Event(f.opts.label(f.kind), ev.Type.String())
	}
	return tx.Commit()
}

func (f *Flatten[T]) innerHandler(in *flattenInput[T]) collection.Handler[T] {
	return func(ev collection.ChangeEvent[T]) error {
		f.mu.Lock()
		if f.state != loaded || !in.active {
			f.mu.Unlock()
			return nil
		}

		offset := 0
		for _, x := range f.inputs {
			if x == in {
				break
			}
			offset += len(x.items)
		}

		tx, err := f.result.Begin()
		if err != nil {
			f.mu.Unlock()
			return err
		}

		switch ev.Type {
		case collection.Added:
			err = tx.Insert(offset+ev.Index, ev.Item)
		case collection.Removed:
			err = tx.RemoveAt(offset + ev.Index)
		case collection.Moved:
			err = tx.Move(offset+ev.OldIndex, offset+ev.Index)
		case collection.Replaced:
			err = tx.Replace(offset+ev.Index, ev.Item)
		case collection.Reset:
			for range in.items {
				if err = tx.RemoveAt(offset); err != nil {
					break
				}
			}
			for i, item := range ev.Items {
				if err != nil {
					break
				}
				err = tx.Insert(offset+i, item)
			}
		}
		if err != nil {
			tx.Rollback()
			f.mu.Unlock()
			return fmt.Errorf("%s: %w", f.kind, err)
		}

		m := Mirror[T]{items: in.items}
		m.apply(ev)
		in.items = m.items
		f.mu.Unlock()

		f.opts.Metrics.Event(f.opts.label(f.kind), ev.Type.String())
		return tx.Commit()
	}
}

// Refresh rebuilds the result from the current inner collections.
func (f *Flatten[T]) Refresh() error {
	if err := f.ensureLoaded(); err != nil {
		return err
	}
	f.mu.Lock()
	tx, err := f.result.Begin()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if err := f.rebuild(tx); err != nil {
		tx.Rollback()
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return tx.Commit()
}

// Observe implements collection.Observable.
func (f *Flatten[T]) Observe(h collection.Handler[T]) ([]T, *collection.Subscription[T], error) {
	if err := f.ensureLoaded(); err != nil {
		return nil, nil, err
	}
	return f.result.Observe(h)
}

// Snapshot implements collection.Observable.
func (f *Flatten[T]) Snapshot() ([]T, error) {
	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	return f.result.Snapshot()
}

// Count implements collection.Observable.
func (f *Flatten[T]) Count() (int, error) {
	if err := f.ensureLoaded(); err != nil {
		return 0, err
	}
	return f.result.Count()
}

// At implements collection.Observable.
func (f *Flatten[T]) At(i int) (T, error) {
	if err := f.ensureLoaded(); err != nil {
		var zero T
		return zero, err
	}
	return f.result.At(i)
}

// All iterates over a snapshot of the result.
func (f *Flatten[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		items, err := f.Snapshot()
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
func (f *Flatten[T]) IsLoading() bool {
	if f.sources.IsLoading() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.inputs {
		if in.source != nil && in.source.IsLoading() {
			return true
		}
	}
	return false
}

// Dispose unsubscribes from every source and disposes the result.
func (f *Flatten[T]) Dispose() {
	f.mu.Lock()
	if f.state == disposed {
		f.mu.Unlock()
		return
	}
	f.state = disposed
	if f.outerSub != nil {
		f.outerSub.Cancel()
	}
	for _, in := range f.inputs {
		in.detach()
	}
	f.inputs = nil
	owned := f.owned
	f.owned = nil
	f.mu.Unlock()

	f.result.Dispose()
	for _, o := range owned {
		o.Dispose()
	}
}
