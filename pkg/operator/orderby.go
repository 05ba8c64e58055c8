package operator

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/l7mp/livequery/pkg/collection"
)

// sortKey is one level of a composite ordering.
type sortKey[T any] struct {
	extract    func(T) (any, error)
	compare    func(a, b any) int
	descending bool
}

func orderedKey[T any, K cmp.Ordered](key func(T) (K, error), descending bool) sortKey[T] {
	return funcKey(key, cmp.Compare[K], descending)
}

func funcKey[T any, K any](key func(T) (K, error), compare func(a, b K) int, descending bool) sortKey[T] {
	cmpAny := func(a, b any) int {
		x, _ := a.(K)
		y, _ := b.(K)
		return compare(x, y)
	}
	return sortKey[T]{
		extract:    func(item T) (any, error) { return key(item) },
		compare:    cmpAny,
		descending: descending,
	}
}

// Sorted is an ordering operator. The result holds the source elements sorted by a composite key,
// elements with equal keys keep their relative source order.
type Sorted[T comparable] struct {
	*Node[T, T]
	source collection.Observable[T]
	keys   []sortKey[T]
	opts   Options
}

// OrderBy creates an ordering operator sorting by key in ascending order.
func OrderBy[T comparable, K cmp.Ordered](src collection.Observable[T], key func(T) (K, error), opts Options) (*Sorted[T], error) {
	return newSorted(src, []sortKey[T]{orderedKey(key, false)}, opts)
}

// OrderByDescending creates an ordering operator sorting by key in descending order.
func OrderByDescending[T comparable, K cmp.Ordered](src collection.Observable[T], key func(T) (K, error), opts Options) (*Sorted[T], error) {
	return newSorted(src, []sortKey[T]{orderedKey(key, true)}, opts)
}

// OrderByFunc creates an ordering operator using a custom key comparison.
func OrderByFunc[T comparable, K any](src collection.Observable[T], key func(T) (K, error), compare func(a, b K) int, descending bool, opts Options) (*Sorted[T], error) {
	return newSorted(src, []sortKey[T]{funcKey(key, compare, descending)}, opts)
}

// ThenBy refines the ordering of parent with an ascending secondary key. The returned operator
// reads the source of parent directly, parent itself is left unchanged. The property dependencies
// of both are merged.
func ThenBy[T comparable, K cmp.Ordered](parent *Sorted[T], key func(T) (K, error), opts Options) (*Sorted[T], error) {
	return parent.then(orderedKey(key, false), opts)
}

// ThenByDescending refines the ordering of parent with a descending secondary key.
func ThenByDescending[T comparable, K cmp.Ordered](parent *Sorted[T], key func(T) (K, error), opts Options) (*Sorted[T], error) {
	return parent.then(orderedKey(key, true), opts)
}

// ThenByFunc refines the ordering of parent using a custom key comparison.
func ThenByFunc[T comparable, K any](parent *Sorted[T], key func(T) (K, error), compare func(a, b K) int, descending bool, opts Options) (*Sorted[T], error) {
	return parent.then(funcKey(key, compare, descending), opts)
}

func (s *Sorted[T]) then(key sortKey[T], opts Options) (*Sorted[T], error) {
	merged := s.opts
	if opts.Name != "" {
		merged.Name = opts.Name
	}
	if opts.Logger.GetSink() != nil {
		merged.Logger = opts.Logger
	}
	if opts.Metrics != nil {
		merged.Metrics = opts.Metrics
	}
	merged.DependsOn = append(slices.Clone(s.opts.DependsOn), opts.DependsOn...)
	merged.External = append(slices.Clone(s.opts.External), opts.External...)
	keys := append(slices.Clone(s.keys), key)
	return newSorted(s.source, keys, merged)
}

func newSorted[T comparable](src collection.Observable[T], keys []sortKey[T], opts Options) (*Sorted[T], error) {
	detail := fmt.Sprintf("keys=%d", len(keys))
	node, err := NewNode("orderby", detail, src, func(_ *Mirror[T]) Reactor[T, T] {
		return &orderReactor[T]{keys: keys}
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Sorted[T]{Node: node, source: src, keys: keys, opts: opts}, nil
}

type orderEntry[T any] struct {
	item T
	keys []any
	pos  int
}

type orderReactor[T comparable] struct {
	keys    []sortKey[T]
	entries []*orderEntry[T] // source order
	sorted  []*orderEntry[T] // result order
}

func (r *orderReactor[T]) extract(item T) ([]any, error) {
	ret := make([]any, len(r.keys))
	for i, k := range r.keys {
		v, err := k.extract(item)
		if err != nil {
			return nil, err
		}
		ret[i] = v
	}
	return ret, nil
}

// compare is a total order: composite key first, then source position.
func (r *orderReactor[T]) compare(a, b *orderEntry[T]) int {
	for i, k := range r.keys {
		c := k.compare(a.keys[i], b.keys[i])
		if k.descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return cmp.Compare(a.pos, b.pos)
}

// search returns the insertion point of e in sorted.
func (r *orderReactor[T]) search(e *orderEntry[T]) int {
	return sort.Search(len(r.sorted), func(i int) bool { return r.compare(r.sorted[i], e) >= 0 })
}

// locate returns the position of e in sorted using its stored keys.
func (r *orderReactor[T]) locate(e *orderEntry[T]) int {
	i := r.search(e)
	if i < len(r.sorted) && r.sorted[i] == e {
		return i
	}
	return slices.Index(r.sorted, e)
}

func (r *orderReactor[T]) renumber(from, to int) {
	for i := from; i < to && i < len(r.entries); i++ {
		r.entries[i].pos = i
	}
}

func (r *orderReactor[T]) LoadInitial(tx *collection.Transaction[T], items []T) error {
	entries := make([]*orderEntry[T], len(items))
	for i, item := range items {
		keys, err := r.extract(item)
		if err != nil {
			return err
		}
		entries[i] = &orderEntry[T]{item: item, keys: keys, pos: i}
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, r.compare)
	out := make([]T, len(sorted))
	for i, e := range sorted {
		out[i] = e.item
	}
	if err := tx.ResetTo(out); err != nil {
		return err
	}
	r.entries, r.sorted = entries, sorted
	return nil
}

func (r *orderReactor[T]) ReactToAdd(tx *collection.Transaction[T], item T, i int) error {
	keys, err := r.extract(item)
	if err != nil {
		return err
	}

	e := &orderEntry[T]{item: item, keys: keys}
	r.entries = slices.Insert(r.entries, i, e)
	r.renumber(i, len(r.entries))
	k := r.search(e)
	r.sorted = slices.Insert(r.sorted, k, e)
	return tx.Insert(k, item)
}

func (r *orderReactor[T]) ReactToRemove(tx *collection.Transaction[T], _ T, i int) error {
	e := r.entries[i]
	j := r.locate(e)
	r.sorted = slices.Delete(r.sorted, j, j+1)
	r.entries = slices.Delete(r.entries, i, i+1)
	r.renumber(i, len(r.entries))
	return tx.RemoveAt(j)
}

func (r *orderReactor[T]) ReactToMove(tx *collection.Transaction[T], _ T, from, to int) error {
	e := r.entries[from]
	j := r.locate(e)
	r.sorted = slices.Delete(r.sorted, j, j+1)
	r.entries = slices.Delete(r.entries, from, from+1)
	r.entries = slices.Insert(r.entries, to, e)
	r.renumber(min(from, to), max(from, to)+1)
	k := r.search(e)
	r.sorted = slices.Insert(r.sorted, k, e)
	return tx.Move(j, k)
}

func (r *orderReactor[T]) ReactToReplace(tx *collection.Transaction[T], _, item T, i int) error {
	keys, err := r.extract(item)
	if err != nil {
		return err
	}

	e := r.entries[i]
	j := r.locate(e)
	r.sorted = slices.Delete(r.sorted, j, j+1)
	e.item, e.keys = item, keys
	k := r.search(e)
	r.sorted = slices.Insert(r.sorted, k, e)
	if j == k {
		return tx.Replace(j, item)
	}
	if err := tx.RemoveAt(j); err != nil {
		return err
	}
	return tx.Insert(k, item)
}

// ReactToItemChanged repositions every occurrence of item whose sort keys changed.
func (r *orderReactor[T]) ReactToItemChanged(tx *collection.Transaction[T], item T, _ string) error {
	keys, err := r.extract(item)
	if err != nil {
		return err
	}

	for _, e := range r.entries {
		if e.item != item {
			continue
		}
		j := r.locate(e)
		r.sorted = slices.Delete(r.sorted, j, j+1)
		e.keys = keys
		k := r.search(e)
		r.sorted = slices.Insert(r.sorted, k, e)
		if err := tx.Move(j, k); err != nil {
			return err
		}
	}
	return nil
}
