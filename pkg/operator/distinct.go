package operator

import (
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livequery/internal/zset"
	"github.com/l7mp/livequery/pkg/collection"
)

// Distinct creates a de-duplicating operator. The result holds each element once, in order of
// its first occurrence in the source.
func Distinct[T comparable](src collection.Observable[T], opts Options) (*Node[T, T], error) {
	return NewNode("distinct", "", src, func(m *Mirror[T]) Reactor[T, T] {
		return &distinctReactor[T]{counts: zset.New[T](), present: sets.New[T]()}
	}, opts)
}

// distinctReactor keeps the multiplicity of every source element. Only changes of an element's
// multiplicity between zero and non-zero, or of its first position, touch the result.
type distinctReactor[T comparable] struct {
	items   []T // source order
	counts  *zset.ZSet[T]
	present sets.Set[T] // elements in the result
}

// rank returns the result position for an element first occurring at source position i: the
// number of other result elements first occurring before i.
func (r *distinctReactor[T]) rank(i int, item T) int {
	seen := sets.New[T]()
	for _, x := range r.items[:i] {
		if x != item && r.present.Has(x) {
			seen.Insert(x)
		}
	}
	return seen.Len()
}

// place brings the result position of item in line with the source.
func (r *distinctReactor[T]) place(tx *collection.Transaction[T], item T) error {
	from := -1
	if r.present.Has(item) {
		from = tx.IndexOf(item)
	}

	if !r.counts.Contains(item) {
		if from < 0 {
			return nil
		}
		r.present.Delete(item)
		return tx.RemoveAt(from)
	}

	to := r.rank(slices.Index(r.items, item), item)
	switch {
	case from < 0:
		r.present.Insert(item)
		return tx.Insert(to, item)
	case from != to:
		return tx.Move(from, to)
	}
	return nil
}

func (r *distinctReactor[T]) LoadInitial(tx *collection.Transaction[T], items []T) error {
	out := make([]T, 0, len(items))
	present := sets.New[T]()
	for _, item := range items {
		if !present.Has(item) {
			present.Insert(item)
			out = append(out, item)
		}
	}
	if err := tx.ResetTo(out); err != nil {
		return err
	}
	r.items, r.counts, r.present = slices.Clone(items), zset.From(items), present
	return nil
}

func (r *distinctReactor[T]) ReactToAdd(tx *collection.Transaction[T], item T, i int) error {
	r.items = slices.Insert(r.items, i, item)
	r.counts.Insert(item, 1)
	return r.place(tx, item)
}

func (r *distinctReactor[T]) ReactToRemove(tx *collection.Transaction[T], item T, i int) error {
	r.items = slices.Delete(r.items, i, i+1)
	r.counts.Insert(item, -1)
	return r.place(tx, item)
}

func (r *distinctReactor[T]) ReactToMove(tx *collection.Transaction[T], item T, from, to int) error {
	r.items = slices.Insert(slices.Delete(r.items, from, from+1), to, item)
	return r.place(tx, item)
}

func (r *distinctReactor[T]) ReactToReplace(tx *collection.Transaction[T], old, item T, i int) error {
	r.items[i] = item
	r.counts.Insert(old, -1)
	r.counts.Insert(item, 1)
	if old == item {
		return nil
	}

	// old had its only occurrence at i and item is new: same result position
	if !r.counts.Contains(old) && !r.present.Has(item) {
		j := tx.IndexOf(old)
		r.present.Delete(old)
		r.present.Insert(item)
		return tx.Replace(j, item)
	}

	// both first positions may have changed: take both out and reinsert in source order
	for _, x := range []T{old, item} {
		if r.present.Has(x) {
			r.present.Delete(x)
			if err := tx.RemoveAt(tx.IndexOf(x)); err != nil {
				return err
			}
		}
	}
	first := func(x T) int { return slices.Index(r.items, x) }
	order := []T{old, item}
	if first(item) >= 0 && (first(old) < 0 || first(item) < first(old)) {
		order = []T{item, old}
	}
	for _, x := range order {
		if err := r.place(tx, x); err != nil {
			return err
		}
	}
	return nil
}

// ReactToItemChanged is a no-op: equality is identity, which property changes do not affect.
func (r *distinctReactor[T]) ReactToItemChanged(*collection.Transaction[T], T, string) error {
	return nil
}
