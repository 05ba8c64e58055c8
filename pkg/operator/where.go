package operator

import (
	"slices"

	"github.com/l7mp/livequery/pkg/collection"
)

// Where creates a filtering operator. The result holds the source elements satisfying pred in
// source order.
func Where[T comparable](src collection.Observable[T], pred func(T) (bool, error), opts Options) (*Node[T, T], error) {
	return NewNode("where", "", src, func(m *Mirror[T]) Reactor[T, T] {
		return &whereReactor[T]{mirror: m, pred: pred}
	}, opts)
}

type whereReactor[T comparable] struct {
	mirror   *Mirror[T]
	pred     func(T) (bool, error)
	included []bool
}

// resultIndex maps a source position to the corresponding result position.
func (r *whereReactor[T]) resultIndex(i int) int {
	n := 0
	for _, inc := range r.included[:i] {
		if inc {
			n++
		}
	}
	return n
}

func (r *whereReactor[T]) LoadInitial(tx *collection.Transaction[T], items []T) error {
	included := make([]bool, len(items))
	out := []T{}
	for i, item := range items {
		ok, err := r.pred(item)
		if err != nil {
			return err
		}
		included[i] = ok
		if ok {
			out = append(out, item)
		}
	}

	if err := tx.ResetTo(out); err != nil {
		return err
	}
	r.included = included
	return nil
}

func (r *whereReactor[T]) ReactToAdd(tx *collection.Transaction[T], item T, i int) error {
	ok, err := r.pred(item)
	if err != nil {
		return err
	}
	if ok {
		if err := tx.Insert(r.resultIndex(i), item); err != nil {
			return err
		}
	}
	r.included = slices.Insert(r.included, i, ok)
	return nil
}

func (r *whereReactor[T]) ReactToRemove(tx *collection.Transaction[T], _ T, i int) error {
	if r.included[i] {
		if err := tx.RemoveAt(r.resultIndex(i)); err != nil {
			return err
		}
	}
	r.included = slices.Delete(r.included, i, i+1)
	return nil
}

func (r *whereReactor[T]) ReactToMove(tx *collection.Transaction[T], _ T, from, to int) error {
	inc := r.included[from]
	rfrom := r.resultIndex(from)
	included := slices.Delete(slices.Clone(r.included), from, from+1)
	included = slices.Insert(included, to, inc)
	if inc {
		rto := 0
		for _, x := range included[:to] {
			if x {
				rto++
			}
		}
		if err := tx.Move(rfrom, rto); err != nil {
			return err
		}
	}
	r.included = included
	return nil
}

func (r *whereReactor[T]) ReactToReplace(tx *collection.Transaction[T], _, item T, i int) error {
	ok, err := r.pred(item)
	if err != nil {
		return err
	}
	ri := r.resultIndex(i)
	switch {
	case r.included[i] && ok:
		err = tx.Replace(ri, item)
	case r.included[i]:
		err = tx.RemoveAt(ri)
	case ok:
		err = tx.Insert(ri, item)
	}
	if err != nil {
		return err
	}
	r.included[i] = ok
	return nil
}

// ReactToItemChanged re-evaluates the predicate for every occurrence of item. Only transitions of
// the predicate value produce result events.
func (r *whereReactor[T]) ReactToItemChanged(tx *collection.Transaction[T], item T, _ string) error {
	ok, err := r.pred(item)
	if err != nil {
		return err
	}

	included := slices.Clone(r.included)
	for _, i := range r.mirror.Positions(item) {
		if included[i] == ok {
			continue
		}
		ri := 0
		for _, x := range included[:i] {
			if x {
				ri++
			}
		}
		if ok {
			err = tx.Insert(ri, item)
		} else {
			err = tx.RemoveAt(ri)
		}
		if err != nil {
			return err
		}
		included[i] = ok
	}
	r.included = included
	return nil
}
