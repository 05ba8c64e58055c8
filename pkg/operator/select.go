package operator

import (
	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/projection"
)

// Select creates a mapping operator. The result holds one projection per source position in
// source order; every occurrence of the same source element maps to the same projection instance
// until the element is removed or one of its tracked properties changes.
func Select[S, R comparable](src collection.Observable[S], fn func(S) (R, error), opts Options) (*Node[S, R], error) {
	return NewNode("select", "", src, func(m *Mirror[S]) Reactor[S, R] {
		return &selectReactor[S, R]{mirror: m, fn: fn, reg: projection.New(fn)}
	}, opts)
}

type selectReactor[S, R comparable] struct {
	mirror *Mirror[S]
	fn     func(S) (R, error)
	reg    *projection.Register[S, R]
}

func (r *selectReactor[S, R]) LoadInitial(tx *collection.Transaction[R], items []S) error {
	reg := projection.New(r.fn)
	out := make([]R, 0, len(items))
	for _, item := range items {
		p, err := reg.CreateOrGetProjection(item)
		if err != nil {
			return err
		}
		out = append(out, p)
	}

	if err := tx.ResetTo(out); err != nil {
		return err
	}
	r.reg = reg
	return nil
}

func (r *selectReactor[S, R]) ReactToAdd(tx *collection.Transaction[R], item S, i int) error {
	p, err := r.reg.CreateOrGetProjection(item)
	if err != nil {
		return err
	}
	if err := tx.Insert(i, p); err != nil {
		r.reg.Remove(item)
		return err
	}
	return nil
}

func (r *selectReactor[S, R]) ReactToRemove(tx *collection.Transaction[R], item S, i int) error {
	if err := tx.RemoveAt(i); err != nil {
		return err
	}
	r.reg.Remove(item)
	return nil
}

func (r *selectReactor[S, R]) ReactToMove(tx *collection.Transaction[R], _ S, from, to int) error {
	return tx.Move(from, to)
}

func (r *selectReactor[S, R]) ReactToReplace(tx *collection.Transaction[R], old, item S, i int) error {
	p, err := r.reg.CreateOrGetProjection(item)
	if err != nil {
		return err
	}
	if err := tx.Replace(i, p); err != nil {
		r.reg.Remove(item)
		return err
	}
	r.reg.Remove(old)
	return nil
}

func (r *selectReactor[S, R]) ReactToItemChanged(tx *collection.Transaction[R], item S, _ string) error {
	old, cur, err := r.reg.Reproject(item)
	if err != nil {
		if projection.IsNotRegistered(err) {
			return nil
		}
		return err
	}
	if old == cur {
		return nil
	}
	for _, i := range r.mirror.Positions(item) {
		if err := tx.Replace(i, cur); err != nil {
			return err
		}
	}
	return nil
}

func (r *selectReactor[S, R]) dispose() {
	r.reg.Clear()
}
