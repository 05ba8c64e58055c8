package operator

import (
	"fmt"
	"slices"

	"github.com/l7mp/livequery/pkg/collection"
)

// Grouping is a live group of elements sharing the same key. It is itself a live query: a filter
// of the grouped source by key equality, loaded on first use.
type Grouping[K, T comparable] struct {
	// Key is the key of the group. It is fixed for the lifetime of the grouping.
	Key K
	*Node[T, T]
}

// GroupOptions configures GroupBy.
type GroupOptions[K any] struct {
	Options
	// Equal compares keys, defaults to ==.
	Equal func(a, b K) bool
}

// GroupBy creates a grouping operator. The result holds one Grouping per distinct key in order of
// first appearance in the source. A grouping keeps its identity while its key is present and is
// disposed when its last element leaves.
func GroupBy[K, T comparable](src collection.Observable[T], key func(T) (K, error), opts GroupOptions[K]) (*Node[T, *Grouping[K, T]], error) {
	eq := opts.Equal
	if eq == nil {
		eq = func(a, b K) bool { return a == b }
	}
	groupOpts := opts.Options
	groupOpts.Name = ""
	return NewNode("groupby", "", src, func(m *Mirror[T]) Reactor[T, *Grouping[K, T]] {
		r := &groupByReactor[K, T]{
			mirror:     m,
			source:     src,
			key:        key,
			eq:         eq,
			groupOpts:  groupOpts,
			byGrouping: map[*Grouping[K, T]]*groupState[K, T]{},
		}
		if opts.Equal == nil {
			r.byKey = map[K]*groupState[K, T]{}
		}
		return r
	}, opts.Options)
}

type groupState[K, T comparable] struct {
	grouping *Grouping[K, T]
	count    int
	first    int  // source position of the first element, -1 if empty
	listed   bool // in the result
}

// groupByReactor keeps the group of every source position and the first position of every group.
// The result is ordered by first position; a change repositions only the groups it touches.
type groupByReactor[K, T comparable] struct {
	mirror     *Mirror[T]
	source     collection.Observable[T]
	key        func(T) (K, error)
	eq         func(a, b K) bool
	groupOpts  Options
	at         []*groupState[K, T] // per source position
	groups     []*groupState[K, T]
	byKey      map[K]*groupState[K, T] // nil with a custom Equal
	byGrouping map[*Grouping[K, T]]*groupState[K, T]
}

func (r *groupByReactor[K, T]) find(k K) *groupState[K, T] {
	if r.byKey != nil {
		return r.byKey[k]
	}
	for _, g := range r.groups {
		if r.eq(g.grouping.Key, k) {
			return g
		}
	}
	return nil
}

func (r *groupByReactor[K, T]) newGrouping(k K) (*Grouping[K, T], error) {
	eq := r.eq
	keyFn := r.key
	opts := r.groupOpts
	opts.Logger = opts.Logger.WithValues("key", fmt.Sprint(k))
	node, err := NewNode("group", fmt.Sprintf("key=%v", k), r.source, func(m *Mirror[T]) Reactor[T, T] {
		return &whereReactor[T]{mirror: m, pred: func(item T) (bool, error) {
			ik, err := keyFn(item)
			if err != nil {
				return false, err
			}
			return eq(ik, k), nil
		}}
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Grouping[K, T]{Key: k, Node: node}, nil
}

// lookup returns the group of k, creating an empty one if needed.
func (r *groupByReactor[K, T]) lookup(k K) (*groupState[K, T], error) {
	if g := r.find(k); g != nil {
		return g, nil
	}
	grouping, err := r.newGrouping(k)
	if err != nil {
		return nil, err
	}
	g := &groupState[K, T]{grouping: grouping, first: -1}
	r.groups = append(r.groups, g)
	if r.byKey != nil {
		r.byKey[k] = g
	}
	r.byGrouping[grouping] = g
	return g, nil
}

// drop forgets an empty group. The caller disposes the grouping.
func (r *groupByReactor[K, T]) drop(g *groupState[K, T]) {
	r.groups = slices.DeleteFunc(r.groups, func(x *groupState[K, T]) bool { return x == g })
	if r.byKey != nil {
		delete(r.byKey, g.grouping.Key)
	}
	delete(r.byGrouping, g.grouping)
}

// insertAt records an element of g at source position i.
func (r *groupByReactor[K, T]) insertAt(i int, g *groupState[K, T]) {
	for _, h := range r.groups {
		if h.first >= i {
			h.first++
		}
	}
	r.at = slices.Insert(r.at, i, g)
	g.count++
	if g.first < 0 || i < g.first {
		g.first = i
	}
}

// deleteAt drops the element at source position i and returns its group.
func (r *groupByReactor[K, T]) deleteAt(i int) *groupState[K, T] {
	g := r.at[i]
	r.at = slices.Delete(r.at, i, i+1)
	g.count--
	for _, h := range r.groups {
		if h.first > i {
			h.first--
		}
	}
	if g.first == i {
		g.first = -1
		if g.count > 0 {
			g.first = i + slices.Index(r.at[i:], g)
		}
	}
	return g
}

// position returns the result position of g: right before the first listed group, other than g
// and the pending groups, that first occurs after g.
func (r *groupByReactor[K, T]) position(tx *collection.Transaction[*Grouping[K, T]], g *groupState[K, T], pending []*groupState[K, T]) (int, error) {
	to := 0
	for i := 0; i < tx.Len(); i++ {
		x, err := tx.At(i)
		if err != nil {
			return 0, err
		}
		if x == g.grouping {
			continue
		}
		if h := r.byGrouping[x]; h != nil && !slices.Contains(pending, h) && h.first > g.first {
			break
		}
		to++
	}
	return to, nil
}

// settle brings the result in line with the first positions of the touched groups. Groups that
// became empty are removed and disposed.
func (r *groupByReactor[K, T]) settle(tx *collection.Transaction[*Grouping[K, T]], touched ...*groupState[K, T]) error {
	pending := []*groupState[K, T]{}
	var dead []*Grouping[K, T]
	for _, g := range touched {
		if slices.Contains(pending, g) || slices.Contains(dead, g.grouping) {
			continue
		}
		if g.count > 0 {
			pending = append(pending, g)
			continue
		}
		if g.listed {
			g.listed = false
			if err := tx.RemoveAt(tx.IndexOf(g.grouping)); err != nil {
				return err
			}
		}
		r.drop(g)
		dead = append(dead, g.grouping)
	}

	for len(pending) > 0 {
		g := pending[0]
		pending = pending[1:]
		to, err := r.position(tx, g, pending)
		if err != nil {
			return err
		}
		switch {
		case !g.listed:
			g.listed = true
			err = tx.Insert(to, g.grouping)
		default:
			if from := tx.IndexOf(g.grouping); from != to {
				err = tx.Move(from, to)
			}
		}
		if err != nil {
			return err
		}
	}

	for _, g := range dead {
		g.Dispose()
	}
	return nil
}

func (r *groupByReactor[K, T]) LoadInitial(tx *collection.Transaction[*Grouping[K, T]], items []T) error {
	keys := make([]K, len(items))
	for i, item := range items {
		k, err := r.key(item)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	// Groupings of keys that survive the reload keep their identity.
	for _, g := range r.groups {
		g.count, g.first, g.listed = 0, -1, false
	}
	at := make([]*groupState[K, T], len(keys))
	for i, k := range keys {
		g, err := r.lookup(k)
		if err != nil {
			return err
		}
		if g.count == 0 {
			g.first = i
		}
		g.count++
		at[i] = g
	}
	r.at = at

	live := []*groupState[K, T]{}
	var dead []*Grouping[K, T]
	for _, g := range slices.Clone(r.groups) {
		if g.count == 0 {
			r.drop(g)
			dead = append(dead, g.grouping)
			continue
		}
		live = append(live, g)
	}
	slices.SortFunc(live, func(a, b *groupState[K, T]) int { return a.first - b.first })
	out := make([]*Grouping[K, T], len(live))
	for i, g := range live {
		g.listed = true
		out[i] = g.grouping
	}
	if err := tx.ResetTo(out); err != nil {
		return err
	}
	for _, g := range dead {
		g.Dispose()
	}
	return nil
}

func (r *groupByReactor[K, T]) ReactToAdd(tx *collection.Transaction[*Grouping[K, T]], item T, i int) error {
	k, err := r.key(item)
	if err != nil {
		return err
	}
	g, err := r.lookup(k)
	if err != nil {
		return err
	}
	r.insertAt(i, g)
	return r.settle(tx, g)
}

func (r *groupByReactor[K, T]) ReactToRemove(tx *collection.Transaction[*Grouping[K, T]], _ T, i int) error {
	return r.settle(tx, r.deleteAt(i))
}

func (r *groupByReactor[K, T]) ReactToMove(tx *collection.Transaction[*Grouping[K, T]], _ T, from, to int) error {
	g := r.deleteAt(from)
	r.insertAt(to, g)
	return r.settle(tx, g)
}

func (r *groupByReactor[K, T]) ReactToReplace(tx *collection.Transaction[*Grouping[K, T]], _, item T, i int) error {
	k, err := r.key(item)
	if err != nil {
		return err
	}
	g, err := r.lookup(k)
	if err != nil {
		return err
	}
	old := r.deleteAt(i)
	r.insertAt(i, g)
	return r.settle(tx, old, g)
}

// ReactToItemChanged moves the element to the group of its new key. The groupings themselves
// track the same properties and update their own contents.
func (r *groupByReactor[K, T]) ReactToItemChanged(tx *collection.Transaction[*Grouping[K, T]], item T, _ string) error {
	k, err := r.key(item)
	if err != nil {
		return err
	}
	touched := []*groupState[K, T]{}
	for i, x := range r.mirror.Items() {
		if x != item || r.eq(r.at[i].grouping.Key, k) {
			continue
		}
		g, err := r.lookup(k)
		if err != nil {
			return err
		}
		old := r.deleteAt(i)
		r.insertAt(i, g)
		touched = append(touched, old, g)
	}
	if len(touched) == 0 {
		return nil
	}
	return r.settle(tx, touched...)
}

func (r *groupByReactor[K, T]) dispose() {
	for _, g := range r.groups {
		g.grouping.Dispose()
	}
	r.groups = nil
}
