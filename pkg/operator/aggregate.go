package operator

import (
	"cmp"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/livequery/internal/zset"
	"github.com/l7mp/livequery/pkg/collection"
)

// Number is the constraint of summable element contributions.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// accumulator folds a multiset of contributions into a scalar.
type accumulator[V comparable, R comparable] interface {
	reset(values []V)
	add(v V)
	remove(v V)
	value() (R, error)
}

// Aggregate is a live scalar computed incrementally over a live collection of contributions.
type Aggregate[V, R comparable] struct {
	id, kind string
	input    collection.Observable[V]
	owned    Query[V]
	acc      accumulator[V, R]
	opts     Options

	mu       sync.Mutex
	state    nodeState
	sub      *collection.Subscription[V]
	value    R
	err      error
	watchers map[int64]func(R, error)
	next     int64

	log logr.Logger
}

func newAggregate[V, R comparable](kind string, input collection.Observable[V], owned Query[V], acc accumulator[V, R], opts Options) *Aggregate[V, R] {
	opts = opts.withDefaults()
	return &Aggregate[V, R]{
		id:       uuid.NewString(),
		kind:     kind,
		input:    input,
		owned:    owned,
		acc:      acc,
		opts:     opts,
		watchers: map[int64]func(R, error){},
		log:      opts.Logger.WithName(kind),
	}
}

// Count creates a live count of the elements of src.
func Count[T comparable](src collection.Observable[T], opts Options) *Aggregate[T, int] {
	return newAggregate[T, int]("count", src, nil, &countAcc[T]{}, opts)
}

// CountWhere creates a live count of the elements of src satisfying pred.
func CountWhere[T comparable](src collection.Observable[T], pred func(T) (bool, error), opts Options) (*Aggregate[T, int], error) {
	filtered, err := Where(src, pred, opts)
	if err != nil {
		return nil, err
	}
	return newAggregate[T, int]("count", filtered, filtered, &countAcc[T]{}, opts), nil
}

// Sum creates a live sum of the contributions of the elements of src.
func Sum[T comparable, N Number](src collection.Observable[T], fn func(T) (N, error), opts Options) (*Aggregate[N, N], error) {
	values, err := Select(src, fn, opts)
	if err != nil {
		return nil, err
	}
	return newAggregate[N, N]("sum", values, values, &sumAcc[N]{}, opts), nil
}

// Min creates a live minimum. The value of an empty input is ErrEmptySequence.
func Min[T comparable, K cmp.Ordered](src collection.Observable[T], fn func(T) (K, error), opts Options) (*Aggregate[K, K], error) {
	values, err := Select(src, fn, opts)
	if err != nil {
		return nil, err
	}
	return newAggregate[K, K]("min", values, values, &extremumAcc[K]{counts: zset.New[K]()}, opts), nil
}

// Max creates a live maximum. The value of an empty input is ErrEmptySequence.
func Max[T comparable, K cmp.Ordered](src collection.Observable[T], fn func(T) (K, error), opts Options) (*Aggregate[K, K], error) {
	values, err := Select(src, fn, opts)
	if err != nil {
		return nil, err
	}
	return newAggregate[K, K]("max", values, values, &extremumAcc[K]{counts: zset.New[K](), max: true}, opts), nil
}

// Average creates a live arithmetic mean. The value of an empty input is ErrEmptySequence.
func Average[T comparable, N Number](src collection.Observable[T], fn func(T) (N, error), opts Options) (*Aggregate[N, float64], error) {
	values, err := Select(src, fn, opts)
	if err != nil {
		return nil, err
	}
	return newAggregate[N, float64]("average", values, values, &averageAcc[N]{}, opts), nil
}

// Info implements collection.Describer.
func (a *Aggregate[V, R]) Info() collection.Info {
	return collection.Info{
		ID:     a.id,
		Kind:   a.kind,
		Name:   a.opts.Name,
		Inputs: []collection.Describer{a.input},
	}
}

func (a *Aggregate[V, R]) ensureLoaded() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case loaded:
		return nil
	case disposed:
		return collection.ErrDisposed
	}

	items, sub, err := a.input.Observe(a.handle)
	if err != nil {
		return fmt.Errorf("%s: %w", a.kind, err)
	}
	a.acc.reset(items)
	a.value, a.err = a.acc.value()
	a.sub = sub
	a.state = loaded
	a.log.V(1).Info("loaded", "items", len(items))
	return nil
}

func (a *Aggregate[V, R]) handle(ev collection.ChangeEvent[V]) error {
	a.mu.Lock()
	if a.state != loaded {
		a.mu.Unlock()
		return nil
	}

	switch ev.Type {
	case collection.Added:
		a.acc.add(ev.Item)
	case collection.Removed:
		a.acc.remove(ev.Item)
	case collection.Replaced:
		a.acc.remove(ev.OldItem)
		a.acc.add(ev.Item)
	case collection.Reset:
		a.acc.reset(ev.Items)
	case collection.Moved:
		a.mu.Unlock()
		return nil
	}

	value, err := a.acc.value()
	changed := value != a.value || !sameError(err, a.err)
	a.value, a.err = value, err
	var watchers []func(R, error)
	if changed {
		ids := make([]int64, 0, len(a.watchers))
		for id := range a.watchers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			watchers = append(watchers, a.watchers[id])
		}
	}
	a.mu.Unlock()

	if changed {
		a.log.V(5).Info("value changed", "value", value)
	}
	for _, w := range watchers {
		w(value, err)
	}
	return nil
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Error() == b.Error()
}

// Value returns the current value, loading the aggregate on first use.
func (a *Aggregate[V, R]) Value() (R, error) {
	if err := a.ensureLoaded(); err != nil {
		var zero R
		return zero, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.err
}

// Watch registers a callback invoked after each change of the value. The returned function
// cancels the registration.
func (a *Aggregate[V, R]) Watch(w func(R, error)) (func(), error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	id := a.next
	a.watchers[id] = w
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, id)
	}, nil
}

// IsLoading reports whether the input is still loading.
func (a *Aggregate[V, R]) IsLoading() bool { return a.input.IsLoading() }

// Dispose unsubscribes from the input.
func (a *Aggregate[V, R]) Dispose() {
	a.mu.Lock()
	if a.state == disposed {
		a.mu.Unlock()
		return
	}
	a.state = disposed
	if a.sub != nil {
		a.sub.Cancel()
	}
	a.watchers = map[int64]func(R, error){}
	a.mu.Unlock()

	if a.owned != nil {
		a.owned.Dispose()
	}
}

type countAcc[V comparable] struct{ n int }

func (c *countAcc[V]) reset(values []V) { c.n = len(values) }
func (c *countAcc[V]) add(V) { c.n++ }
func (c *countAcc[V]) remove(V) { c.n-- }
func (c *countAcc[V]) value() (int, error) { return c.n, nil }

// sumAcc keeps a compensated running sum so that float sums do not drift under long add and remove
// sequences. The sum of an empty input is exactly zero.
type sumAcc[N Number] struct {
	sum, c N
	n      int
}

func (s *sumAcc[N]) reset(values []N) {
	s.sum, s.c, s.n = 0, 0, 0
	for _, v := range values {
		s.add(v)
	}
}

// kahan adds v to the sum carrying the lost low-order bits in c. The compensation is always zero
// for integers.
func (s *sumAcc[N]) kahan(v N) {
	y := v - s.c
	t := s.sum + y
	s.c = (t - s.sum) - y
	s.sum = t
}

func (s *sumAcc[N]) add(v N) {
	s.n++
	s.kahan(v)
}

func (s *sumAcc[N]) remove(v N) {
	s.n--
	if s.n <= 0 {
		s.sum, s.c, s.n = 0, 0, 0
		return
	}
	s.kahan(-v)
}

func (s *sumAcc[N]) value() (N, error) { return s.sum, nil }

type averageAcc[N Number] struct {
	sum sumAcc[N]
}

func (a *averageAcc[N]) reset(values []N) { a.sum.reset(values) }
func (a *averageAcc[N]) add(v N)          { a.sum.add(v) }
func (a *averageAcc[N]) remove(v N)       { a.sum.remove(v) }

func (a *averageAcc[N]) value() (float64, error) {
	if a.sum.n == 0 {
		return 0, ErrEmptySequence
	}
	return float64(a.sum.sum) / float64(a.sum.n), nil
}

// extremumAcc keeps the multiset of values and a cached extremum that is recomputed only when the
// last copy of the extremum is removed.
type extremumAcc[K cmp.Ordered] struct {
	counts *zset.ZSet[K]
	cur    K
	max    bool
}

func (e *extremumAcc[K]) better(a, b K) bool {
	if e.max {
		return a > b
	}
	return a < b
}

func (e *extremumAcc[K]) recompute() {
	first := true
	e.counts.Each(func(v K, _ int) {
		if first || e.better(v, e.cur) {
			e.cur, first = v, false
		}
	})
}

func (e *extremumAcc[K]) reset(values []K) {
	e.counts = zset.From(values)
	e.recompute()
}

func (e *extremumAcc[K]) add(v K) {
	if e.counts.Len() == 0 || e.better(v, e.cur) {
		e.cur = v
	}
	e.counts.Insert(v, 1)
}

func (e *extremumAcc[K]) remove(v K) {
	e.counts.Insert(v, -1)
	if v == e.cur && !e.counts.Contains(v) {
		e.recompute()
	}
}

func (e *extremumAcc[K]) value() (K, error) {
	if e.counts.Len() == 0 {
		var zero K
		return zero, ErrEmptySequence
	}
	return e.cur, nil
}
