package dependency

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livequery/pkg/property"
)

// External is a dependency on a property of an object that is not an element of the source.
type External struct {
	// Object is the root of the path, it must implement property.Notifier.
	Object any
	// Path is the property path rooted at Object. The empty path means any property.
	Path string
}

// Callbacks are invoked by the tracker. Both are called without any tracker lock held, an error is
// returned to whoever triggered the property change.
type Callbacks[T any] struct {
	// ItemChanged is called when a tracked property of item changes.
	ItemChanged func(item T, path string) error
	// Reset is called when a change cannot be attributed to a single element.
	Reset func(reason string) error
}

// Options configures a Tracker.
type Options struct {
	Logger logr.Logger
}

type attachment struct {
	refs    int
	watcher *pathWatcher
}

// Tracker attaches property watchers to the elements of an operator and to external objects. The
// element paths are merged into a single trie, so overlapping paths ("x" and "x.y") report one
// property change once.
type Tracker[T comparable] struct {
	mu        sync.Mutex
	paths     []property.Path
	trie      *pathNode
	whole     bool
	externals []External
	extPaths  []property.Path
	extWatch  []*pathWatcher
	attached  map[T]*attachment
	cb        Callbacks[T]
	stopped   bool
	log       logr.Logger
}

// New creates a tracker for the given element property paths and external dependencies.
func New[T comparable](paths []string, externals []External, cb Callbacks[T], opts Options) (*Tracker[T], error) {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	t := &Tracker[T]{
		externals: externals,
		attached:  map[T]*attachment{},
		cb:        cb,
		log:       logger.WithName("dependency"),
	}

	for _, s := range sets.List(sets.New(paths...)) {
		p, err := property.ParsePath(s)
		if err != nil {
			return nil, err
		}
		t.paths = append(t.paths, p)
	}
	t.trie, t.whole = newPathTrie(t.paths)

	for _, ext := range externals {
		if _, ok := ext.Object.(property.Notifier); !ok {
			return nil, fmt.Errorf("external dependency %q: object of type %T is not observable",
				ext.Path, ext.Object)
		}
		p, err := property.ParsePath(ext.Path)
		if err != nil {
			return nil, err
		}
		t.extPaths = append(t.extPaths, p)
	}

	if len(t.paths) > 0 && cb.ItemChanged == nil {
		return nil, errors.New("element dependencies require an ItemChanged callback")
	}
	if cb.Reset == nil {
		t.cb.Reset = func(string) error { return nil }
	}

	return t, nil
}

// Empty reports whether the tracker has nothing to track.
func (t *Tracker[T]) Empty() bool { return len(t.paths) == 0 && len(t.externals) == 0 }

// Paths returns the tracked element paths.
func (t *Tracker[T]) Paths() []string {
	ret := make([]string, 0, len(t.paths))
	for _, p := range t.paths {
		ret = append(ret, p.String())
	}
	return ret
}

// Start hooks the external dependencies.
func (t *Tracker[T]) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = false
	if len(t.extWatch) > 0 {
		return
	}
	for i, ext := range t.externals {
		path := t.extPaths[i]
		reason := fmt.Sprintf("external dependency %q changed", path.String())
		reset := func(string) error { return t.cb.Reset(reason) }
		trie, whole := newPathTrie([]property.Path{path})
		t.extWatch = append(t.extWatch, newPathWatcher(ext.Object, trie, whole, reset, reset, t.log))
	}
	t.log.V(4).Info("external dependencies hooked", "count", len(t.extWatch))
}

// Attach starts tracking an element. Attaching the same element multiple times is reference
// counted.
func (t *Tracker[T]) Attach(item T) {
	if len(t.paths) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	if a, ok := t.attached[item]; ok {
		a.refs++
		return
	}

	changed := func(path string) error { return t.cb.ItemChanged(item, path) }
	degraded := func(path string) error {
		return t.cb.Reset(fmt.Sprintf("untrackable change on path %q", path))
	}
	t.attached[item] = &attachment{
		refs:    1,
		watcher: newPathWatcher(item, t.trie, t.whole, changed, degraded, t.log),
	}
}

// Detach stops tracking one reference of an element.
func (t *Tracker[T]) Detach(item T) {
	if len(t.paths) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attached[item]
	if !ok {
		return
	}
	a.refs--
	if a.refs > 0 {
		return
	}
	a.watcher.stop()
	delete(t.attached, item)
}

// Reattach drops every element and attaches items.
func (t *Tracker[T]) Reattach(items []T) {
	t.DetachAll()
	for _, item := range items {
		t.Attach(item)
	}
}

// DetachAll stops tracking every element.
func (t *Tracker[T]) DetachAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for item, a := range t.attached {
		a.watcher.stop()
		delete(t.attached, item)
	}
}

// Attached returns the number of distinct tracked elements.
func (t *Tracker[T]) Attached() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attached)
}

// Degraded reports whether any tracked path of item could not be fully hooked.
func (t *Tracker[T]) Degraded(item T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attached[item]
	if !ok {
		return false
	}
	return a.watcher.isDegraded()
}

// Stop detaches every element and unhooks the external dependencies.
func (t *Tracker[T]) Stop() {
	t.DetachAll()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.extWatch {
		w.stop()
	}
	t.extWatch = nil
	t.stopped = true
}
