package dependency

import (
	"reflect"
	"sync"

	"github.com/go-logr/logr"

	"github.com/l7mp/livequery/pkg/property"
)

// pathNode is a node of a path trie: the merged set of property paths tracked under one root.
type pathNode struct {
	name     string // property leading here from the parent
	path     string // dotted path from the root
	children []*pathNode
}

func (n *pathNode) child(name string) *pathNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// newPathTrie merges paths into a trie. whole is set if one of the paths is the root itself.
func newPathTrie(paths []property.Path) (root *pathNode, whole bool) {
	root = &pathNode{}
	for _, p := range paths {
		if len(p) == 0 {
			whole = true
			continue
		}
		cur := root
		for i, name := range p {
			next := cur.child(name)
			if next == nil {
				next = &pathNode{name: name, path: p[:i+1].String()}
				cur.children = append(cur.children, next)
			}
			cur = next
		}
	}
	return root, whole
}

// hookTarget is an observable object along the tracked paths with the trie nodes it stands at.
type hookTarget struct {
	notifier property.Notifier
	nodes    []*pathNode
	widened  bool // a non-observable value below: any change is untrackable
}

// pathWatcher observes a path trie rooted at a single object. Every observable object along the
// paths carries exactly one handler, so one property change is reported at most once.
type pathWatcher struct {
	mu         sync.Mutex
	root       any
	trie       *pathNode
	whole      bool
	gen        uint64
	cancels    []func()
	degraded   bool
	onChange   func(path string) error
	onDegraded func(path string) error
	log        logr.Logger
}

func newPathWatcher(root any, trie *pathNode, whole bool, onChange, onDegraded func(string) error, log logr.Logger) *pathWatcher {
	w := &pathWatcher{
		root:       root,
		trie:       trie,
		whole:      whole,
		onChange:   onChange,
		onDegraded: onDegraded,
		log:        log,
	}
	w.mu.Lock()
	w.hookLocked()
	w.mu.Unlock()
	return w
}

// hookLocked (re)registers the handlers along the trie from the root.
func (w *pathWatcher) hookLocked() {
	w.unhookLocked()
	gen := w.gen

	targets := []*hookTarget{}
	var walk func(v any, node *pathNode, parent *hookTarget)
	walk = func(v any, node *pathNode, parent *hookTarget) {
		if len(node.children) == 0 && (node != w.trie || !w.whole) {
			return
		}

		n, ok := v.(property.Notifier)
		if !ok {
			if parent == nil {
				w.log.V(2).Info("element is not observable, property changes cannot be tracked")
				return
			}
			// widen the listener one level up to any property and report changes as a reset
			parent.widened = true
			w.degraded = true
			w.log.V(2).Info("property path cannot be tracked, degrading to reset", "path", node.path)
			return
		}

		var t *hookTarget
		for _, x := range targets {
			if sameNotifier(x.notifier, n) {
				t = x
				break
			}
		}
		if t == nil {
			t = &hookTarget{notifier: n}
			targets = append(targets, t)
		}
		t.nodes = append(t.nodes, node)

		for _, c := range node.children {
			next, ok := property.Lookup(v, c.name)
			if !ok || next == nil {
				// the rest of the path does not exist yet, the handler one level up rehooks
				continue
			}
			walk(next, c, t)
		}
	}
	walk(w.root, w.trie, nil)

	for _, t := range targets {
		w.cancels = append(w.cancels, t.notifier.Watch(w.handler(gen, t)))
	}
}

func sameNotifier(a, b property.Notifier) bool {
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

func (w *pathWatcher) handler(gen uint64, t *hookTarget) property.Handler {
	return func(p string) error {
		path, hit := "", false
		switch {
		case t.widened:
			path, hit = t.nodes[0].path, true
		default:
			for _, node := range t.nodes {
				if node == w.trie && w.whole {
					hit = true
					break
				}
				if c := node.child(p); c != nil {
					path, hit = c.path, true
					break
				}
			}
		}
		if !hit {
			return nil
		}

		w.mu.Lock()
		if gen != w.gen {
			// stale registration
			w.mu.Unlock()
			return nil
		}
		w.hookLocked()
		w.mu.Unlock()

		if t.widened {
			return w.onDegraded(path)
		}
		return w.onChange(path)
	}
}

func (w *pathWatcher) unhookLocked() {
	for _, cancel := range w.cancels {
		cancel()
	}
	w.cancels = nil
	w.degraded = false
	w.gen++
}

func (w *pathWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unhookLocked()
}

func (w *pathWatcher) isDegraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}
