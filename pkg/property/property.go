// Package property defines how elements report property-level changes and how property paths are
// resolved against elements.
package property

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Handler is called with the name of a changed property.
type Handler func(property string) error

// Notifier is implemented by elements that report property changes.
type Notifier interface {
	// Watch registers a handler for property changes and returns a function that removes it.
	Watch(h Handler) (cancel func())
}

// Getter is implemented by elements that expose named properties.
type Getter interface {
	Get(property string) (any, bool)
}

var (
	_ Notifier = &Object{}
	_ Getter   = &Object{}
)

// Object is a concurrency-safe observable property bag. Property values may themselves be Objects,
// which makes nested property paths observable.
type Object struct {
	mu       sync.RWMutex
	fields   map[string]any
	handlers map[int64]Handler
	next     atomic.Int64
}

// NewObject creates an Object with the given initial properties. The map is copied.
func NewObject(fields map[string]any) *Object {
	o := &Object{fields: maps.Clone(fields), handlers: map[int64]Handler{}}
	if o.fields == nil {
		o.fields = map[string]any{}
	}
	return o
}

// FromUnstructured creates an Object from a map, converting nested maps into nested Objects so that
// every level of the tree is observable. Lists are kept as is.
func FromUnstructured(fields map[string]any) *Object {
	o := NewObject(nil)
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok {
			v = FromUnstructured(m)
		}
		o.fields[k] = v
	}
	return o
}

// SetPath sets the property at the end of a property path, walking nested Objects.
func SetPath(o *Object, path string, value any) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return fmt.Errorf("cannot set the root of %s", o)
	}
	parent, ok := Resolve(o, p[:len(p)-1])
	if !ok {
		return fmt.Errorf("path %q not found in %s", path, o)
	}
	po, ok := parent.(*Object)
	if !ok {
		return fmt.Errorf("path %q: parent of type %T is not an observable object", path, parent)
	}
	return po.Set(p[len(p)-1], value)
}

// Get returns the value of a property.
func (o *Object) Get(property string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.fields[property]
	return v, ok
}

// Set sets a property and notifies the watchers. Errors returned by watchers are aggregated.
func (o *Object) Set(property string, value any) error {
	o.mu.Lock()
	o.fields[property] = value
	o.mu.Unlock()
	return o.Notify(property)
}

// Delete removes a property and notifies the watchers.
func (o *Object) Delete(property string) error {
	o.mu.Lock()
	_, ok := o.fields[property]
	delete(o.fields, property)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return o.Notify(property)
}

// Notify calls the watchers for a property without changing it. Watchers are called without
// holding the object lock.
func (o *Object) Notify(property string) error {
	o.mu.RLock()
	ids := slices.Sorted(maps.Keys(o.handlers))
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, o.handlers[id])
	}
	o.mu.RUnlock()

	errs := []error{}
	for _, h := range hs {
		if err := h(property); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Watch implements Notifier.
func (o *Object) Watch(h Handler) func() {
	id := o.next.Add(1)
	o.mu.Lock()
	o.handlers[id] = h
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.handlers, id)
		o.mu.Unlock()
	}
}

// Watchers returns the number of registered handlers.
func (o *Object) Watchers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.handlers)
}

// Fields returns a shallow copy of the properties.
func (o *Object) Fields() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.fields)
}

// Unstructured returns a deep copy of the properties with nested Objects converted to maps.
func (o *Object) Unstructured() map[string]any {
	return toUnstructured(o.Fields()).(map[string]any)
}

func toUnstructured(v any) any {
	switch t := v.(type) {
	case *Object:
		return t.Unstructured()
	case map[string]any:
		ret := make(map[string]any, len(t))
		for k, x := range t {
			ret[k] = toUnstructured(x)
		}
		return ret
	case []any:
		ret := make([]any, len(t))
		for i, x := range t {
			ret[i] = toUnstructured(x)
		}
		return ret
	default:
		return v
	}
}

// String renders the object with sorted keys.
func (o *Object) String() string {
	fs := o.Fields()
	keys := slices.Collect(maps.Keys(fs))
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", k, fs[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
