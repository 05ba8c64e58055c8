package collection

// Info describes a node of a live query graph: a source collection or an operator.
type Info struct {
	// ID is unique per node.
	ID string
	// Kind is the node type, e.g., "collection", "select" or "where".
	Kind string
	// Name is the user supplied name, may be empty.
	Name string
	// Detail is a short human readable description of the node configuration.
	Detail string
	// Inputs are the upstream nodes, each implementing Describer.
	Inputs []Describer
}

// Describer is implemented by every node of a live query graph.
type Describer interface {
	Info() Info
}

// Observable is the read side of a live collection shared by source collections and operators.
type Observable[T comparable] interface {
	Describer

	// Observe atomically returns the current contents and registers a handler for every change
	// committed after them. The returned slice must not be modified.
	Observe(h Handler[T]) ([]T, *Subscription[T], error)
	// Snapshot returns an immutable point-in-time copy of the contents.
	Snapshot() ([]T, error)
	// Count returns the number of elements.
	Count() (int, error)
	// At returns the element at the given position.
	At(i int) (T, error)
	// IsLoading reports whether this node or any node upstream is still performing its initial or
	// asynchronous load.
	IsLoading() bool
}
