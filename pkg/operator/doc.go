// Package operator implements the incremental live query operators.
//
// Every operator observes an upstream collection.Observable and maintains its own result
// collection, which is itself observable so operators compose into a graph. Operators load
// lazily: the first Observe, Snapshot, Count or At subscribes upstream, evaluates the query over
// the upstream contents and from then on translates each upstream change event into the minimal
// set of result mutations.
//
// User functions may depend on mutable properties of the elements (Options.DependsOn) and of
// external objects (Options.External). Element property changes are re-evaluated for the
// affected element only; external changes trigger a full reload.
//
// A failing user function aborts the current update: the operator state and its result are left
// exactly as before the triggering event and the error is returned to the writer that committed
// the upstream change.
package operator
