// Package dependency tracks the properties a live query depends on and turns property change
// notifications into targeted re-evaluation requests.
//
// Element dependencies are property paths rooted at each element flowing through an operator
// (e.g., "address.city"). For each attached element the tracker hooks a change handler on every
// observable object along the path, rehooking the tail whenever an intermediate value is replaced,
// and reports exactly which element changed. External dependencies are property paths rooted at
// an object outside the source collection; a change there affects every element at once and is
// reported as a reset.
//
// The tracker never silently drops a change it cannot attribute: if an intermediate value on a
// path is not observable, any change of the deepest observable object on that path is reported as
// a reset of the whole operator.
package dependency
