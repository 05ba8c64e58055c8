// Package zset implements Z-sets over comparable elements: multisets with signed integer
// multiplicities, closed under addition and subtraction. Z-sets represent both collections
// (positive multiplicities) and the deltas between collections.
package zset

import "maps"

// ZSet maps elements to their multiplicities. Elements with zero multiplicity are not stored.
type ZSet[T comparable] struct {
	counts map[T]int
}

// New creates an empty Z-set.
func New[T comparable]() *ZSet[T] {
	return &ZSet[T]{counts: map[T]int{}}
}

// From creates a Z-set that holds each element of items with its number of occurrences.
func From[T comparable](items []T) *ZSet[T] {
	z := New[T]()
	for _, item := range items {
		z.Insert(item, 1)
	}
	return z
}

// Insert adds count to the multiplicity of item in place.
func (z *ZSet[T]) Insert(item T, count int) {
	if count == 0 {
		return
	}
	z.counts[item] += count
	if z.counts[item] == 0 {
		delete(z.counts, item)
	}
}

// Count returns the multiplicity of item.
func (z *ZSet[T]) Count(item T) int { return z.counts[item] }

// Contains reports whether item has positive multiplicity.
func (z *ZSet[T]) Contains(item T) bool { return z.counts[item] > 0 }

// Len returns the number of elements with non-zero multiplicity.
func (z *ZSet[T]) Len() int { return len(z.counts) }

// Copy returns a copy of the Z-set.
func (z *ZSet[T]) Copy() *ZSet[T] {
	return &ZSet[T]{counts: maps.Clone(z.counts)}
}

// Subtract returns z minus other.
func (z *ZSet[T]) Subtract(other *ZSet[T]) *ZSet[T] {
	ret := z.Copy()
	if other == nil {
		return ret
	}
	for item, c := range other.counts {
		ret.Insert(item, -c)
	}
	return ret
}

// Each calls f for every element with its multiplicity, in unspecified order.
func (z *ZSet[T]) Each(f func(item T, count int)) {
	for item, c := range z.counts {
		f(item, c)
	}
}
