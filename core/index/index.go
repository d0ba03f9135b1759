// Package index provides a comparator-driven ordered index.
//
// The index stores values of any type and orders them with a three-way
// comparator, so the same structure serves path-keyed resource lookup and
// case-insensitive header storage. It is backed by a B-tree; with the default
// degree of 2 every node holds one to three keys, which is the 2-3-4 tree a
// red-black tree encodes, giving O(log n) insert, find and erase.
//
// An Index is not safe for concurrent use; callers provide their own locking.
package index

import (
	"github.com/google/btree"
)

// DefaultDegree is the B-tree degree used by New.
const DefaultDegree = 2

// Compare is a three-way comparator. It returns a negative number when a
// sorts before b, zero when they are equal and a positive number otherwise.
type Compare[T any] func(a, b T) int

// Index is an ordered set of T without duplicate keys.
type Index[T any] struct {
	tree *btree.BTreeG[T]
	cmp  Compare[T]
}

// New creates an empty index ordered by cmp.
func New[T any](cmp Compare[T]) *Index[T] {
	return NewWithDegree(DefaultDegree, cmp)
}

// NewWithDegree creates an empty index with a custom B-tree degree.
// Degrees below 2 are raised to 2.
func NewWithDegree[T any](degree int, cmp Compare[T]) *Index[T] {
	if degree < 2 {
		degree = 2
	}
	return &Index[T]{
		tree: btree.NewG(degree, func(a, b T) bool { return cmp(a, b) < 0 }),
		cmp:  cmp,
	}
}

// Insert links item into the index. It returns false and leaves the index
// unchanged when an item comparing equal is already present.
func (x *Index[T]) Insert(item T) bool {
	if x.tree.Has(item) {
		return false
	}
	x.tree.ReplaceOrInsert(item)
	return true
}

// Find returns the stored item comparing equal to probe. Only the key part of
// probe needs to be populated.
func (x *Index[T]) Find(probe T) (T, bool) {
	return x.tree.Get(probe)
}

// Erase removes the item comparing equal to probe and returns it. The removed
// item is not torn down; that stays with the caller.
func (x *Index[T]) Erase(probe T) (T, bool) {
	return x.tree.Delete(probe)
}

// Visit calls fn for every item in comparator order until fn returns false.
// The index must not be mutated from within fn.
func (x *Index[T]) Visit(fn func(item T) bool) {
	x.tree.Ascend(func(item T) bool {
		return fn(item)
	})
}

// Min returns the smallest item.
func (x *Index[T]) Min() (T, bool) {
	return x.tree.Min()
}

// Max returns the largest item.
func (x *Index[T]) Max() (T, bool) {
	return x.tree.Max()
}

// Len returns the number of items.
func (x *Index[T]) Len() int {
	return x.tree.Len()
}

// Clear removes every item. Node memory is kept for reuse by later inserts.
func (x *Index[T]) Clear() {
	x.tree.Clear(true)
}

// Compare exposes the comparator the index was built with.
func (x *Index[T]) Compare(a, b T) int {
	return x.cmp(a, b)
}
