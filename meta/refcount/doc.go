// Package refcount tracks how many owners share each physical extent.
// Singly-owned space is implicit; the index only stores ranges whose
// count is two or more, so an empty index means no sharing anywhere.
//
// Adjustments are range increments and decrements that split records at
// the boundaries. Because a single adjustment can touch an unbounded
// number of blocks, the work is carried by a deferred intent that
// processes a bounded slice per finish step.
package refcount
