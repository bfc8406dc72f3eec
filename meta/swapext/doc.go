// Package swapext exchanges the storage mapped to two files' forks, one
// matched pair of extent mappings per finish step, as a deferred
// operation that rolls the transaction between steps. Identical mappings
// pass through untouched, unwritten preallocations can be skipped, and a
// terminal cleanup phase discharges post-swap obligations: inline
// compaction of the second file, shared-blocks flag transfer, and
// copy-on-write fork hygiene.
//
// The estimator walks both forks in lockstep without mutating them,
// computing the blocks that would move and the worst-case extent-count
// growth, so callers can reserve resources up front and refuse swaps that
// would overflow an extent counter.
package swapext
