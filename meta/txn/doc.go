// Package txn provides transactions over a metadata image: all-or-nothing
// groups of buffer and inode mutations, counter deltas, and deferred
// operations.
//
// Transaction Protocol:
//  1. Alloc() - reserve blocks, realtime extents, and log budget up front
//  2. JoinBuf()/JoinInode() - attach log items for the objects being edited
//  3. LogBuf()/LogInode() - mark sub-fields dirty as mutations happen
//  4. ModCounter() - accumulate summary-counter deltas
//  5. Defer() - register intents for work too large for one transaction
//  6. Commit() - drain intents, apply deltas once, flush items, release
//
// Cancel() at any point releases everything without flushing; the image
// never sees a partial transaction.
//
// Work that cannot fit one reservation is carried across Roll(): the
// successor inherits the unused reservation, the pending intent chains, and
// any held items, while the predecessor's mutations commit. Only permanent
// (ResProfile.Permanent) transactions may carry intent chains across a
// roll.
//
// Invariant violations - reservation overdraft, joining an owned object,
// a second terminal action, a finish step that makes no progress - panic.
// They are programming errors, not recoverable conditions.
//
// The transaction is NOT thread-safe. Only one goroutine should use it at
// a time; concurrent transactions coordinate through the image's summary
// state only.
package txn
