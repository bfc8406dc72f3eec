package txn

import (
	"context"
	"fmt"
)

// StepResult is the three-way outcome of a finish step, minus the error
// half: done, or more work remaining. "More work" is a control value, not
// an error; conflating the two causes either infinite retries or a chain
// aborted mid-operation.
type StepResult int

const (
	// StepDone means the intent's payload is fully consumed.
	StepDone StepResult = iota

	// StepMoreWork means the payload shrank but work remains; the engine
	// must roll the transaction before retrying the same intent.
	StepMoreWork
)

// Intent is the per-type operation table of the deferred-operation engine.
// One implementation exists per intent family: extent-free, rmap update,
// refcount update, bmap update, extent swap, and the registry edits built
// on top.
type Intent interface {
	// Name tags the family for diagnostics and intent-log records.
	Name() string

	// RemainingSize measures unconsumed payload. A finish step returning
	// StepMoreWork must have strictly decreased it; the engine treats a
	// stalled intent as a defect and panics.
	RemainingSize() uint64

	// CreateIntent writes the optional durability record before any
	// mutation. May be a no-op.
	CreateIntent(tx *Txn) error

	// CreateDone writes the optional completion record. May be a no-op.
	CreateDone(tx *Txn) error

	// Finish performs one bounded slice of work inside the current
	// transaction.
	Finish(tx *Txn) (StepResult, error)

	// Cleanup releases resources kept open across steps, once per intent
	// after it finishes. May be a no-op.
	Cleanup(tx *Txn) error

	// Cancel releases a never-started or no-longer-wanted intent.
	Cancel()

	// Abort releases an intent whose finish step failed hard, signalling
	// any created-but-unfinished durability record as cancelled.
	Abort()
}

// IntentBase provides no-op implementations of the optional hooks so
// intent families only spell out what they use.
type IntentBase struct{}

func (IntentBase) CreateIntent(*Txn) error { return nil }
func (IntentBase) CreateDone(*Txn) error   { return nil }
func (IntentBase) Cleanup(*Txn) error      { return nil }
func (IntentBase) Cancel()                 {}
func (IntentBase) Abort()                  {}

// chain is one causal unit of intents, finished strictly in registration
// order.
type chain struct {
	intents []Intent
	created bool // CreateIntent ran for every member
}

// stallSlack pads the continuation-step bound for intents whose remaining
// size is small but legitimately needs a few extra passes (cleanup phases).
const stallSlack = 16

// Defer registers an intent against the transaction. Registrations made
// outside the drain loop join one chain; registrations made while a finish
// step runs (nested intents) form a new chain queued after the active one.
//
// Deferred work needs a permanent reservation to survive the rolls the
// drain loop performs; registering on anything else panics.
func (tx *Txn) Defer(it Intent) {
	tx.checkLive("Defer")
	if !tx.permanent {
		panic("txn: deferred work requires a permanent reservation")
	}
	if tx.draining {
		if tx.nested == nil {
			tx.nested = &chain{}
		}
		tx.nested.intents = append(tx.nested.intents, it)
		return
	}
	if len(tx.chains) == 0 {
		tx.chains = append(tx.chains, &chain{})
	}
	ch := tx.chains[0]
	ch.intents = append(ch.intents, it)
}

// liftNested queues intents registered during the last finish step as a
// fresh chain after all existing ones.
func (tx *Txn) liftNested() {
	if tx.nested != nil {
		tx.chains = append(tx.chains, tx.nested)
		tx.nested = nil
	}
}

// abortChains handles a hard error mid-drain: the failing intent is
// aborted, every not-yet-started intent in this and later chains is
// cancelled, and the chains are discarded. Already-finished intents are
// permanently applied and are not undone.
func (tx *Txn) abortChains(failed Intent) {
	tx.liftNested()
	for _, ch := range tx.chains {
		for _, it := range ch.intents {
			if it == failed {
				it.Abort()
			} else {
				it.Cancel()
			}
		}
	}
	tx.chains = nil
}

// drain runs the deferred-operation chains of cur to completion, rolling
// the transaction whenever a finish step reports more work. It returns the
// transaction current at exit; on error the caller owns cancelling it.
//
// Ordering is strictly FIFO within and across chains. Some intent families
// are logically commutative, but reordering would break incremental counter
// accounting and the roll-carries-reservation discipline, so the engine
// never does it.
func drain(ctx context.Context, cur *Txn) (*Txn, error) {
	for len(cur.chains) > 0 {
		ch := cur.chains[0]

		// Durability records for the whole chain go first, before any
		// finish step mutates anything.
		if !ch.created {
			for _, it := range ch.intents {
				if err := it.CreateIntent(cur); err != nil {
					cur.abortChains(nil)
					return cur, fmt.Errorf("create intent %q: %w", it.Name(), err)
				}
			}
			ch.created = true
		}

		for len(ch.intents) > 0 {
			it := ch.intents[0]

			remaining := it.RemainingSize()
			maxSteps := 2*remaining + stallSlack
			var steps uint64

			for {
				if err := ctx.Err(); err != nil {
					cur.abortChains(it)
					return cur, err
				}

				cur.draining = true
				res, err := it.Finish(cur)
				cur.draining = false
				cur.liftNested()

				if err != nil {
					cur.abortChains(it)
					return cur, fmt.Errorf("finish %q: %w", it.Name(), err)
				}
				if res == StepDone {
					break
				}

				// Liveness: a more-work step must shrink the payload, and
				// the whole intent must converge within a bounded number
				// of continuations.
				now := it.RemainingSize()
				if now >= remaining {
					panic(fmt.Sprintf("txn: intent %q returned more-work without progress (%d -> %d)",
						it.Name(), remaining, now))
				}
				remaining = now
				steps++
				if steps > maxSteps {
					panic(fmt.Sprintf("txn: intent %q exceeded %d continuation steps", it.Name(), maxSteps))
				}

				succ, err := cur.Roll(ctx)
				if err != nil {
					// Caller cancels the successor: two-phase failure.
					return succ, err
				}
				cur = succ
			}

			if err := it.CreateDone(cur); err != nil {
				cur.abortChains(it)
				return cur, fmt.Errorf("create done %q: %w", it.Name(), err)
			}
			if err := it.Cleanup(cur); err != nil {
				ch.intents = ch.intents[1:]
				cur.abortChains(nil)
				return cur, fmt.Errorf("cleanup %q: %w", it.Name(), err)
			}
			ch.intents = ch.intents[1:]
		}

		cur.chains = cur.chains[1:]
	}
	return cur, nil
}
