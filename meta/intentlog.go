package meta

import (
	"fmt"
	"sync"
)

// IntentState tracks one logged intent record through its life.
type IntentState int

const (
	// IntentPending means the intent record was created but its work has
	// not finished.
	IntentPending IntentState = iota

	// IntentDone means a completion record was written.
	IntentDone

	// IntentCancelled means the intent was abandoned before finishing.
	IntentCancelled
)

// IntentRecord is one entry in the intent log.
type IntentRecord struct {
	ID    uint64
	Name  string
	State IntentState
}

// IntentLog is the crash-resumable bookkeeping for deferred operations:
// an intent record is appended before any mutation, marked done after the
// work finishes, and cancelled when the chain aborts. Recovery would replay
// pending records; the record encoding itself is out of scope, only the
// create-before-mutate / done-after-finish / cancel-on-abort protocol is.
//
// The implementation is an in-memory ledger. Safe for concurrent use.
type IntentLog struct {
	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*IntentRecord
}

// NewIntentLog returns an empty intent log.
func NewIntentLog() *IntentLog {
	return &IntentLog{nextID: 1, records: make(map[uint64]*IntentRecord)}
}

// Append creates a pending intent record and returns its id.
func (l *IntentLog) Append(name string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.records[id] = &IntentRecord{ID: id, Name: name, State: IntentPending}
	return id
}

// MarkDone records completion of a pending intent.
func (l *IntentLog) MarkDone(id uint64) error {
	return l.transition(id, IntentDone)
}

// CancelIntent records abandonment of a pending intent.
func (l *IntentLog) CancelIntent(id uint64) error {
	return l.transition(id, IntentCancelled)
}

func (l *IntentLog) transition(id uint64, to IntentState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return fmt.Errorf("meta: intent %d not found", id)
	}
	if rec.State != IntentPending {
		return fmt.Errorf("meta: intent %d already in state %d", id, rec.State)
	}
	rec.State = to
	return nil
}

// Pending returns a snapshot of records still pending, for recovery and
// tests.
func (l *IntentLog) Pending() []IntentRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []IntentRecord
	for _, rec := range l.records {
		if rec.State == IntentPending {
			out = append(out, *rec)
		}
	}
	return out
}
