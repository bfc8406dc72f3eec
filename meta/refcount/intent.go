package refcount

import (
	"fmt"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/txn"
)

// UpdateIntent adjusts the share count of a physical range as deferred
// work, a bounded slice of blocks per finish step.
type UpdateIntent struct {
	txn.IntentBase

	ix    *Index
	start uint64
	count uint64
	delta int

	ilog  *meta.IntentLog
	logID uint64
}

// NewUpdateIntent builds the intent. delta must be +1 or -1.
func NewUpdateIntent(ix *Index, start, count uint64, delta int) *UpdateIntent {
	if delta != 1 && delta != -1 {
		panic(fmt.Sprintf("refcount: intent delta %d", delta))
	}
	return &UpdateIntent{ix: ix, start: start, count: count, delta: delta}
}

// Name implements txn.Intent.
func (u *UpdateIntent) Name() string { return "refcount-update" }

// RemainingSize implements txn.Intent.
func (u *UpdateIntent) RemainingSize() uint64 { return u.count }

// CreateIntent writes a durable record when the transaction asked for one.
func (u *UpdateIntent) CreateIntent(tx *txn.Txn) error {
	if tx.IntentLogEnabled() {
		u.ilog = tx.Img().Log()
		u.logID = u.ilog.Append(u.Name())
	}
	return nil
}

// CreateDone marks the durable record complete.
func (u *UpdateIntent) CreateDone(tx *txn.Txn) error {
	if u.logID != 0 {
		return tx.Img().Log().MarkDone(u.logID)
	}
	return nil
}

// Finish adjusts one bounded slice of the range.
func (u *UpdateIntent) Finish(tx *txn.Txn) (txn.StepResult, error) {
	n, err := u.ix.AdjustBounded(u.start, u.count, u.delta)
	if err != nil {
		return txn.StepDone, fmt.Errorf("refcount adjust [%d,+%d) by %+d: %w",
			u.start, u.count, u.delta, err)
	}
	u.start += n
	u.count -= n
	if u.count > 0 {
		return txn.StepMoreWork, nil
	}
	return txn.StepDone, nil
}

// Cancel abandons the unadjusted remainder.
func (u *UpdateIntent) Cancel() { u.dropLogRecord() }

// Abort abandons the intent after a failed finish step.
func (u *UpdateIntent) Abort() { u.dropLogRecord() }

func (u *UpdateIntent) dropLogRecord() {
	if u.ilog != nil && u.logID != 0 {
		_ = u.ilog.CancelIntent(u.logID)
		u.logID = 0
	}
}
