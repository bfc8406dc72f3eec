package alloc

import (
	"fmt"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/txn"
)

// ExtentFreeIntent is the deferred "this extent must eventually be freed"
// promise. Each finish step returns as many blocks as the index allows in
// one pass and credits the free-block counter; the remainder rides the
// continuation signal into the next sub-transaction.
//
// Cancel and Abort release nothing on disk: the blocks were never freed,
// the counters never moved.
type ExtentFreeIntent struct {
	txn.IntentBase

	fs    *FreeSpace
	start uint64
	count uint64
	owner uint64 // inode that owned the blocks, diagnostics only

	ilog  *meta.IntentLog
	logID uint64
}

// NewExtentFreeIntent builds the intent; register it with Txn.Defer before
// touching any index state.
func NewExtentFreeIntent(fs *FreeSpace, start, count, owner uint64) *ExtentFreeIntent {
	return &ExtentFreeIntent{fs: fs, start: start, count: count, owner: owner}
}

// Name implements txn.Intent.
func (e *ExtentFreeIntent) Name() string { return "extent-free" }

// RemainingSize implements txn.Intent.
func (e *ExtentFreeIntent) RemainingSize() uint64 { return e.count }

// CreateIntent writes a durable record when the transaction asked for one.
func (e *ExtentFreeIntent) CreateIntent(tx *txn.Txn) error {
	if tx.IntentLogEnabled() {
		e.ilog = tx.Img().Log()
		e.logID = e.ilog.Append(e.Name())
	}
	return nil
}

// CreateDone marks the durable record complete.
func (e *ExtentFreeIntent) CreateDone(tx *txn.Txn) error {
	if e.logID != 0 {
		return tx.Img().Log().MarkDone(e.logID)
	}
	return nil
}

// Finish frees one bounded slice of the extent.
func (e *ExtentFreeIntent) Finish(tx *txn.Txn) (txn.StepResult, error) {
	n, err := e.fs.FreeBounded(e.start, e.count)
	if err != nil {
		return txn.StepDone, fmt.Errorf("free extent [%d,+%d) of inode %d: %w", e.start, e.count, e.owner, err)
	}
	tx.ModCounter(txn.CntFDBlocks, int64(n))
	e.start += n
	e.count -= n
	if e.count > 0 {
		return txn.StepMoreWork, nil
	}
	return txn.StepDone, nil
}

// Cancel abandons the unfreed remainder.
func (e *ExtentFreeIntent) Cancel() {
	e.dropLogRecord()
}

// Abort abandons the intent after a failed finish step.
func (e *ExtentFreeIntent) Abort() {
	e.dropLogRecord()
}

func (e *ExtentFreeIntent) dropLogRecord() {
	if e.ilog != nil && e.logID != 0 {
		// Best effort: the record may already be resolved on some abort
		// interleavings.
		_ = e.ilog.CancelIntent(e.logID)
		e.logID = 0
	}
}
