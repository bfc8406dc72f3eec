package rmap

import (
	"fmt"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/txn"
)

// Op selects the direction of a reverse-mapping update.
type Op int

const (
	OpMap Op = iota
	OpUnmap
	OpRemap
)

func (o Op) String() string {
	switch o {
	case OpUnmap:
		return "unmap"
	case OpRemap:
		return "remap"
	}
	return "map"
}

// UpdateIntent applies one reverse-mapping edit as deferred work. A single
// edit is one index record and always completes in one finish step; the
// intent exists so the edit rides the chain after the block-mapping change
// that caused it, inside the same atomic unit.
type UpdateIntent struct {
	txn.IntentBase

	ix     *Index
	op     Op
	rec    Record
	newRec Record // OpRemap target

	ilog  *meta.IntentLog
	logID uint64
}

// NewUpdateIntent builds the intent for one record edit.
func NewUpdateIntent(ix *Index, op Op, rec Record) *UpdateIntent {
	return &UpdateIntent{ix: ix, op: op, rec: rec}
}

// NewRemapIntent builds the intent moving one physical extent from its
// old record to a new owner/offset in a single adjustment.
func NewRemapIntent(ix *Index, from, to Record) *UpdateIntent {
	return &UpdateIntent{ix: ix, op: OpRemap, rec: from, newRec: to}
}

// Name implements txn.Intent.
func (u *UpdateIntent) Name() string { return "rmap-update" }

// RemainingSize implements txn.Intent. One record, one unit.
func (u *UpdateIntent) RemainingSize() uint64 {
	if u.rec.BlockCount == 0 {
		return 0
	}
	return 1
}

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

// Finish applies the edit. Never returns StepMoreWork.
func (u *UpdateIntent) Finish(tx *txn.Txn) (txn.StepResult, error) {
	var err error
	switch u.op {
	case OpMap:
		err = u.ix.Map(u.rec)
	case OpUnmap:
		err = u.ix.Unmap(u.rec.StartBlock, u.rec.BlockCount, u.rec.Owner, u.rec.Fork)
	case OpRemap:
		err = u.ix.Remap(u.rec, u.newRec)
	}
	if err != nil {
		return txn.StepDone, fmt.Errorf("rmap %s [%d,+%d) inode %d: %w",
			u.op, u.rec.StartBlock, u.rec.BlockCount, u.rec.Owner, err)
	}
	u.rec.BlockCount = 0
	return txn.StepDone, nil
}

// Cancel abandons the edit.
func (u *UpdateIntent) Cancel() { u.dropLogRecord() }

// Abort abandons the edit after a failed finish step.
func (u *UpdateIntent) Abort() { u.dropLogRecord() }

func (u *UpdateIntent) dropLogRecord() {
	if u.ilog != nil && u.logID != 0 {
		_ = u.ilog.CancelIntent(u.logID)
		u.logID = 0
	}
}
