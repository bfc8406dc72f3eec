package bmap

import (
	"fmt"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/rmap"
	"github.com/joshuapare/metakit/meta/txn"
)

// Op selects the direction of a block-mapping update.
type Op int

const (
	OpMap Op = iota
	OpUnmap
)

func (o Op) String() string {
	if o == OpUnmap {
		return "unmap"
	}
	return "map"
}

// UpdateIntent applies one fork mapping edit as deferred work. When a
// reverse-mapping index is attached, finishing the edit nests the mirror
// rmap edit into a follow-on chain, so both indexes change inside the same
// atomic unit without either step observing a half-applied state.
type UpdateIntent struct {
	txn.IntentBase

	fork *Fork
	op   Op
	m    Mapping

	ino    uint64
	attr   bool
	rindex *rmap.Index // nil when reverse mapping is not kept

	ilog  *meta.IntentLog
	logID uint64
}

// NewUpdateIntent builds the intent for one mapping edit on the given
// inode's fork. rindex may be nil.
func NewUpdateIntent(fork *Fork, op Op, m Mapping, ino uint64, attr bool, rindex *rmap.Index) *UpdateIntent {
	return &UpdateIntent{fork: fork, op: op, m: m, ino: ino, attr: attr, rindex: rindex}
}

// Name implements txn.Intent.
func (u *UpdateIntent) Name() string { return "bmap-update" }

// RemainingSize implements txn.Intent. One edit, one unit.
func (u *UpdateIntent) RemainingSize() uint64 {
	if u.m.BlockCount == 0 {
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

// Finish applies the fork edit and queues the mirror rmap edit. Never
// returns StepMoreWork.
func (u *UpdateIntent) Finish(tx *txn.Txn) (txn.StepResult, error) {
	var err error
	switch u.op {
	case OpMap:
		err = u.fork.Insert(u.m)
	case OpUnmap:
		err = u.fork.Remove(u.m.StartOff, u.m.BlockCount)
	}
	if err != nil {
		return txn.StepDone, fmt.Errorf("bmap %s inode %d [off %d,+%d): %w",
			u.op, u.ino, u.m.StartOff, u.m.BlockCount, err)
	}

	if u.rindex != nil {
		fork := rmap.ForkData
		if u.attr {
			fork = rmap.ForkAttr
		}
		rop := rmap.OpMap
		if u.op == OpUnmap {
			rop = rmap.OpUnmap
		}
		tx.Defer(rmap.NewUpdateIntent(u.rindex, rop, rmap.Record{
			StartBlock: u.m.StartBlock,
			BlockCount: u.m.BlockCount,
			Owner:      u.ino,
			Fork:       fork,
			StartOff:   u.m.StartOff,
			Unwritten:  u.m.Unwritten,
		}))
	}

	u.m.BlockCount = 0
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
