package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// stepIntent is a test double: it consumes perStep units of remaining per
// finish call and records every callback in order.
type stepIntent struct {
	IntentBase
	name      string
	remaining uint64
	perStep   uint64
	failStep  int // 1-based step to fail at, 0 = never
	steps     int
	log       *[]string
	txs       []*Txn
}

func (s *stepIntent) Name() string          { return s.name }
func (s *stepIntent) RemainingSize() uint64 { return s.remaining }

func (s *stepIntent) Finish(tx *Txn) (StepResult, error) {
	s.steps++
	s.txs = append(s.txs, tx)
	*s.log = append(*s.log, fmt.Sprintf("%s:finish", s.name))
	if s.failStep != 0 && s.steps == s.failStep {
		return StepDone, errors.New("boom")
	}
	n := s.perStep
	if n > s.remaining {
		n = s.remaining
	}
	s.remaining -= n
	if s.remaining > 0 {
		return StepMoreWork, nil
	}
	return StepDone, nil
}

func (s *stepIntent) Cleanup(*Txn) error {
	*s.log = append(*s.log, fmt.Sprintf("%s:cleanup", s.name))
	return nil
}

func (s *stepIntent) Cancel() { *s.log = append(*s.log, fmt.Sprintf("%s:cancel", s.name)) }
func (s *stepIntent) Abort()  { *s.log = append(*s.log, fmt.Sprintf("%s:abort", s.name)) }

func permTxn(t *testing.T) *Txn {
	t.Helper()
	tx, err := Alloc(testImage(t), ResItruncate, 50, 0)
	require.NoError(t, err)
	return tx
}

func TestDrainFinishesFIFO(t *testing.T) {
	tx := permTxn(t)
	var log []string
	a := &stepIntent{name: "A", remaining: 1, perStep: 1, log: &log}
	b := &stepIntent{name: "B", remaining: 1, perStep: 1, log: &log}
	c := &stepIntent{name: "C", remaining: 1, perStep: 1, log: &log}
	tx.Defer(a)
	tx.Defer(b)
	tx.Defer(c)

	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, []string{
		"A:finish", "A:cleanup",
		"B:finish", "B:cleanup",
		"C:finish", "C:cleanup",
	}, log)
}

// A bounded intent that frees 2 units per step over a 5-unit payload needs
// exactly three finishes (2+2+1) with a roll between each retry.
func TestDrainRollsBetweenContinuations(t *testing.T) {
	tx := permTxn(t)
	var log []string
	it := &stepIntent{name: "free", remaining: 5, perStep: 2, log: &log}
	tx.Defer(it)

	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, 3, it.steps)
	require.Zero(t, it.remaining)

	// Each retry must run in a fresh rolled transaction.
	require.Len(t, it.txs, 3)
	require.NotSame(t, it.txs[0], it.txs[1])
	require.NotSame(t, it.txs[1], it.txs[2])
}

func TestDrainAbortsRemainingOnHardError(t *testing.T) {
	tx := permTxn(t)
	var log []string
	a := &stepIntent{name: "A", remaining: 1, perStep: 1, log: &log}
	b := &stepIntent{name: "B", remaining: 3, perStep: 1, failStep: 2, log: &log}
	c := &stepIntent{name: "C", remaining: 1, perStep: 1, log: &log}
	tx.Defer(a)
	tx.Defer(b)
	tx.Defer(c)

	err := tx.Commit(context.Background())
	require.Error(t, err)

	// A finished before the failure; B aborted; C cancelled untouched.
	require.Equal(t, []string{
		"A:finish", "A:cleanup",
		"B:finish", "B:finish",
		"B:abort", "C:cancel",
	}, log)
	require.Zero(t, c.steps)
}

func TestDrainOrderingAcrossRolls(t *testing.T) {
	tx := permTxn(t)
	var log []string
	a := &stepIntent{name: "A", remaining: 4, perStep: 2, log: &log}
	b := &stepIntent{name: "B", remaining: 1, perStep: 1, log: &log}
	tx.Defer(a)
	tx.Defer(b)

	require.NoError(t, tx.Commit(context.Background()))

	// B must not start until A is fully finished, rolls or not.
	require.Equal(t, []string{
		"A:finish", "A:finish", "A:cleanup",
		"B:finish", "B:cleanup",
	}, log)
}

// nestingIntent registers a child intent from inside its finish step.
type nestingIntent struct {
	IntentBase
	name  string
	child Intent
	log   *[]string
}

func (n *nestingIntent) Name() string          { return n.name }
func (n *nestingIntent) RemainingSize() uint64 { return 1 }

func (n *nestingIntent) Finish(tx *Txn) (StepResult, error) {
	*n.log = append(*n.log, n.name+":finish")
	tx.Defer(n.child)
	return StepDone, nil
}

func TestNestedIntentsRunAfterRegisteringChain(t *testing.T) {
	tx := permTxn(t)
	var log []string
	child := &stepIntent{name: "child", remaining: 1, perStep: 1, log: &log}
	parent := &nestingIntent{name: "parent", child: child, log: &log}
	tail := &stepIntent{name: "tail", remaining: 1, perStep: 1, log: &log}
	tx.Defer(parent)
	tx.Defer(tail)

	require.NoError(t, tx.Commit(context.Background()))

	// The child forms a new chain after the registering one: the tail of
	// the parent's chain still runs first.
	require.Equal(t, []string{
		"parent:finish",
		"tail:finish", "tail:cleanup",
		"child:finish", "child:cleanup",
	}, log)
}

// stallingIntent claims more work without shrinking its payload.
type stallingIntent struct {
	IntentBase
}

func (stallingIntent) Name() string                    { return "staller" }
func (stallingIntent) RemainingSize() uint64           { return 7 }
func (stallingIntent) Finish(*Txn) (StepResult, error) { return StepMoreWork, nil }

func TestStalledIntentPanics(t *testing.T) {
	tx := permTxn(t)
	tx.Defer(&stallingIntent{})
	require.Panics(t, func() { tx.Commit(context.Background()) })
}

func TestDeferOnNonPermanentPanics(t *testing.T) {
	img := testImage(t)
	tx, err := Alloc(img, ResWrite, 0, 0)
	require.NoError(t, err)
	defer tx.Cancel()

	var log []string
	require.Panics(t, func() {
		tx.Defer(&stepIntent{name: "x", remaining: 1, perStep: 1, log: &log})
	})
}

func TestCancelCancelsPendingIntents(t *testing.T) {
	tx := permTxn(t)
	var log []string
	a := &stepIntent{name: "A", remaining: 1, perStep: 1, log: &log}
	b := &stepIntent{name: "B", remaining: 1, perStep: 1, log: &log}
	tx.Defer(a)
	tx.Defer(b)
	tx.Cancel()

	require.Equal(t, []string{"A:cancel", "B:cancel"}, log)
	require.Zero(t, a.steps)
}
