package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyscaledb/cyscaledb/internal/xlog"
	"github.com/cyscaledb/cyscaledb/storage/undo"
	"github.com/cyscaledb/cyscaledb/storage/wal"
	"github.com/cyscaledb/cyscaledb/txn/lock"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	log := xlog.New(xlog.Config{})

	walw, err := wal.Open(wal.Config{Dir: dir + "/log"}, log)
	require.NoError(t, err)
	t.Cleanup(func() { walw.Close() })

	undoLog, err := undo.Open(dir+"/undo.log", 16, log)
	require.NoError(t, err)
	t.Cleanup(func() { undoLog.Close() })

	locks := lock.NewManager(lock.Config{WaitTimeoutMS: 200, DeadlockCheckIntervalMS: 20}, log)
	t.Cleanup(locks.Close)

	return NewManager(walw, undoLog, locks, RepeatableRead, log)
}

func TestBeginAssignsMonotonicIDsAndRegistersActive(t *testing.T) {
	m := newTestManager(t)

	t1, err := m.Begin(RepeatableRead, false)
	require.NoError(t, err)
	t2, err := m.Begin(RepeatableRead, false)
	require.NoError(t, err)

	assert.Less(t, t1.ID, t2.ID)
	assert.ElementsMatch(t, []uint64{t1.ID, t2.ID}, m.ActiveIDs())
}

func TestCommitReleasesLocksAndRemovesFromActiveSet(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted, false)
	require.NoError(t, err)

	key := lock.TableKey("db", "t")
	require.NoError(t, m.locks.Acquire(t1.ID, key, lock.X))

	require.NoError(t, m.Commit(t1))
	assert.Equal(t, StateCommitted, t1.State)
	assert.Empty(t, m.ActiveIDs())

	t2, err := m.Begin(ReadCommitted, false)
	require.NoError(t, err)
	require.NoError(t, m.locks.Acquire(t2.ID, key, lock.X))
}

func TestCommitTwiceFails(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted, false)
	require.NoError(t, err)
	require.NoError(t, m.Commit(t1))
	assert.ErrorIs(t, m.Commit(t1), ErrInvalidState)
}

func TestRollbackWalksUndoChainBackward(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(RepeatableRead, false)
	require.NoError(t, err)

	ptr1, err := m.undoLog.Write(&undo.Record{Type: undo.Insert, TxnID: t1.ID, PrevUndoPtr: -1, Payload: []byte("a")})
	require.NoError(t, err)
	ptr2, err := m.undoLog.Write(&undo.Record{Type: undo.Update, TxnID: t1.ID, PrevUndoPtr: ptr1, Payload: []byte("b")})
	require.NoError(t, err)
	t1.LastUndoPtr = ptr2

	var reversed [][]byte
	err = m.Rollback(t1, func(rec *undo.Record) error {
		reversed = append(reversed, rec.Payload)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, [][]byte{[]byte("b"), []byte("a")}, reversed)
	assert.Equal(t, StateAborted, t1.State)
	assert.Empty(t, m.ActiveIDs())
}

func TestRollbackStopsAtOtherTransactionsRecords(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(RepeatableRead, false)
	require.NoError(t, err)
	t2, err := m.Begin(RepeatableRead, false)
	require.NoError(t, err)

	otherPtr, err := m.undoLog.Write(&undo.Record{Type: undo.Insert, TxnID: t1.ID, PrevUndoPtr: -1, Payload: []byte("t1-record")})
	require.NoError(t, err)
	mine, err := m.undoLog.Write(&undo.Record{Type: undo.Insert, TxnID: t2.ID, PrevUndoPtr: otherPtr, Payload: []byte("t2-record")})
	require.NoError(t, err)
	t2.LastUndoPtr = mine

	var reversed [][]byte
	err = m.Rollback(t2, func(rec *undo.Record) error {
		reversed = append(reversed, rec.Payload)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("t2-record")}, reversed)
}

func TestReadCommittedGetsFreshViewEachCall(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadCommitted, false)
	require.NoError(t, err)

	v1 := m.GetOrCreateReadView(t1)
	t2, err := m.Begin(ReadCommitted, false)
	require.NoError(t, err)
	v2 := m.GetOrCreateReadView(t1)

	_, sawT2InV1 := v1.ActiveSet[t2.ID]
	_, sawT2InV2 := v2.ActiveSet[t2.ID]
	assert.False(t, sawT2InV1)
	assert.True(t, sawT2InV2)
}

func TestRepeatableReadReusesFirstView(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(RepeatableRead, false)
	require.NoError(t, err)

	v1 := m.GetOrCreateReadView(t1)
	_, err = m.Begin(RepeatableRead, false)
	require.NoError(t, err)
	v2 := m.GetOrCreateReadView(t1)

	assert.Same(t, v1, v2)
}

func TestReadUncommittedDegradesToReadCommittedView(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(ReadUncommitted, false)
	require.NoError(t, err)
	assert.Equal(t, ReadUncommitted, t1.Level, "declared level is reported unchanged")

	v1 := m.GetOrCreateReadView(t1)
	require.NotNil(t, v1, "core builds a READ COMMITTED view rather than skipping MVCC")
	t2, err := m.Begin(ReadCommitted, false)
	require.NoError(t, err)
	v2 := m.GetOrCreateReadView(t1)

	_, sawT2InV1 := v1.ActiveSet[t2.ID]
	_, sawT2InV2 := v2.ActiveSet[t2.ID]
	assert.False(t, sawT2InV1)
	assert.True(t, sawT2InV2, "fresh view each call, same as READ COMMITTED")
}

func TestSerializableDegradesToRepeatableReadView(t *testing.T) {
	m := newTestManager(t)
	t1, err := m.Begin(Serializable, false)
	require.NoError(t, err)
	assert.Equal(t, Serializable, t1.Level, "declared level is reported unchanged")

	v1 := m.GetOrCreateReadView(t1)
	_, err = m.Begin(RepeatableRead, false)
	require.NoError(t, err)
	v2 := m.GetOrCreateReadView(t1)

	assert.Same(t, v1, v2, "one view reused for the transaction's lifetime, same as REPEATABLE READ")
}

func TestVisibilityPredicate(t *testing.T) {
	v := &ReadView{
		CreatorTxn: 10,
		UpLimit:    5,
		LowLimit:   12,
		ActiveSet:  map[uint64]struct{}{7: {}, 9: {}},
	}

	assert.True(t, v.Visible(10), "own writes are always visible")
	assert.True(t, v.Visible(3), "committed before the oldest active txn is visible")
	assert.False(t, v.Visible(15), "not yet started at view creation is not visible")
	assert.False(t, v.Visible(7), "active at view creation is not visible")
	assert.True(t, v.Visible(6), "committed before view creation and not in the active set is visible")
}
