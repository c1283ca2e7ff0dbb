package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyscaledb/cyscaledb/storage/page"
	"github.com/cyscaledb/cyscaledb/txn"
)

func TestInsertCommitGetRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))

	rowID, err := s.InsertRow(tbl, []byte("first order"))
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	readBack := NewSession(eng)
	require.NoError(t, readBack.Begin(txn.ReadCommitted, true))
	payload, ok, err := readBack.Get(tbl, rowID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("first order"), payload)
	require.NoError(t, readBack.Commit())
}

func TestInsertRollbackLeavesRowAbsent(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))
	rowID, err := s.InsertRow(tbl, []byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	_, ok, err := reader.Get(tbl, rowID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, reader.Commit())
}

func TestUpdateInPlaceRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))
	rowID, err := s.InsertRow(tbl, []byte("aaaaaaaaaa"))
	require.NoError(t, err)

	newID, moved, err := s.UpdateRow(tbl, rowID, []byte("bbbbbbbbbb"))
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, rowID, newID)
	require.NoError(t, s.Commit())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	payload, ok, err := reader.Get(tbl, newID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("bbbbbbbbbb"), payload)
	require.NoError(t, reader.Commit())
}

func TestUpdateGrowRelocates(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))
	rowID, err := s.InsertRow(tbl, []byte("short"))
	require.NoError(t, err)

	bigger := make([]byte, 2048)
	for i := range bigger {
		bigger[i] = byte('x')
	}
	newID, moved, err := s.UpdateRow(tbl, rowID, bigger)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.NotEqual(t, rowID, newID)
	require.NoError(t, s.Commit())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	payload, ok, err := reader.Get(tbl, newID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bigger, payload)

	_, ok, err = reader.Get(tbl, rowID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, reader.Commit())
}

func TestDeleteRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))
	rowID, err := s.InsertRow(tbl, []byte("gone soon"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteRow(tbl, rowID))
	require.NoError(t, s.Commit())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	_, ok, err := reader.Get(tbl, rowID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, reader.Commit())
}

func TestDeleteRollbackLeavesRowPresent(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))
	rowID, err := s.InsertRow(tbl, []byte("do not delete me"))
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	s2 := NewSession(eng)
	require.NoError(t, s2.Begin(txn.ReadCommitted, false))
	require.NoError(t, s2.DeleteRow(tbl, rowID))
	require.NoError(t, s2.Rollback())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	payload, ok, err := reader.Get(tbl, rowID, nil)
	require.NoError(t, err)
	require.True(t, ok, "rollback of a delete must restore the row")
	assert.Equal(t, []byte("do not delete me"), payload)
	require.NoError(t, reader.Commit())
}

func TestUpdateShrinkThenRollbackRestoresOriginal(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))
	original := []byte("a fairly long original payload")
	rowID, err := s.InsertRow(tbl, original)
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	s2 := NewSession(eng)
	require.NoError(t, s2.Begin(txn.ReadCommitted, false))
	newID, moved, err := s2.UpdateRow(tbl, rowID, []byte("short"))
	require.NoError(t, err)
	require.False(t, moved)
	require.Equal(t, rowID, newID)
	require.NoError(t, s2.Rollback())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	payload, ok, err := reader.Get(tbl, rowID, nil)
	require.NoError(t, err)
	require.True(t, ok, "rollback of a shrinking update must restore the longer original")
	assert.Equal(t, original, payload)
	require.NoError(t, reader.Commit())
}

func TestScanReturnsAllLiveRowsAcrossPages(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	s := NewSession(eng)
	require.NoError(t, s.Begin(txn.ReadCommitted, false))

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte('y')
	}
	const n = 8
	rowIDs := make([]page.RowID, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.InsertRow(tbl, payload)
		require.NoError(t, err)
		rowIDs = append(rowIDs, id)
	}
	require.NoError(t, s.Commit())

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	rows, err := reader.Scan(tbl, nil)
	require.NoError(t, err)
	assert.Len(t, rows, n)
	require.NoError(t, reader.Commit())

	seen := map[page.RowID]bool{}
	for _, r := range rows {
		seen[r.ID] = true
	}
	for _, id := range rowIDs {
		assert.True(t, seen[id])
	}
}

func TestMVCCUncommittedInsertInvisibleUntilCommit(t *testing.T) {
	eng := newTestEngine(t)
	tbl, err := eng.CreateTable("shop", "orders")
	require.NoError(t, err)

	writer := NewSession(eng)
	require.NoError(t, writer.Begin(txn.ReadCommitted, false))
	rowID, err := writer.InsertRow(tbl, []byte("in flight"))
	require.NoError(t, err)

	reader := NewSession(eng)
	require.NoError(t, reader.Begin(txn.ReadCommitted, true))
	view := eng.Txns.GetOrCreateReadView(reader.txn)
	_, ok, err := reader.Get(tbl, rowID, view)
	require.NoError(t, err)
	assert.False(t, ok, "uncommitted insert must not be visible to a concurrent reader")
	require.NoError(t, reader.Commit())

	require.NoError(t, writer.Commit())

	reader2 := NewSession(eng)
	require.NoError(t, reader2.Begin(txn.ReadCommitted, true))
	view2 := eng.Txns.GetOrCreateReadView(reader2.txn)
	payload, ok, err := reader2.Get(tbl, rowID, view2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("in flight"), payload)
	require.NoError(t, reader2.Commit())
}
