package recovery

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyscaledb/cyscaledb/internal/xlog"
	"github.com/cyscaledb/cyscaledb/storage/buffer"
	"github.com/cyscaledb/cyscaledb/storage/disk"
	"github.com/cyscaledb/cyscaledb/storage/page"
	"github.com/cyscaledb/cyscaledb/storage/wal"
)

func testNamer(db, table string) string { return table + ".cdb" }

func TestRecoverRedoesCommittedWritesAndUndoesLosers(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "log")
	log := xlog.New(xlog.Config{})

	diskMgr := disk.NewManager(dir, log)
	walw, err := wal.Open(wal.Config{Dir: walDir}, log)
	require.NoError(t, err)

	// Allocate the page on disk but never write the row to it directly —
	// simulating a crash after the WAL record landed but before the
	// buffer pool's dirty page was flushed.
	pool := buffer.NewPool(buffer.Config{Frames: 8}, diskMgr, walw, log)
	pageID, guard, err := pool.NewPage("t.cdb")
	require.NoError(t, err)
	guard.Unpin()
	require.NoError(t, pool.Flush("t.cdb", pageID))

	_, err = walw.Append(&wal.Entry{TxnID: 1, Type: wal.Begin})
	require.NoError(t, err)
	_, err = walw.Append(&wal.Entry{
		TxnID: 1, Type: wal.Insert, DBName: "db", TableName: "t",
		HasPageSlot: true, PageID: pageID, Slot: 0, NewBytes: []byte("committed-row"),
	})
	require.NoError(t, err)
	commitLSN, err := walw.Append(&wal.Entry{TxnID: 1, Type: wal.Commit})
	require.NoError(t, err)
	require.NoError(t, walw.FlushUpTo(commitLSN))

	_, err = walw.Append(&wal.Entry{TxnID: 2, Type: wal.Begin})
	require.NoError(t, err)
	_, err = walw.Append(&wal.Entry{
		TxnID: 2, Type: wal.Insert, DBName: "db", TableName: "t",
		HasPageSlot: true, PageID: pageID, Slot: 1, NewBytes: []byte("loser-row"),
	})
	require.NoError(t, err)
	// No Commit/Abort for txn 2: it's a loser.
	require.NoError(t, walw.Close())

	// Fresh pool/wal, as if reopened after a crash.
	diskMgr2 := disk.NewManager(dir, log)
	walw2, err := wal.Open(wal.Config{Dir: walDir}, log)
	require.NoError(t, err)
	defer walw2.Close()
	pool2 := buffer.NewPool(buffer.Config{Frames: 8}, diskMgr2, walw2, log)

	applyUndo := func(e *wal.Entry) error {
		g, err := pool2.Fetch(testNamer(e.DBName, e.TableName), e.PageID)
		if err != nil {
			return err
		}
		defer g.Unpin()
		switch e.Type {
		case wal.Insert:
			return g.Page().DeleteRow(e.Slot)
		case wal.Update:
			return g.Page().UpdateRowInPlace(e.Slot, e.OldBytes)
		}
		return nil
	}

	report, err := Recover(walDir, filepath.Join(dir, "checkpoint.meta"), pool2, walw2, testNamer, applyUndo, log)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, report.LosersUndone)
	assert.Equal(t, 2, report.RedoApplied)

	g, err := pool2.Fetch("t.cdb", pageID)
	require.NoError(t, err)
	defer g.Unpin()

	got, err := g.Page().ReadRow(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed-row"), got)

	_, err = g.Page().ReadRow(1)
	assert.True(t, errors.Is(err, page.ErrNotFound))
}

func TestRecoverWithNoWALIsNoOp(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, "log")
	log := xlog.New(xlog.Config{})

	diskMgr := disk.NewManager(dir, log)
	walw, err := wal.Open(wal.Config{Dir: walDir}, log)
	require.NoError(t, err)
	defer walw.Close()
	pool := buffer.NewPool(buffer.Config{Frames: 8}, diskMgr, walw, log)

	report, err := Recover(walDir, filepath.Join(dir, "checkpoint.meta"), pool, walw, testNamer, func(*wal.Entry) error { return nil }, log)
	require.NoError(t, err)
	assert.Zero(t, report.EntriesSeen)
	assert.Empty(t, report.LosersUndone)
}
