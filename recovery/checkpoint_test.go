package recovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyscaledb/cyscaledb/internal/xlog"
	"github.com/cyscaledb/cyscaledb/storage/buffer"
	"github.com/cyscaledb/cyscaledb/storage/disk"
	"github.com/cyscaledb/cyscaledb/storage/wal"
)

type fakeActiveIDs struct{ ids []uint64 }

func (f fakeActiveIDs) ActiveIDs() []uint64 { return f.ids }

func TestMetaEncodeDecodeRoundTrip(t *testing.T) {
	m := &Meta{CheckpointLSN: 42, StartTicks: 100, EndTicks: 200, ActiveTxnIDs: []uint64{3, 7, 9}}
	got, err := decodeMeta(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestTakeCheckpointWritesFileAndFlushesDirtyPages(t *testing.T) {
	dir := t.TempDir()
	log := xlog.New(xlog.Config{})

	diskMgr := disk.NewManager(dir, log)
	walw, err := wal.Open(wal.Config{Dir: filepath.Join(dir, "log")}, log)
	require.NoError(t, err)
	defer walw.Close()
	pool := buffer.NewPool(buffer.Config{Frames: 8}, diskMgr, walw, log)

	_, guard, err := pool.NewPage("t.cdb")
	require.NoError(t, err)
	_, err = guard.Page().InsertRow([]byte("row"))
	require.NoError(t, err)
	guard.Page().SetLSN(1)
	guard.MarkDirty()
	guard.Unpin()

	path := filepath.Join(dir, "checkpoint.meta")
	cp := NewCheckpointer(path, pool, walw, fakeActiveIDs{ids: []uint64{5, 6}}, 0, 0, 2, log)
	require.NoError(t, cp.TakeCheckpoint())

	meta, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{5, 6}, meta.ActiveTxnIDs)
	assert.NotZero(t, meta.CheckpointLSN)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Flushes)
}

func TestLoadCheckpointMissingFileReturnsSentinel(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.meta"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}
