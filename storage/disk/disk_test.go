package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyscaledb/cyscaledb/internal/xlog"
	"github.com/cyscaledb/cyscaledb/storage/page"
)

func TestAllocateWriteReadPage(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "t1.cdb"), SyncNone, xlog.New(xlog.Config{}))
	require.NoError(t, err)
	defer f.Close()

	id, err := f.AllocatePage()
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)

	p := page.New(id)
	_, err = p.InsertRow([]byte("payload"))
	require.NoError(t, err)
	p.StampChecksum()

	require.NoError(t, f.WritePage(id, p.Bytes()))
	require.NoError(t, f.Sync())

	raw, err := f.ReadPage(id)
	require.NoError(t, err)
	p2, err := page.FromBytes(raw)
	require.NoError(t, err)
	assert.True(t, p2.VerifyChecksum())

	row, err := p2.ReadRow(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), row)
}

func TestManagerCachesHandles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, xlog.New(xlog.Config{}))
	defer m.Close()

	f1, err := m.Open("accounts.cdb", SyncNone)
	require.NoError(t, err)
	f2, err := m.Open("accounts.cdb", SyncNone)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}

func TestAppendRawAndReadAt(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "cyscaledb.wal"), SyncNone, xlog.New(xlog.Config{}))
	require.NoError(t, err)
	defer f.Close()

	off1, err := f.AppendRaw([]byte("first"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, off1)

	off2, err := f.AppendRaw([]byte("second"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, off2)

	buf := make([]byte, 6)
	require.NoError(t, f.ReadRawAt(buf, off2))
	assert.Equal(t, "second", string(buf))
}
