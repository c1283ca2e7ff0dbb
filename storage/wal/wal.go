// Package wal implements the write-ahead log (spec §4.4, C4): segmented
// append-only storage for WAL entries with strictly monotonic LSNs,
// checksummed records, and the durability ordering rules the rest of the
// kernel depends on. Grounded on the teacher's server/innodb/manager.
// RedoLogManager (buffer-then-flush append, Recover scan, Checkpoint
// write) but reworked around the spec's on-disk record format
// (`[len|payload|checksum]`, little-endian, payload begins with LSN)
// instead of the teacher's ad hoc big-endian field-by-field writer, and
// with no background-timer flush goroutine — flush timing here is driven
// explicitly by callers (buffer pool writeback, commit) per spec §4.4's
// "ordering guarantees" rather than the teacher's 1-second ticker.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"

	"github.com/cyscaledb/cyscaledb/internal/xlog"
	"github.com/cyscaledb/cyscaledb/storage/disk"
)

const (
	activeSegmentName = "cyscaledb.wal"
	lenPrefixSize      = 4
	checksumSize       = 4
)

// Writer is the single-writer handle for the WAL. It is not safe to share
// across processes; a second reader wanting read_from should open its own
// handles onto the segment files, which is why ReadFrom below takes a
// directory path rather than requiring a *Writer.
type Writer struct {
	mu sync.Mutex

	dir             string
	maxSegmentBytes int64
	syncAfterWrite  bool

	file         *disk.File
	segmentIndex int
	offset       int64

	nextLSN     uint64
	flushedLSN  uint64
	log         *xlog.Logger
}

// Config mirrors the WAL-relevant fields of internal/config.Config.
type Config struct {
	Dir             string
	SegmentBytes    int64
	SyncAfterWrite  bool
}

// Open opens (or creates) the WAL in cfg.Dir, replaying existing segments
// only far enough to learn the next LSN to assign — full redo replay is
// recovery's job (C9), not the WAL's.
func Open(cfg Config, log *xlog.Logger) (*Writer, error) {
	if cfg.SegmentBytes <= 0 {
		cfg.SegmentBytes = 16 * 1024 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: creating dir %s: %w", cfg.Dir, err)
	}

	segments, err := listRotatedSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	nextSegmentIndex := 0
	if len(segments) > 0 {
		nextSegmentIndex = segments[len(segments)-1].index + 1
	}

	activePath := filepath.Join(cfg.Dir, activeSegmentName)
	f, err := disk.Open(activePath, disk.SyncNone, log)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:             cfg.Dir,
		maxSegmentBytes: cfg.SegmentBytes,
		syncAfterWrite:  cfg.SyncAfterWrite,
		file:            f,
		segmentIndex:    nextSegmentIndex,
		offset:          size,
		nextLSN:         1,
		log:             log,
	}

	maxLSN, err := scanMaxLSN(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if maxLSN > 0 {
		w.nextLSN = maxLSN + 1
		w.flushedLSN = maxLSN
	}
	return w, nil
}

// Append assigns entry the next LSN under the writer lock and appends its
// serialized record, per spec §4.4's append contract.
func (w *Writer) Append(entry *Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++
	entry.LSN = lsn

	payload := entry.EncodePayload()
	record := buildRecord(payload)

	if err := w.rotateIfNeededLocked(int64(len(record))); err != nil {
		return 0, err
	}
	if _, err := w.file.AppendRaw(record); err != nil {
		return 0, err
	}
	w.offset += int64(len(record))

	if entry.Type == Commit || w.syncAfterWrite {
		if err := w.file.Sync(); err != nil {
			return 0, err
		}
		atomic.StoreUint64(&w.flushedLSN, lsn)
	}
	return lsn, nil
}

// AppendBatch appends every entry in entries as one atomic run under the
// writer lock, guaranteeing the whole batch gets a contiguous LSN range
// with no other writer's records interleaved — the guarantee spec §4.6's
// mini-transaction commit ("writes all buffered redo records to WAL,
// obtaining contiguous LSNs") depends on, which a sequence of independent
// Append calls could not provide under concurrent commits.
func (w *Writer) AppendBatch(entries []*Entry) ([]uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsns := make([]uint64, len(entries))
	needSync := false
	for i, entry := range entries {
		lsn := w.nextLSN
		w.nextLSN++
		entry.LSN = lsn
		lsns[i] = lsn

		payload := entry.EncodePayload()
		record := buildRecord(payload)
		if err := w.rotateIfNeededLocked(int64(len(record))); err != nil {
			return nil, err
		}
		if _, err := w.file.AppendRaw(record); err != nil {
			return nil, err
		}
		w.offset += int64(len(record))
		if entry.Type == Commit || w.syncAfterWrite {
			needSync = true
		}
	}
	if needSync {
		if err := w.file.Sync(); err != nil {
			return nil, err
		}
		atomic.StoreUint64(&w.flushedLSN, lsns[len(lsns)-1])
	}
	return lsns, nil
}

// FlushUpTo ensures every record through lsn is durable; calls with
// lsn <= the already-flushed watermark are no-ops, per spec §4.4. It
// satisfies storage/buffer.WAL.
func (w *Writer) FlushUpTo(lsn uint64) error {
	if atomic.LoadUint64(&w.flushedLSN) >= lsn {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flushedLSN >= lsn {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if w.nextLSN-1 > w.flushedLSN {
		w.flushedLSN = w.nextLSN - 1
	}
	return nil
}

// FlushedLSN reports the current durability watermark.
func (w *Writer) FlushedLSN() uint64 {
	return atomic.LoadUint64(&w.flushedLSN)
}

// rotateIfNeededLocked closes the active segment and opens a fresh one
// when the next record would push it past maxSegmentBytes, per spec
// §4.4's rotate() contract. Must be called with w.mu held.
func (w *Writer) rotateIfNeededLocked(nextRecordSize int64) error {
	if w.offset == 0 || w.offset+nextRecordSize <= w.maxSegmentBytes {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	activePath := filepath.Join(w.dir, activeSegmentName)
	rotatedPath := filepath.Join(w.dir, fmt.Sprintf("%s.%d", activeSegmentName, w.segmentIndex))
	if err := os.Rename(activePath, rotatedPath); err != nil {
		return fmt.Errorf("wal: rotating segment %d: %w", w.segmentIndex, err)
	}
	w.segmentIndex++

	f, err := disk.Open(activePath, disk.SyncNone, w.log)
	if err != nil {
		return err
	}
	w.file = f
	w.offset = 0
	return nil
}

// Rotate forces a segment rotation regardless of size, starting a clean
// segment boundary.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.offset == 0 {
		return nil
	}
	return w.rotateIfNeededLocked(w.maxSegmentBytes)
}

// Truncate deletes rotated segments strictly before beforeLSN. It never
// touches the active segment. A segment is only removed once every record
// in it has an LSN below beforeLSN, per spec §4.4's "requires no active
// transaction references older records" — the caller is responsible for
// not calling Truncate with a watermark any live transaction still needs.
func (w *Writer) Truncate(beforeLSN uint64) error {
	segments, err := listRotatedSegments(w.dir)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		entries, err := scanFile(seg.path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		maxInSeg := entries[len(entries)-1].LSN
		if maxInSeg < beforeLSN {
			if err := os.Remove(seg.path); err != nil {
				return fmt.Errorf("wal: truncating segment %s: %w", seg.path, err)
			}
		}
	}
	return nil
}

// Close flushes and closes the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// ReadFrom returns every valid entry with lsn >= from, across rotated
// segments (oldest first) then the active segment, stopping at the first
// corrupt or truncated record encountered (treated as the log's tail),
// per spec §4.4's read_from contract. Returned in memory rather than as a
// streaming iterator: recovery-time WAL volumes fit comfortably within a
// single scan for this kernel's scope.
func ReadFrom(dir string, from uint64) ([]*Entry, error) {
	var all []*Entry

	segments, err := listRotatedSegments(dir)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		entries, err := scanFile(seg.path)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	activePath := filepath.Join(dir, activeSegmentName)
	if _, err := os.Stat(activePath); err == nil {
		entries, err := scanFile(activePath)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	out := all[:0]
	for _, e := range all {
		if e.LSN >= from {
			out = append(out, e)
		}
	}
	return out, nil
}

type segmentFile struct {
	index int
	path  string
}

// listRotatedSegments returns rotated cyscaledb.wal.N files in ascending
// index order.
func listRotatedSegments(dir string) ([]segmentFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, activeSegmentName+".*"))
	if err != nil {
		return nil, err
	}
	segments := make([]segmentFile, 0, len(matches))
	prefix := activeSegmentName + "."
	for _, m := range matches {
		base := filepath.Base(m)
		idxStr := strings.TrimPrefix(base, prefix)
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue // skip .gz archives and anything non-numeric
		}
		segments = append(segments, segmentFile{index: idx, path: m})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].index < segments[j].index })
	return segments, nil
}

// scanMaxLSN is the minimal scan Open needs to pick up LSN allocation
// where a previous run left off.
func scanMaxLSN(dir string) (uint64, error) {
	entries, err := ReadFrom(dir, 0)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, e := range entries {
		if e.LSN > max {
			max = e.LSN
		}
	}
	return max, nil
}

// scanFile decodes every well-formed, checksum-valid record in path in
// order, stopping silently at the first corrupt or short record.
func scanFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []*Entry
	header := make([]byte, lenPrefixSize)
	for {
		if _, err := readFull(f, header); err != nil {
			break // EOF or torn write: treat as tail
		}
		payloadLen := binary.LittleEndian.Uint32(header)
		body := make([]byte, int(payloadLen)+checksumSize)
		if _, err := readFull(f, body); err != nil {
			break
		}
		payload := body[:payloadLen]
		wantChecksum := binary.LittleEndian.Uint32(body[payloadLen:])
		if checksumOf(payload) != wantChecksum {
			break
		}
		entry, err := DecodePayload(payload)
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("wal: short read")
		}
	}
	return total, nil
}

func buildRecord(payload []byte) []byte {
	record := make([]byte, lenPrefixSize+len(payload)+checksumSize)
	binary.LittleEndian.PutUint32(record[:lenPrefixSize], uint32(len(payload)))
	copy(record[lenPrefixSize:], payload)
	binary.LittleEndian.PutUint32(record[lenPrefixSize+len(payload):], checksumOf(payload))
	return record
}

func checksumOf(payload []byte) uint32 {
	h := xxhash.New32()
	h.Write(payload)
	return h.Sum32()
}
