package undo

import (
	"encoding/binary"
	"fmt"

	"github.com/cyscaledb/cyscaledb/storage/page"
)

// RecordType mirrors spec §3's undo record kinds.
type RecordType uint8

const (
	Insert RecordType = iota + 1
	Update
	Delete
)

// Record is one undo entry, per spec §3: "{type, txn_id, table_id, row_id,
// prev_undo_ptr, payload, redo_lsn}". Payload is the primary key for an
// Insert undo record, the pre-image row for Update/Delete.
type Record struct {
	Type        RecordType
	TxnID       uint64
	TableID     uint64
	RowID       page.RowID
	PrevUndoPtr int64 // -1 marks the head of a transaction's chain
	Payload     []byte
	RedoLSN     uint64
}

func (r *Record) encode() []byte {
	buf := make([]byte, 0, 40+len(r.Payload))
	var tmp [8]byte

	buf = append(buf, byte(r.Type))
	binary.LittleEndian.PutUint64(tmp[:], r.TxnID)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], r.TableID)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:4], r.RowID.PageID)
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint16(tmp[:2], r.RowID.Slot)
	buf = append(buf, tmp[:2]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.PrevUndoPtr))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], r.RedoLSN)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(r.Payload)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, r.Payload...)
	return buf
}

func decodeRecord(b []byte) (*Record, error) {
	const fixed = 1 + 8 + 8 + 4 + 2 + 8 + 8 + 4
	if len(b) < fixed {
		return nil, fmt.Errorf("undo: record payload too short: %d bytes", len(b))
	}
	r := &Record{}
	off := 0
	r.Type = RecordType(b[off])
	off++
	r.TxnID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	r.TableID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	r.RowID.PageID = binary.LittleEndian.Uint32(b[off:])
	off += 4
	r.RowID.Slot = binary.LittleEndian.Uint16(b[off:])
	off += 2
	r.PrevUndoPtr = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	r.RedoLSN = binary.LittleEndian.Uint64(b[off:])
	off += 8
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+n > len(b) {
		return nil, fmt.Errorf("undo: truncated payload of length %d", n)
	}
	r.Payload = append([]byte(nil), b[off:off+n]...)
	return r, nil
}
