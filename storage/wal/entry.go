package wal

import (
	"encoding/binary"
	"fmt"
)

// EntryType enumerates the WAL record kinds named in spec §3/§4.4.
type EntryType uint8

const (
	Begin EntryType = iota + 1
	Commit
	Abort
	Insert
	Update
	Delete
	Checkpoint
)

func (t EntryType) String() string {
	switch t {
	case Begin:
		return "BEGIN"
	case Commit:
		return "COMMIT"
	case Abort:
		return "ABORT"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case Checkpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// flag bits for the optional-field presence byte that follows the fixed
// header in an encoded payload.
const (
	flagDBName = 1 << iota
	flagTableName
	flagPageSlot
	flagOldBytes
	flagNewBytes
	flagCheckpointTxns
)

// Entry is one WAL record, per spec §3: "{lsn, txn_id, type, timestamp,
// db_name?, table_name?, page_id?, slot?, old_bytes?, new_bytes?,
// checkpoint_active_txns?}".
type Entry struct {
	LSN       uint64
	TxnID     uint64
	Type      EntryType
	Timestamp int64 // unix nanoseconds

	DBName    string
	TableName string

	HasPageSlot bool
	PageID      uint32
	Slot        uint16

	OldBytes []byte
	NewBytes []byte

	CheckpointActiveTxns []uint64
}

// EncodePayload serializes e into the WAL record payload, which "begins
// with LSN" per spec §4.4.
func (e *Entry) EncodePayload() []byte {
	flags := byte(0)
	if e.DBName != "" {
		flags |= flagDBName
	}
	if e.TableName != "" {
		flags |= flagTableName
	}
	if e.HasPageSlot {
		flags |= flagPageSlot
	}
	if e.OldBytes != nil {
		flags |= flagOldBytes
	}
	if e.NewBytes != nil {
		flags |= flagNewBytes
	}
	if len(e.CheckpointActiveTxns) > 0 {
		flags |= flagCheckpointTxns
	}

	buf := make([]byte, 0, 64)
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:8], e.LSN)
	buf = append(buf, tmp[:8]...)
	binary.LittleEndian.PutUint64(tmp[:8], e.TxnID)
	buf = append(buf, tmp[:8]...)
	buf = append(buf, byte(e.Type))
	binary.LittleEndian.PutUint64(tmp[:8], uint64(e.Timestamp))
	buf = append(buf, tmp[:8]...)
	buf = append(buf, flags)

	if flags&flagDBName != 0 {
		buf = appendLenPrefixedString(buf, e.DBName)
	}
	if flags&flagTableName != 0 {
		buf = appendLenPrefixedString(buf, e.TableName)
	}
	if flags&flagPageSlot != 0 {
		binary.LittleEndian.PutUint32(tmp[:4], e.PageID)
		buf = append(buf, tmp[:4]...)
		binary.LittleEndian.PutUint16(tmp[:2], e.Slot)
		buf = append(buf, tmp[:2]...)
	}
	if flags&flagOldBytes != 0 {
		buf = appendLenPrefixedBytes(buf, e.OldBytes)
	}
	if flags&flagNewBytes != 0 {
		buf = appendLenPrefixedBytes(buf, e.NewBytes)
	}
	if flags&flagCheckpointTxns != 0 {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.CheckpointActiveTxns)))
		buf = append(buf, tmp[:4]...)
		for _, id := range e.CheckpointActiveTxns {
			binary.LittleEndian.PutUint64(tmp[:8], id)
			buf = append(buf, tmp[:8]...)
		}
	}
	return buf
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(b []byte) (*Entry, error) {
	if len(b) < 8+8+1+8+1 {
		return nil, fmt.Errorf("wal: payload too short: %d bytes", len(b))
	}
	e := &Entry{}
	off := 0
	e.LSN = binary.LittleEndian.Uint64(b[off:])
	off += 8
	e.TxnID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	e.Type = EntryType(b[off])
	off++
	e.Timestamp = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	flags := b[off]
	off++

	var err error
	if flags&flagDBName != 0 {
		e.DBName, off, err = readLenPrefixedString(b, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagTableName != 0 {
		e.TableName, off, err = readLenPrefixedString(b, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagPageSlot != 0 {
		if off+6 > len(b) {
			return nil, fmt.Errorf("wal: truncated page/slot field")
		}
		e.HasPageSlot = true
		e.PageID = binary.LittleEndian.Uint32(b[off:])
		off += 4
		e.Slot = binary.LittleEndian.Uint16(b[off:])
		off += 2
	}
	if flags&flagOldBytes != 0 {
		e.OldBytes, off, err = readLenPrefixedBytes(b, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagNewBytes != 0 {
		e.NewBytes, off, err = readLenPrefixedBytes(b, off)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagCheckpointTxns != 0 {
		if off+4 > len(b) {
			return nil, fmt.Errorf("wal: truncated checkpoint txn count")
		}
		n := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if off+n*8 > len(b) {
			return nil, fmt.Errorf("wal: truncated checkpoint txn list")
		}
		e.CheckpointActiveTxns = make([]uint64, n)
		for i := 0; i < n; i++ {
			e.CheckpointActiveTxns[i] = binary.LittleEndian.Uint64(b[off:])
			off += 8
		}
	}
	return e, nil
}

func appendLenPrefixedString(buf []byte, s string) []byte {
	return appendLenPrefixedBytes(buf, []byte(s))
}

func appendLenPrefixedBytes(buf []byte, b []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b)))
	buf = append(buf, tmp[:]...)
	return append(buf, b...)
}

func readLenPrefixedString(b []byte, off int) (string, int, error) {
	raw, next, err := readLenPrefixedBytes(b, off)
	if err != nil {
		return "", off, err
	}
	return string(raw), next, nil
}

func readLenPrefixedBytes(b []byte, off int) ([]byte, int, error) {
	if off+4 > len(b) {
		return nil, off, fmt.Errorf("wal: truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if n < 0 || off+n > len(b) {
		return nil, off, fmt.Errorf("wal: truncated field of length %d", n)
	}
	return b[off : off+n], off + n, nil
}
