// Package mtr implements the mini-transaction (spec §4.6, C6): a
// short-lived, single-threaded grouping of page mutations that must reach
// the WAL atomically and, on abort, leave every touched page exactly as
// it was found. Grounded on the naming and log-item vocabulary of the
// teacher's server/innodb/storage/store/logs.redo_log_type.go
// (MTR_MEMO_*/MLOG_* constants — the InnoDB mini-transaction memo that
// tracks latched pages and their pre-commit log items) but built from
// scratch: the teacher defines those constants and never wires a type
// that uses them, so there is no existing MTR implementation to adapt.
package mtr

import (
	"fmt"

	"github.com/cyscaledb/cyscaledb/storage/buffer"
	"github.com/cyscaledb/cyscaledb/storage/page"
	"github.com/cyscaledb/cyscaledb/storage/wal"
)

type pendingOp struct {
	key       buffer.PageKey
	kind      wal.EntryType
	dbName    string
	tableName string
	slot      uint16
	hasSlot   bool
	oldBytes  []byte
	newBytes  []byte
}

type touchedPage struct {
	guard    *buffer.PinGuard
	preImage [page.Size]byte
}

// MTR is a single mini-transaction. Create one with Begin, call Record
// for each page mutation, and finish with exactly one of Commit or Abort.
type MTR struct {
	walw  *wal.Writer
	txnID uint64

	touched    map[buffer.PageKey]*touchedPage
	touchOrder []buffer.PageKey
	ops        []pendingOp

	closed bool
}

// Begin starts a new mini-transaction for txnID, whose redo records will
// be appended to walw at Commit.
func Begin(walw *wal.Writer, txnID uint64) *MTR {
	return &MTR{
		walw:    walw,
		txnID:   txnID,
		touched: make(map[buffer.PageKey]*touchedPage),
	}
}

// Record captures the pre-image of guard's page on its first touch within
// this MTR and buffers a redo entry describing the mutation, per spec
// §4.6. oldBytes/newBytes are the logical before/after images carried in
// the eventual WAL record (e.g. the row's prior and new encoded bytes),
// independent of the whole-page pre-image kept for abort.
func (m *MTR) Record(guard *buffer.PinGuard, kind wal.EntryType, dbName, tableName string, slot uint16, hasSlot bool, oldBytes, newBytes []byte) error {
	if m.closed {
		return ErrAlreadyClosed
	}
	key := guard.Key()
	if _, ok := m.touched[key]; !ok {
		tp := &touchedPage{guard: guard}
		copy(tp.preImage[:], guard.Page().Bytes())
		m.touched[key] = tp
		m.touchOrder = append(m.touchOrder, key)
	}

	m.ops = append(m.ops, pendingOp{
		key:       key,
		kind:      kind,
		dbName:    dbName,
		tableName: tableName,
		slot:      slot,
		hasSlot:   hasSlot,
		oldBytes:  oldBytes,
		newBytes:  newBytes,
	})
	return nil
}

// Commit writes every buffered redo record to the WAL as one contiguous
// batch, stamps every touched page's page_lsn with the batch's last LSN,
// marks each touched page dirty, and — if the caller requests durability
// (e.g. this MTR backs a transaction commit) — flushes the WAL through
// that LSN before returning.
func (m *MTR) Commit(flushForDurability bool) error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	if len(m.ops) == 0 {
		return nil
	}

	entries := make([]*wal.Entry, len(m.ops))
	for i, op := range m.ops {
		e := &wal.Entry{
			TxnID:     m.txnID,
			Type:      op.kind,
			DBName:    op.dbName,
			TableName: op.tableName,
			OldBytes:  op.oldBytes,
			NewBytes:  op.newBytes,
		}
		if op.hasSlot {
			e.HasPageSlot = true
			e.PageID = op.key.PageID
			e.Slot = op.slot
		}
		entries[i] = e
	}

	lsns, err := m.walw.AppendBatch(entries)
	if err != nil {
		return fmt.Errorf("mtr: committing txn %d: %w", m.txnID, err)
	}
	lastLSN := lsns[len(lsns)-1]

	for _, key := range m.touchOrder {
		tp := m.touched[key]
		tp.guard.Page().SetLSN(lastLSN)
		tp.guard.MarkDirty()
	}

	if flushForDurability {
		if err := m.walw.FlushUpTo(lastLSN); err != nil {
			return fmt.Errorf("mtr: flushing txn %d commit: %w", m.txnID, err)
		}
	}
	return nil
}

// Abort restores every touched page from its captured pre-image. No WAL
// record is emitted, per spec §4.6.
func (m *MTR) Abort() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	for _, key := range m.touchOrder {
		tp := m.touched[key]
		tp.guard.Page().RestoreFrom(tp.preImage[:])
	}
	return nil
}
