package engine

import (
	"fmt"

	"github.com/cyscaledb/cyscaledb/storage/buffer"
	"github.com/cyscaledb/cyscaledb/storage/disk"
	"github.com/cyscaledb/cyscaledb/storage/mtr"
	"github.com/cyscaledb/cyscaledb/storage/page"
	"github.com/cyscaledb/cyscaledb/storage/undo"
	"github.com/cyscaledb/cyscaledb/storage/wal"
	"github.com/cyscaledb/cyscaledb/txn"
	"github.com/cyscaledb/cyscaledb/txn/lock"
)

// Session is one client connection's view of the engine: at most one
// active transaction at a time, per spec §6's begin/commit/rollback/
// insert_row/update_row/delete_row/scan/get/execute contract. The
// protocol/session-authentication layer that owns the TCP connection this
// maps to is out of scope (§1); this type is the seam it would call into.
type Session struct {
	eng *Engine
	txn *txn.Transaction
}

// NewSession opens a session against eng. A session has no active
// transaction until Begin is called.
func NewSession(eng *Engine) *Session {
	return &Session{eng: eng}
}

// Begin starts a new transaction at the given isolation level.
func (s *Session) Begin(level txn.IsolationLevel, readOnly bool) error {
	if s.txn != nil {
		return ErrTransactionInProgress
	}
	t, err := s.eng.Txns.Begin(level, readOnly)
	if err != nil {
		return err
	}
	s.txn = t
	return nil
}

// Commit commits the session's active transaction.
func (s *Session) Commit() error {
	if s.txn == nil {
		return ErrNoTransaction
	}
	err := s.eng.Txns.Commit(s.txn)
	s.txn = nil
	return err
}

// Rollback aborts the session's active transaction, reversing every undo
// record in its chain back onto the live pages.
func (s *Session) Rollback() error {
	if s.txn == nil {
		return ErrNoTransaction
	}
	err := s.eng.Txns.Rollback(s.txn, s.reverse)
	s.txn = nil
	return err
}

// reverse is the txn.ReverseFunc this session's rollback uses: it decodes
// the versioned row the undo record carried and restores it (or deletes
// the slot, for an Insert's undo record) directly on the live page.
func (s *Session) reverse(rec *undo.Record) error {
	space := s.tableSpaceByID(rec.TableID)
	g, err := s.eng.pool.Fetch(space, rec.RowID.PageID)
	if err != nil {
		return err
	}
	defer g.Unpin()

	switch rec.Type {
	case undo.Insert:
		return g.Page().DeleteRow(rec.RowID.Slot)
	case undo.Update, undo.Delete:
		// Restores the prior version regardless of what the forward op
		// left the slot in: a tombstone (Delete, length 0) or a shrunk
		// payload (Update) both fail UpdateRowInPlace's grow-in-place
		// guard, which is right for forward writes but wrong for undo.
		return g.Page().RestoreRow(rec.RowID.Slot, rec.Payload)
	}
	return nil
}

func (s *Session) tableSpaceByID(id uint64) string {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	for _, t := range s.eng.tables {
		if t.ID == id {
			return t.space
		}
	}
	return ""
}

func (s *Session) requireTxn() (*txn.Transaction, error) {
	if s.txn == nil {
		return nil, ErrNoTransaction
	}
	return s.txn, nil
}

// InsertRow appends a new row version to table's heap (allocating a fresh
// page if the current one is full) and returns its RowID, per spec §6's
// write protocol: acquire table IX / row X locks, write undo before the
// physical mutation, then redo via the mini-transaction.
func (s *Session) InsertRow(t *Table, payload []byte) (page.RowID, error) {
	txnObj, err := s.requireTxn()
	if err != nil {
		return page.RowID{}, err
	}

	if err := s.eng.Locks.Acquire(txnObj.ID, lock.TableKey(t.DB, t.Name), lock.IX); err != nil {
		return page.RowID{}, fmt.Errorf("engine: insert into %s.%s: %w", t.DB, t.Name, err)
	}

	versioned := encodeVersion(txnObj.ID, -1, payload)

	t.heapLock()
	defer t.heapUnlock()

	guard, err := s.pageForInsertLocked(t, len(versioned))
	if err != nil {
		return page.RowID{}, err
	}
	defer guard.Unpin()

	// The slot InsertRow will assign is deterministic here: heapLock
	// serializes every inserter choosing a target page, and the pin held
	// on guard prevents eviction, so nothing else can grow this page's
	// slot directory between this read and the InsertRow call below. That
	// lets the row lock be acquired before the mutation, per spec §6.
	slot := guard.Page().SlotCount()
	rowID := page.RowID{PageID: guard.Key().PageID, Slot: slot}
	rowKey := lock.RowKey(t.DB, t.Name, rowID.PageID, rowID)
	if err := s.eng.Locks.Acquire(txnObj.ID, rowKey, lock.X); err != nil {
		return page.RowID{}, fmt.Errorf("engine: insert into %s.%s: %w", t.DB, t.Name, err)
	}

	undoPtr, err := s.eng.undo.Write(&undo.Record{
		Type:        undo.Insert,
		TxnID:       txnObj.ID,
		TableID:     t.ID,
		RowID:       rowID,
		PrevUndoPtr: txnObj.LastUndoPtr,
	})
	if err != nil {
		return page.RowID{}, fmt.Errorf("engine: insert into %s.%s: writing undo: %w", t.DB, t.Name, err)
	}

	m := mtr.Begin(s.eng.walw, txnObj.ID)
	if err := m.Record(guard, wal.Insert, t.DB, t.Name, slot, true, nil, versioned); err != nil {
		return page.RowID{}, fmt.Errorf("engine: insert into %s.%s: %w", t.DB, t.Name, err)
	}
	gotSlot, err := guard.Page().InsertRow(versioned)
	if err != nil {
		return page.RowID{}, fmt.Errorf("engine: insert into %s.%s: %w", t.DB, t.Name, err)
	}
	if err := m.Commit(false); err != nil {
		return page.RowID{}, fmt.Errorf("engine: insert into %s.%s: %w", t.DB, t.Name, err)
	}
	txnObj.LastUndoPtr = undoPtr

	return rowID, nil
}

// pageForInsertLocked must be called with t's heap lock held. It returns a
// pinned page with enough free space for size more bytes, allocating a
// fresh page if the current head is full or none exists yet.
func (s *Session) pageForInsertLocked(t *Table, size int) (*buffer.PinGuard, error) {
	if t.hasHead {
		guard, err := s.eng.pool.Fetch(t.space, t.headPageID)
		if err != nil {
			return nil, err
		}
		if guard.Page().FreeSpace() >= size+page.SlotSize {
			return guard, nil
		}
		guard.Unpin()
	}

	id, guard, err := s.eng.pool.NewPage(t.space)
	if err != nil {
		return nil, err
	}
	t.headPageID = id
	t.hasHead = true
	return guard, nil
}

// UpdateRow replaces a row's payload in place when the new payload is no
// longer than the old one; otherwise it deletes the old slot and inserts
// the new payload on the table's current head page, returning the new
// RowID and moved=true (spec §4.1: growth requires delete+insert, since
// storage/page.UpdateRowInPlace never grows a slot).
func (s *Session) UpdateRow(t *Table, rowID page.RowID, payload []byte) (newRowID page.RowID, moved bool, err error) {
	txnObj, err := s.requireTxn()
	if err != nil {
		return page.RowID{}, false, err
	}

	if err := s.eng.Locks.Acquire(txnObj.ID, lock.TableKey(t.DB, t.Name), lock.IX); err != nil {
		return page.RowID{}, false, err
	}
	rowKey := lock.RowKey(t.DB, t.Name, rowID.PageID, rowID)
	if err := s.eng.Locks.Acquire(txnObj.ID, rowKey, lock.X); err != nil {
		return page.RowID{}, false, err
	}

	guard, err := s.eng.pool.Fetch(t.space, rowID.PageID)
	if err != nil {
		return page.RowID{}, false, err
	}
	defer guard.Unpin()

	oldVersioned, err := guard.Page().ReadRow(rowID.Slot)
	if err != nil {
		return page.RowID{}, false, err
	}

	undoPtr, err := s.eng.undo.Write(&undo.Record{
		Type:        undo.Update,
		TxnID:       txnObj.ID,
		TableID:     t.ID,
		RowID:       rowID,
		PrevUndoPtr: txnObj.LastUndoPtr,
		Payload:     oldVersioned,
	})
	if err != nil {
		return page.RowID{}, false, fmt.Errorf("engine: update %s.%s: writing undo: %w", t.DB, t.Name, err)
	}

	newVersioned := encodeVersion(txnObj.ID, undoPtr, payload)

	m := mtr.Begin(s.eng.walw, txnObj.ID)
	if err := m.Record(guard, wal.Update, t.DB, t.Name, rowID.Slot, true, oldVersioned, newVersioned); err != nil {
		return page.RowID{}, false, err
	}
	if err := guard.Page().UpdateRowInPlace(rowID.Slot, newVersioned); err == nil {
		if err := m.Commit(false); err != nil {
			return page.RowID{}, false, err
		}
		txnObj.LastUndoPtr = undoPtr
		return rowID, false, nil
	}

	// Row grew: abort this MTR's in-place attempt (no-op since nothing
	// mutated yet), delete the old slot, and insert fresh.
	if err := m.Abort(); err != nil {
		return page.RowID{}, false, err
	}
	m2 := mtr.Begin(s.eng.walw, txnObj.ID)
	if err := m2.Record(guard, wal.Delete, t.DB, t.Name, rowID.Slot, true, oldVersioned, nil); err != nil {
		return page.RowID{}, false, err
	}
	if err := guard.Page().DeleteRow(rowID.Slot); err != nil {
		return page.RowID{}, false, err
	}
	if err := m2.Commit(false); err != nil {
		return page.RowID{}, false, err
	}
	txnObj.LastUndoPtr = undoPtr

	newID, err := s.InsertRow(t, payload)
	if err != nil {
		return page.RowID{}, false, err
	}
	return newID, true, nil
}

// DeleteRow tombstones rowID's slot after writing its pre-image to the
// undo log.
func (s *Session) DeleteRow(t *Table, rowID page.RowID) error {
	txnObj, err := s.requireTxn()
	if err != nil {
		return err
	}

	if err := s.eng.Locks.Acquire(txnObj.ID, lock.TableKey(t.DB, t.Name), lock.IX); err != nil {
		return err
	}
	rowKey := lock.RowKey(t.DB, t.Name, rowID.PageID, rowID)
	if err := s.eng.Locks.Acquire(txnObj.ID, rowKey, lock.X); err != nil {
		return err
	}

	guard, err := s.eng.pool.Fetch(t.space, rowID.PageID)
	if err != nil {
		return err
	}
	defer guard.Unpin()

	oldVersioned, err := guard.Page().ReadRow(rowID.Slot)
	if err != nil {
		return err
	}

	undoPtr, err := s.eng.undo.Write(&undo.Record{
		Type:        undo.Delete,
		TxnID:       txnObj.ID,
		TableID:     t.ID,
		RowID:       rowID,
		PrevUndoPtr: txnObj.LastUndoPtr,
		Payload:     oldVersioned,
	})
	if err != nil {
		return fmt.Errorf("engine: delete from %s.%s: writing undo: %w", t.DB, t.Name, err)
	}

	m := mtr.Begin(s.eng.walw, txnObj.ID)
	if err := m.Record(guard, wal.Delete, t.DB, t.Name, rowID.Slot, true, oldVersioned, nil); err != nil {
		return err
	}
	if err := guard.Page().DeleteRow(rowID.Slot); err != nil {
		return err
	}
	if err := m.Commit(false); err != nil {
		return err
	}
	txnObj.LastUndoPtr = undoPtr
	return nil
}

// Get returns the version of rowID visible to view (nil for READ
// UNCOMMITTED-equivalent latest-value reads), walking the undo chain per
// spec §4.8's "storage layer, given a row and a ReadView, walks the undo
// chain until the visible version."
func (s *Session) Get(t *Table, rowID page.RowID, view *txn.ReadView) ([]byte, bool, error) {
	guard, err := s.eng.pool.Fetch(t.space, rowID.PageID)
	if err != nil {
		return nil, false, err
	}
	defer guard.Unpin()

	raw, err := guard.Page().ReadRow(rowID.Slot)
	if err != nil {
		return nil, false, nil
	}
	creator, rollPtr, payload, err := decodeVersion(raw)
	if err != nil {
		return nil, false, err
	}
	if view == nil || view.Visible(creator) {
		return payload, true, nil
	}
	return s.walkUndoChain(rollPtr, view)
}

func (s *Session) walkUndoChain(ptr int64, view *txn.ReadView) ([]byte, bool, error) {
	for ptr >= 0 {
		rec, err := s.eng.undo.Read(ptr)
		if err != nil {
			return nil, false, err
		}
		if rec.Type == undo.Insert {
			// No earlier version: the row did not exist before this
			// insert, which the caller already determined isn't visible.
			return nil, false, nil
		}
		creator, rollPtr, payload, err := decodeVersion(rec.Payload)
		if err != nil {
			return nil, false, err
		}
		if view.Visible(creator) {
			return payload, true, nil
		}
		ptr = rollPtr
	}
	return nil, false, nil
}

// Row pairs a RowID with its visible payload, returned by Scan.
type Row struct {
	ID      page.RowID
	Payload []byte
}

// Scan walks every page of t's heap, returning every row version visible
// to view. Index-driven access is out of scope (no index module exists in
// this kernel, per §1); this is a full heap scan.
func (s *Session) Scan(t *Table, view *txn.ReadView) ([]Row, error) {
	f, err := s.eng.disk.Open(t.space, disk.SyncNone)
	if err != nil {
		return nil, err
	}
	count, err := f.PageCount()
	if err != nil {
		return nil, err
	}

	var out []Row
	for pageID := uint32(0); pageID < count; pageID++ {
		guard, err := s.eng.pool.Fetch(t.space, pageID)
		if err != nil {
			return nil, err
		}
		slots := guard.Page().SlotCount()
		for slot := uint16(0); slot < slots; slot++ {
			rowID := page.RowID{PageID: pageID, Slot: slot}
			raw, err := guard.Page().ReadRow(slot)
			if err != nil {
				continue
			}
			creator, rollPtr, payload, err := decodeVersion(raw)
			if err != nil {
				guard.Unpin()
				return nil, err
			}
			if view == nil || view.Visible(creator) {
				out = append(out, Row{ID: rowID, Payload: payload})
				continue
			}
			visPayload, ok, err := s.walkUndoChain(rollPtr, view)
			if err != nil {
				guard.Unpin()
				return nil, err
			}
			if ok {
				out = append(out, Row{ID: rowID, Payload: visPayload})
			}
		}
		guard.Unpin()
	}
	return out, nil
}

// Execute is the §6 SQL front-end seam. This module never parses or plans
// SQL; a real front-end would call into Session's row operations.
func (s *Session) Execute(sql string) (interface{}, error) {
	return nil, ErrNotImplemented
}
