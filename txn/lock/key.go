package lock

import "github.com/cyscaledb/cyscaledb/storage/page"

// Granularity is the level a lock is taken at, per spec §4.7: a
// transaction climbs the hierarchy with intention locks before taking a
// real S/X lock at the granularity it actually needs.
type Granularity int

const (
	GranDatabase Granularity = iota
	GranTable
	GranPage
	GranRow
)

// Key identifies the resource a point lock (S/X/IS/IX/SIX) protects. Gap
// locks are a distinct resource (a key range rather than a single row) and
// are tracked separately in gap.go.
type Key struct {
	Granularity Granularity
	Database    string
	Table       string
	PageID      uint32
	RowID       page.RowID
}

func DatabaseKey(db string) Key { return Key{Granularity: GranDatabase, Database: db} }

func TableKey(db, table string) Key {
	return Key{Granularity: GranTable, Database: db, Table: table}
}

func PageKey(db, table string, pageID uint32) Key {
	return Key{Granularity: GranPage, Database: db, Table: table, PageID: pageID}
}

func RowKey(db, table string, pageID uint32, rowID page.RowID) Key {
	return Key{Granularity: GranRow, Database: db, Table: table, PageID: pageID, RowID: rowID}
}
