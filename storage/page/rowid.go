package page

// RowID identifies a row's physical location: a page and a slot number. It
// is stable for the lifetime of the row unless the row is relocated by
// Reorganize, in which case the slot number is unchanged and only its
// offset moves (spec §3).
type RowID struct {
	PageID uint32
	Slot   uint16
}
