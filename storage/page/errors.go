package page

import "errors"

// Sentinel errors, grouped per subsystem the way the teacher's
// server/innodb/manager/errors.go groups its ErrPage* / ErrSegment* blocks.
var (
	ErrNoSpace       = errors.New("page: not enough free space for row")
	ErrNotFound      = errors.New("page: slot not found or deleted")
	ErrRowTooLarge   = errors.New("page: row exceeds page capacity")
	ErrGrowInPlace   = errors.New("page: update_row_in_place requires len(new) <= len(old)")
	ErrChecksum      = errors.New("page: checksum mismatch")
	ErrBadPageBytes  = errors.New("page: malformed page image")
	ErrUnknownVType  = errors.New("page: unknown value type tag")
)
