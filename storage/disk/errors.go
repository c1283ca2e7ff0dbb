package disk

import "errors"

var (
	ErrFileNotFound = errors.New("disk: file not found")
	ErrIO           = errors.New("disk: i/o error")
	ErrBadPageSize  = errors.New("disk: page buffer must be exactly page.Size bytes")
)
