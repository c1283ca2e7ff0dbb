package wal

import "errors"

var (
	// ErrCorruptRecord names a record whose checksum does not match. It is
	// not returned by ReadFrom, which treats the first corrupt record as
	// the end of the valid log rather than a hard error, per spec §4.4.
	ErrCorruptRecord = errors.New("wal: record checksum mismatch")

	// ErrTruncateActive names a segment still needed by an active
	// transaction. Truncate does not check for this and never returns it;
	// choosing a safe watermark is the caller's job.
	ErrTruncateActive = errors.New("wal: cannot truncate a segment still in use")
)
