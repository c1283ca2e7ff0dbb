package buffer

import "errors"

var (
	// ErrBufferPoolExhausted is returned by fetch/new_page when every frame
	// is pinned and eviction cannot free one, per spec §4.3.
	ErrBufferPoolExhausted = errors.New("buffer: pool exhausted, all frames pinned")

	// ErrPageCorrupted is returned by Fetch when a page image read from disk
	// cannot be parsed as a page (wrong size). Fetch does not verify the
	// page checksum, so a checksum mismatch is not reported. Never panicked.
	ErrPageCorrupted = errors.New("buffer: page checksum mismatch")

	// ErrNotPinned guards misuse of a guard after it has been unpinned.
	ErrNotPinned = errors.New("buffer: page not pinned")
)
