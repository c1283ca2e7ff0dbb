package undo

import "errors"

var (
	ErrNotFound     = errors.New("undo: record not found at pointer")
	ErrBadHeader    = errors.New("undo: bad or missing file header")
	ErrCorruptEntry = errors.New("undo: checksum mismatch reading record")
)
