package mtr

import "errors"

var (
	// ErrAlreadyClosed guards commit/abort being called twice, or a
	// record() call after either, per spec §4.6's "MTRs are short-lived,
	// single-threaded" contract.
	ErrAlreadyClosed = errors.New("mtr: mini-transaction already committed or aborted")
)
