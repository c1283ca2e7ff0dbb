package recovery

import "errors"

var (
	// ErrNoCheckpoint is returned by LoadCheckpoint when no checkpoint
	// file exists yet (a fresh database, or one that has never completed
	// a checkpoint cycle).
	ErrNoCheckpoint = errors.New("recovery: no checkpoint file present")

	// ErrBadCheckpoint marks a checkpoint.meta file that is truncated or
	// otherwise doesn't parse as the fixed layout spec §6 defines.
	ErrBadCheckpoint = errors.New("recovery: malformed checkpoint file")
)
