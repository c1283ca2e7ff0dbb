package lock

import "errors"

var (
	// ErrDeadlock is returned to the requester chosen as victim, whether the
	// cycle was found inline (on the blocking request itself) or by the
	// periodic wait-for graph sweep.
	ErrDeadlock = errors.New("lock: deadlock detected")

	// ErrLockTimeout is returned when a request waits longer than
	// Config.WaitTimeoutMS without being granted.
	ErrLockTimeout = errors.New("lock: wait timeout exceeded")
)
