package txn

import "errors"

var (
	// ErrInvalidState guards commit/rollback being called on a transaction
	// that isn't Active, mirroring the teacher's ErrInvalidTrxState.
	ErrInvalidState = errors.New("txn: transaction is not active")
)
