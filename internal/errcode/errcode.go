// Package errcode maps the kernel's internal error taxonomy (spec §7) onto
// MySQL-compatible error numbers and SQLSTATEs, the way the teacher's
// server/common package carried the vitess-derived ER_* constant table for
// the protocol layer to serialize into ERR packets. This package never
// builds a wire packet itself — that stays with the (external) protocol
// layer — it only supplies the numbers that layer needs.
package errcode

import "fmt"

// Error is a kernel error annotated with the MySQL error number and
// SQLSTATE the protocol layer should report for it.
type Error struct {
	Code     uint16
	SQLState string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (errno %d, sqlstate %s)", e.Err.Error(), e.Code, e.SQLState)
}

func (e *Error) Unwrap() error { return e.Err }

// Known MySQL-compatible error numbers used by this kernel (subset of
// include/mysql/mysqld_error.h relevant to the storage layer; the protocol
// layer owns the rest).
const (
	ErLockDeadlock       uint16 = 1213
	ErLockWaitTimeout    uint16 = 1205
	ErDupEntry           uint16 = 1062
	ErNoSuchTable        uint16 = 1146
	ErDBDropExists       uint16 = 1008
	ErTableExists        uint16 = 1050
	ErBadNullError       uint16 = 1048
	ErWrongTypeForVar    uint16 = 1231
	ErCheckNotImplem     uint16 = 1178
	ErXtraMasterDelay    uint16 = 1773 // placeholder band for engine-internal faults
	ErDiskFull           uint16 = 1021
	ErFileNotFound       uint16 = 1017
	ErGetErrno           uint16 = 1030 // generic storage engine error
	ErLockOrActiveTx     uint16 = 1192
	ErTrxNotStarted      uint16 = 1195
	ErXaRollback         uint16 = 1402
	ErOutOfResources     uint16 = 1041
	ErUnknownStorageErr  uint16 = 1296
	ErConstraintFailed   uint16 = 3819
)

// Wrap annotates err with a MySQL error number and SQLSTATE. Call it once,
// at the boundary where a kernel error is about to cross into a result the
// protocol layer will see; internal call chains keep using sentinel errors
// and errors.Is.
func Wrap(err error, code uint16, sqlState string) *Error {
	return &Error{Code: code, SQLState: sqlState, Err: err}
}

// Table of the mappings spec §7 names explicitly.
var (
	Deadlock       = func(err error) *Error { return Wrap(err, ErLockDeadlock, "40001") }
	LockTimeout    = func(err error) *Error { return Wrap(err, ErLockWaitTimeout, "HY000") }
	DuplicateKey   = func(err error) *Error { return Wrap(err, ErDupEntry, "23000") }
	TableNotFound  = func(err error) *Error { return Wrap(err, ErNoSuchTable, "42S02") }
	DiskFull       = func(err error) *Error { return Wrap(err, ErDiskFull, "HY000") }
	NullConstraint = func(err error) *Error { return Wrap(err, ErBadNullError, "23000") }
	NotStarted     = func(err error) *Error { return Wrap(err, ErTrxNotStarted, "25000") }
	IOError        = func(err error) *Error { return Wrap(err, ErGetErrno, "HY000") }
	PageCorrupted  = func(err error) *Error { return Wrap(err, ErUnknownStorageErr, "HY000") }
)
