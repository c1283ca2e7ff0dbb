package engine

import "errors"

var (
	// ErrTableExists is returned by CreateTable for a (db, name) pair
	// already registered.
	ErrTableExists = errors.New("engine: table already exists")

	// ErrTableNotFound is returned when a Table lookup or a Session
	// operation references an unregistered table.
	ErrTableNotFound = errors.New("engine: table not found")

	// ErrNoTransaction is returned by Session operations that require an
	// active transaction (InsertRow, UpdateRow, DeleteRow, Commit,
	// Rollback) called before Begin or after Commit/Rollback.
	ErrNoTransaction = errors.New("engine: session has no active transaction")

	// ErrTransactionInProgress is returned by Begin when the session
	// already has an active transaction.
	ErrTransactionInProgress = errors.New("engine: session already has an active transaction")

	// ErrNotImplemented marks the SQL front-end seam: Execute exists only
	// as the §6 contract boundary, never a parser/planner.
	ErrNotImplemented = errors.New("engine: SQL execution is outside this module's scope")
)
