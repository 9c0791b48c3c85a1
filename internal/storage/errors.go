// Package storage defines the persistence contracts of the engine: the
// append-only execution log and the per-tick opportunity analytics store.
// Backends live in the memory, postgres, sqlite and clickhouse subpackages.
package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist,
	// including a reconciliation for an attempt that was never logged.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same attempt id
	// already exists. The execution log never updates a record.
	ErrDuplicateKey = errors.New("duplicate key: execution log is append-only")

	// ErrInvalidInput is returned when a record is missing its key fields.
	ErrInvalidInput = errors.New("invalid input")
)
