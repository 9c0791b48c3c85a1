package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipeline.
var (
	// ErrData marks stale or missing venue state. Recoverable; the pool
	// is excluded from the snapshot.
	ErrData = errors.New("data error")

	// ErrStaleUpdate is returned when an upsert is not newer than the
	// stored state.
	ErrStaleUpdate = fmt.Errorf("%w: update is not newer than stored state", ErrData)

	// ErrDecode marks a malformed raw event. Dropped and counted.
	ErrDecode = errors.New("decode error")

	// ErrSimulation marks a dry run that reverted, ran out of compute
	// or lost profitability. The opportunity is discarded.
	ErrSimulation = errors.New("simulation failure")

	// ErrSubmission marks a transport-level send failure.
	ErrSubmission = errors.New("submission error")

	// ErrConfirmationTimeout marks a submitted transaction whose fate is
	// unknown. Requires reconciliation.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrRiskViolation marks an opportunity rejected before execution.
	ErrRiskViolation = errors.New("risk violation")

	// ErrCircuitBreakerTripped is returned while new approvals are blocked.
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")

	// ErrResourceBusy is returned when an overlapping attempt is in flight.
	ErrResourceBusy = errors.New("resource busy")
)
