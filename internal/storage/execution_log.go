package storage

import (
	"context"

	"solana-arb-engine/internal/domain"
)

// ExecutionLogStore provides access to the append-only execution log.
type ExecutionLogStore interface {
	// Append adds the record of a terminal attempt. Returns ErrDuplicateKey
	// if attempt_id exists, which keeps the log exactly-once per attempt.
	Append(ctx context.Context, r *domain.ExecutionRecord) error

	// AppendReconciliation adds the resolution of an expired attempt.
	// Returns ErrDuplicateKey if the attempt was already reconciled.
	AppendReconciliation(ctx context.Context, r *domain.ReconciliationRecord) error

	// GetByAttemptID retrieves a record by attempt id. Returns ErrNotFound if not exists.
	GetByAttemptID(ctx context.Context, attemptID string) (*domain.ExecutionRecord, error)

	// GetByTimeRange retrieves records finished within [start, end] (ms, inclusive),
	// ordered by finished_at ASC, attempt_id ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ExecutionRecord, error)

	// GetReconciliations retrieves reconciliation records for an attempt.
	GetReconciliations(ctx context.Context, attemptID string) ([]*domain.ReconciliationRecord, error)
}

// OpportunityStore provides access to per-tick opportunity analytics.
type OpportunityStore interface {
	// InsertBatch adds the scored opportunities of one tick.
	InsertBatch(ctx context.Context, records []*domain.OpportunityRecord) error

	// GetByTimeRange retrieves records with tick_at within [start, end] (ms, inclusive),
	// ordered by tick_at ASC, net_profit_pct DESC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.OpportunityRecord, error)
}
