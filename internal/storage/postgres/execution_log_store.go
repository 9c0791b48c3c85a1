package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/storage"
)

// ExecutionLogStore implements storage.ExecutionLogStore using PostgreSQL.
type ExecutionLogStore struct {
	pool *Pool
}

// NewExecutionLogStore creates a new ExecutionLogStore.
func NewExecutionLogStore(pool *Pool) *ExecutionLogStore {
	return &ExecutionLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionLogStore = (*ExecutionLogStore)(nil)

const executionColumns = `
	attempt_id, opportunity_id, anchor, route_key, route, hops, tokens,
	input_amount, expected_output, expected_profit_pct, slippage, confidence, risk,
	state, reason, signature, compute_units, priority_fee, submit_attempts, fee_lamports,
	realized_pnl::text, realized_pnl_usd::text, pnl_known,
	detected_at, submitted_at, finished_at
`

// Append adds a terminal attempt record. Returns ErrDuplicateKey if attempt_id exists.
func (s *ExecutionLogStore) Append(ctx context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO execution_log (
			attempt_id, opportunity_id, anchor, route_key, route, hops, tokens,
			input_amount, expected_output, expected_profit_pct, slippage, confidence, risk,
			state, reason, signature, compute_units, priority_fee, submit_attempts, fee_lamports,
			realized_pnl, realized_pnl_usd, pnl_known,
			detected_at, submitted_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20,
			$21::numeric, $22::numeric, $23,
			$24, $25, $26
		)
	`

	tokens := r.Tokens
	if tokens == nil {
		tokens = []string{}
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		r.AttemptID,
		r.OpportunityID,
		r.Anchor,
		r.RouteKey,
		r.Route,
		r.Hops,
		tokens,
		r.InputAmount,
		r.ExpectedOutput,
		r.ExpectedProfitPct,
		r.Slippage,
		r.Confidence,
		r.Risk,
		string(r.State),
		r.Reason,
		r.Signature,
		int64(r.ComputeUnits),
		int64(r.PriorityFee),
		r.SubmitAttempts,
		int64(r.FeeLamports),
		r.RealizedPnL.String(),
		r.RealizedPnLUSD.String(),
		r.PnLKnown,
		r.DetectedAt,
		r.SubmittedAt,
		r.FinishedAt,
	)
	observability.RecordDBQuery("postgres", "append_execution", time.Since(start).Seconds(), err)
	if err != nil {
		if serr := classify(err); serr != nil {
			return serr
		}
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// AppendReconciliation records how an expired attempt resolved.
// Returns ErrNotFound for an unknown attempt and ErrDuplicateKey if already reconciled.
func (s *ExecutionLogStore) AppendReconciliation(ctx context.Context, r *domain.ReconciliationRecord) error {
	if r == nil || r.AttemptID == "" || r.Outcome == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO execution_reconciliations (
			attempt_id, signature, outcome, slot, fee_lamports,
			realized_pnl, realized_pnl_usd, pnl_known, reconciled_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		r.AttemptID,
		r.Signature,
		r.Outcome,
		int64(r.Slot),
		int64(r.FeeLamports),
		r.RealizedPnL.String(),
		r.RealizedPnLUSD.String(),
		r.PnLKnown,
		r.ReconciledAt,
	)
	observability.RecordDBQuery("postgres", "append_reconciliation", time.Since(start).Seconds(), err)
	if err != nil {
		if serr := classify(err); serr != nil {
			return serr
		}
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return nil
}

// GetByAttemptID retrieves a record by attempt id. Returns ErrNotFound if not exists.
func (s *ExecutionLogStore) GetByAttemptID(ctx context.Context, attemptID string) (*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM execution_log WHERE attempt_id = $1`

	r, err := scanExecutionRecord(s.pool.QueryRow(ctx, query, attemptID))
	if err != nil {
		if errors.Is(classify(err), storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution record: %w", err)
	}
	return r, nil
}

// GetByTimeRange retrieves records finished within [start, end] (inclusive).
func (s *ExecutionLogStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM execution_log
		WHERE finished_at >= $1 AND finished_at <= $2
		ORDER BY finished_at ASC, attempt_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get execution records by time range: %w", err)
	}
	defer rows.Close()

	var records []*domain.ExecutionRecord
	for rows.Next() {
		r, err := scanExecutionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return records, nil
}

// GetReconciliations retrieves reconciliation records for an attempt.
func (s *ExecutionLogStore) GetReconciliations(ctx context.Context, attemptID string) ([]*domain.ReconciliationRecord, error) {
	query := `
		SELECT attempt_id, signature, outcome, slot, fee_lamports,
			realized_pnl::text, realized_pnl_usd::text, pnl_known, reconciled_at
		FROM execution_reconciliations
		WHERE attempt_id = $1
		ORDER BY reconciled_at ASC
	`

	rows, err := s.pool.Query(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get reconciliations: %w", err)
	}
	defer rows.Close()

	var result []*domain.ReconciliationRecord
	for rows.Next() {
		var (
			r           domain.ReconciliationRecord
			slot, fee   int64
			pnl, pnlUSD string
		)
		if err := rows.Scan(
			&r.AttemptID,
			&r.Signature,
			&r.Outcome,
			&slot,
			&fee,
			&pnl,
			&pnlUSD,
			&r.PnLKnown,
			&r.ReconciledAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconciliation row: %w", err)
		}
		r.Slot = uint64(slot)
		r.FeeLamports = uint64(fee)
		if r.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse realized_pnl: %w", err)
		}
		if r.RealizedPnLUSD, err = decimal.NewFromString(pnlUSD); err != nil {
			return nil, fmt.Errorf("parse realized_pnl_usd: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliation rows: %w", err)
	}
	return result, nil
}

func scanExecutionRecord(row pgx.Row) (*domain.ExecutionRecord, error) {
	var (
		r                         domain.ExecutionRecord
		state                     string
		computeUnits, priorityFee int64
		feeLamports               int64
		pnl, pnlUSD               string
	)

	err := row.Scan(
		&r.AttemptID,
		&r.OpportunityID,
		&r.Anchor,
		&r.RouteKey,
		&r.Route,
		&r.Hops,
		&r.Tokens,
		&r.InputAmount,
		&r.ExpectedOutput,
		&r.ExpectedProfitPct,
		&r.Slippage,
		&r.Confidence,
		&r.Risk,
		&state,
		&r.Reason,
		&r.Signature,
		&computeUnits,
		&priorityFee,
		&r.SubmitAttempts,
		&feeLamports,
		&pnl,
		&pnlUSD,
		&r.PnLKnown,
		&r.DetectedAt,
		&r.SubmittedAt,
		&r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = domain.AttemptState(state)
	r.ComputeUnits = uint32(computeUnits)
	r.PriorityFee = uint64(priorityFee)
	r.FeeLamports = uint64(feeLamports)
	if r.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("parse realized_pnl: %w", err)
	}
	if r.RealizedPnLUSD, err = decimal.NewFromString(pnlUSD); err != nil {
		return nil, fmt.Errorf("parse realized_pnl_usd: %w", err)
	}
	return &r, nil
}
