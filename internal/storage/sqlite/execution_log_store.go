// Package sqlite is a single-file execution log for deployments without
// Postgres. Same semantics as the Postgres store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/storage"
	"solana-arb-engine/internal/storage/migrations"
)

// ExecutionLogStore implements storage.ExecutionLogStore on SQLite.
type ExecutionLogStore struct {
	db *sql.DB
}

var _ storage.ExecutionLogStore = (*ExecutionLogStore)(nil)

// Open opens (creating if needed) the database at path, enables WAL and
// applies the embedded migrations.
func Open(ctx context.Context, path string) (*ExecutionLogStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create execution log dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open execution log db: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &ExecutionLogStore{db: db}, nil
}

// Close closes the database.
func (s *ExecutionLogStore) Close() error {
	return s.db.Close()
}

const executionColumns = `
	attempt_id, opportunity_id, anchor, route_key, route, hops, tokens,
	input_amount, expected_output, expected_profit_pct, slippage, confidence, risk,
	state, reason, signature, compute_units, priority_fee, submit_attempts, fee_lamports,
	realized_pnl, realized_pnl_usd, pnl_known,
	detected_at, submitted_at, finished_at
`

// Append adds a terminal attempt record. Returns ErrDuplicateKey if attempt_id exists.
func (s *ExecutionLogStore) Append(ctx context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_log (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AttemptID, r.OpportunityID, r.Anchor, r.RouteKey, r.Route, r.Hops, strings.Join(r.Tokens, ","),
		r.InputAmount, r.ExpectedOutput, r.ExpectedProfitPct, r.Slippage, r.Confidence, r.Risk,
		string(r.State), r.Reason, r.Signature, int64(r.ComputeUnits), int64(r.PriorityFee), r.SubmitAttempts, int64(r.FeeLamports),
		r.RealizedPnL.String(), r.RealizedPnLUSD.String(), r.PnLKnown,
		r.DetectedAt, r.SubmittedAt, r.FinishedAt,
	)
	observability.RecordDBQuery("sqlite", "append_execution", time.Since(start).Seconds(), err)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateKey
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconciliation: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM execution_log WHERE attempt_id = ?`, r.AttemptID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_reconciliations (
			attempt_id, signature, outcome, slot, fee_lamports,
			realized_pnl, realized_pnl_usd, pnl_known, reconciled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AttemptID, r.Signature, r.Outcome, int64(r.Slot), int64(r.FeeLamports),
		r.RealizedPnL.String(), r.RealizedPnLUSD.String(), r.PnLKnown, r.ReconciledAt,
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return tx.Commit()
}

// GetByAttemptID retrieves a record by attempt id. Returns ErrNotFound if not exists.
func (s *ExecutionLogStore) GetByAttemptID(ctx context.Context, attemptID string) (*domain.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM execution_log WHERE attempt_id = ?`, attemptID)
	r, err := scanExecutionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution record: %w", err)
	}
	return r, nil
}

// GetByTimeRange retrieves records finished within [start, end], ordered by
// finished_at ASC, attempt_id ASC.
func (s *ExecutionLogStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+`
		FROM execution_log
		WHERE finished_at >= ? AND finished_at <= ?
		ORDER BY finished_at ASC, attempt_id ASC`, start, end)
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
	return records, rows.Err()
}

// GetReconciliations retrieves reconciliation records for an attempt.
func (s *ExecutionLogStore) GetReconciliations(ctx context.Context, attemptID string) ([]*domain.ReconciliationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_id, signature, outcome, slot, fee_lamports,
			realized_pnl, realized_pnl_usd, pnl_known, reconciled_at
		FROM execution_reconciliations
		WHERE attempt_id = ?
		ORDER BY reconciled_at ASC`, attemptID)
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
		if err := rows.Scan(&r.AttemptID, &r.Signature, &r.Outcome, &slot, &fee, &pnl, &pnlUSD, &r.PnLKnown, &r.ReconciledAt); err != nil {
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
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecutionRecord(row scanner) (*domain.ExecutionRecord, error) {
	var (
		r                         domain.ExecutionRecord
		tokens, state             string
		computeUnits, priorityFee int64
		feeLamports               int64
		pnl, pnlUSD               string
	)
	err := row.Scan(
		&r.AttemptID, &r.OpportunityID, &r.Anchor, &r.RouteKey, &r.Route, &r.Hops, &tokens,
		&r.InputAmount, &r.ExpectedOutput, &r.ExpectedProfitPct, &r.Slippage, &r.Confidence, &r.Risk,
		&state, &r.Reason, &r.Signature, &computeUnits, &priorityFee, &r.SubmitAttempts, &feeLamports,
		&pnl, &pnlUSD, &r.PnLKnown,
		&r.DetectedAt, &r.SubmittedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if tokens != "" {
		r.Tokens = strings.Split(tokens, ",")
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

func isConstraintError(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
