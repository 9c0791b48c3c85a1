package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/storage"
)

// OpportunityStore implements storage.OpportunityStore using ClickHouse.
type OpportunityStore struct {
	conn *Conn
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(conn *Conn) *OpportunityStore {
	return &OpportunityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OpportunityStore = (*OpportunityStore)(nil)

// InsertBatch adds the scored opportunities of one tick in a single batch.
// Rows are analytics; no uniqueness is enforced.
func (s *OpportunityStore) InsertBatch(ctx context.Context, records []*domain.OpportunityRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.OpportunityID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO opportunities (
			opportunity_id, tick_at, snapshot_version, anchor, route_key, hops,
			input_amount, net_profit_pct, slippage, total_liquidity, confidence, risk,
			status, reject_reason, dispatched
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		var dispatched uint8
		if r.Dispatched {
			dispatched = 1
		}
		err = batch.Append(
			r.OpportunityID, r.TickAt, r.SnapshotVersion, r.Anchor, r.RouteKey, uint8(r.Hops),
			r.InputAmount, r.NetProfitPct, r.Slippage, r.TotalLiquidity, r.Confidence, r.Risk,
			string(r.Status), r.RejectReason, dispatched,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_opportunities", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves records with tick_at within [start, end] (inclusive),
// ordered by tick_at ASC, net_profit_pct DESC.
func (s *OpportunityStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.OpportunityRecord, error) {
	query := `
		SELECT
			opportunity_id, tick_at, snapshot_version, anchor, route_key, hops,
			input_amount, net_profit_pct, slippage, total_liquidity, confidence, risk,
			status, reject_reason, dispatched
		FROM opportunities
		WHERE tick_at >= ? AND tick_at <= ?
		ORDER BY tick_at ASC, net_profit_pct DESC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var result []*domain.OpportunityRecord
	for rows.Next() {
		var (
			r          domain.OpportunityRecord
			hops       uint8
			status     string
			dispatched uint8
		)
		if err := rows.Scan(
			&r.OpportunityID, &r.TickAt, &r.SnapshotVersion, &r.Anchor, &r.RouteKey, &hops,
			&r.InputAmount, &r.NetProfitPct, &r.Slippage, &r.TotalLiquidity, &r.Confidence, &r.Risk,
			&status, &r.RejectReason, &dispatched,
		); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		r.Hops = int(hops)
		r.Status = domain.OpportunityStatus(status)
		r.Dispatched = dispatched == 1
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opportunities: %w", err)
	}
	return result, nil
}
