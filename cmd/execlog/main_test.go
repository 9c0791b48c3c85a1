package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/storage/memory"
)

func record(id string, state domain.AttemptState, finished int64) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		AttemptID:         id,
		OpportunityID:     "opp-" + id,
		Anchor:            domain.MintSOL,
		Route:             "SOL>USDC>SOL",
		Hops:              2,
		ExpectedProfitPct: 1,
		State:             state,
		FinishedAt:        finished,
	}
}

func TestSummarize(t *testing.T) {
	confirmed := record("a", domain.StateConfirmed, 1)
	confirmed.PnLKnown = true
	confirmed.RealizedPnLUSD = decimal.NewFromInt(12)
	confirmed.FeeLamports = 5000

	unknown := record("b", domain.StateConfirmed, 2)

	failed1 := record("c", domain.StateFailed, 3)
	failed1.Reason = "simulation failed"
	failed2 := record("d", domain.StateFailed, 4)
	failed2.Reason = "simulation failed"
	failed3 := record("e", domain.StateFailed, 5)
	failed3.Reason = "slippage exceeded"

	landed := record("f", domain.StateExpired, 6)
	dropped := record("g", domain.StateExpired, 7)
	pending := record("h", domain.StateExpired, 8)

	recs := map[string]*domain.ReconciliationRecord{
		"f": {AttemptID: "f", Outcome: domain.ReconcileLanded, PnLKnown: true, RealizedPnLUSD: decimal.NewFromInt(-2), FeeLamports: 5000},
		"g": {AttemptID: "g", Outcome: domain.ReconcileDropped},
	}

	s := summarize([]*domain.ExecutionRecord{confirmed, unknown, failed1, failed2, failed3, landed, dropped, pending}, recs, 1)

	assert.Equal(t, 8, s.Attempts)
	assert.Equal(t, 2, s.ByState[domain.StateConfirmed])
	assert.Equal(t, 3, s.ByState[domain.StateFailed])
	assert.Equal(t, 3, s.ByState[domain.StateExpired])
	assert.Equal(t, 1, s.ByReconcile[domain.ReconcileLanded])
	assert.Equal(t, 1, s.ByReconcile[domain.ReconcileDropped])
	assert.Equal(t, 1, s.Unreconciled)
	assert.Equal(t, uint64(10000), s.FeeLamports)
	assert.True(t, s.RealizedPnLUSD.Equal(decimal.NewFromInt(10)), s.RealizedPnLUSD.String())
	assert.Equal(t, 1, s.PnLUnknown)
	assert.InDelta(t, 1.0, s.AvgExpectedPct, 1e-9)
	assert.InDelta(t, 3.0/8.0, s.SuccessRate(), 1e-9)
	require.Len(t, s.TopFailReasons, 1)
	assert.Equal(t, ReasonCount{Reason: "simulation failed", Count: 2}, s.TopFailReasons[0])
}

func TestSummarize_Empty(t *testing.T) {
	s := summarize(nil, nil, 5)
	assert.Zero(t, s.Attempts)
	assert.Zero(t, s.SuccessRate())
	assert.True(t, s.RealizedPnLUSD.IsZero())
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	start, end, err := parseRange("list", nil, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), start)
	assert.Equal(t, now, end)

	start, end, err = parseRange("list", []string{"-from", "2025-03-01", "-to", "2025-03-02"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 2, 23, 59, 59, 999_000_000, time.UTC), end)

	start, _, err = parseRange("list", []string{"-from", "2025-03-01T10:00:00+02:00"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), start)

	_, _, err = parseRange("list", []string{"-from", "yesterday"}, now)
	assert.Error(t, err)

	_, _, err = parseRange("list", []string{"-from", "2025-03-05", "-to", "2025-03-01"}, now)
	assert.Error(t, err)
}

func TestRunList(t *testing.T) {
	ctx := context.Background()
	store := memory.NewExecutionLogStore()

	now := time.Now().UTC()
	ok := record("attempt-ok", domain.StateConfirmed, now.Add(-time.Hour).UnixMilli())
	ok.PnLKnown = true
	ok.RealizedPnLUSD = decimal.RequireFromString("3.456")
	require.NoError(t, store.Append(ctx, ok))

	exp := record("attempt-exp", domain.StateExpired, now.Add(-30*time.Minute).UnixMilli())
	require.NoError(t, store.Append(ctx, exp))
	require.NoError(t, store.AppendReconciliation(ctx, &domain.ReconciliationRecord{
		AttemptID: "attempt-exp",
		Outcome:   domain.ReconcileDropped,
	}))

	var out bytes.Buffer
	require.NoError(t, runList(ctx, store, nil, &out))

	text := out.String()
	assert.Contains(t, text, "attempt-ok")
	assert.Contains(t, text, "3.46")
	assert.Contains(t, text, "expired/dropped")
}

func TestRunSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewExecutionLogStore()

	r := record("attempt-1", domain.StateConfirmed, time.Now().Add(-time.Minute).UnixMilli())
	r.PnLKnown = true
	r.RealizedPnLUSD = decimal.NewFromInt(4)
	require.NoError(t, store.Append(ctx, r))

	var out bytes.Buffer
	require.NoError(t, runSummary(ctx, store, nil, &out))
	assert.Contains(t, out.String(), "attempts:       1")
	assert.Contains(t, out.String(), "realized pnl:   4.00 USD")
	assert.Contains(t, out.String(), "success rate:   100.0%")
}
