package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExecutionRecord is the append-only log entry written once per terminal
// ExecutionAttempt. Corresponds to the execution_log table.
type ExecutionRecord struct {
	AttemptID     string // uuid, primary key
	OpportunityID string // deterministic opportunity hash
	Anchor        string // start mint
	RouteKey      string // "source:pool>source:pool"
	Route         string // human-readable route
	Hops          int
	Tokens        []string // distinct mints, sorted

	// Scores at approval time
	InputAmount       float64 // anchor units
	ExpectedOutput    float64
	ExpectedProfitPct float64
	Slippage          float64 // fraction
	Confidence        float64
	Risk              float64

	// Outcome
	State          AttemptState // confirmed | failed | expired
	Reason         string       // terminal reason, empty on confirmation
	Signature      string       // empty if never signed
	ComputeUnits   uint32
	PriorityFee    uint64 // micro-lamports per CU
	SubmitAttempts int
	FeeLamports    uint64
	RealizedPnL    decimal.Decimal // anchor units
	RealizedPnLUSD decimal.Decimal
	PnLKnown       bool

	// Timestamps (ms)
	DetectedAt  int64
	SubmittedAt int64 // 0 if never submitted
	FinishedAt  int64
}

// Reconciliation outcomes.
const (
	ReconcileLanded  = "landed"  // expired attempt later found confirmed
	ReconcileFailed  = "failed"  // expired attempt later found failed on chain
	ReconcileDropped = "dropped" // never landed within blockhash validity
)

// ReconciliationRecord records how an expired attempt was resolved.
type ReconciliationRecord struct {
	AttemptID      string
	Signature      string
	Outcome        string
	Slot           uint64
	FeeLamports    uint64
	RealizedPnL    decimal.Decimal // anchor units
	RealizedPnLUSD decimal.Decimal
	PnLKnown       bool
	ReconciledAt   int64 // ms
}

// OpportunityRecord is one scored opportunity of one tick, kept for analytics.
type OpportunityRecord struct {
	OpportunityID   string
	TickAt          int64 // ms
	SnapshotVersion uint64
	Anchor          string
	RouteKey        string
	Hops            int
	InputAmount     float64
	NetProfitPct    float64
	Slippage        float64
	TotalLiquidity  float64
	Confidence      float64
	Risk            float64
	Status          OpportunityStatus
	RejectReason    string
	Dispatched      bool
}

// NewExecutionRecord flattens a terminal attempt into its log record.
func NewExecutionRecord(a *ExecutionAttempt, pnlUSD decimal.Decimal) *ExecutionRecord {
	opp := a.Opportunity
	keys := opp.Route.PoolKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}

	r := &ExecutionRecord{
		AttemptID:         a.ID,
		OpportunityID:     opp.ID,
		Anchor:            opp.Anchor,
		RouteKey:          strings.Join(parts, ">"),
		Route:             opp.Route.String(),
		Hops:              opp.Route.Len(),
		Tokens:            opp.Route.Tokens(),
		InputAmount:       opp.InputAmount,
		ExpectedOutput:    opp.OutputAmount,
		ExpectedProfitPct: opp.NetProfitPct,
		Slippage:          opp.Slippage,
		Confidence:        opp.Confidence,
		Risk:              opp.Risk,
		State:             a.State,
		Reason:            a.Reason,
		Signature:         a.Signature,
		ComputeUnits:      a.ComputeUnits,
		PriorityFee:       a.PriorityFee,
		SubmitAttempts:    a.SubmitAttempts,
		RealizedPnL:       a.RealizedPnL,
		RealizedPnLUSD:    pnlUSD,
		PnLKnown:          a.PnLKnown,
		DetectedAt:        a.DetectedAt.UnixMilli(),
		FinishedAt:        a.FinishedAt.UnixMilli(),
	}
	if !a.SubmittedAt.IsZero() {
		r.SubmittedAt = a.SubmittedAt.UnixMilli()
	}
	if a.Confirmation != nil {
		r.FeeLamports = a.Confirmation.FeeLamports
	}
	return r
}
