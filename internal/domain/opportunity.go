package domain

import "time"

// OpportunityStatus is the terminal classification of an opportunity.
type OpportunityStatus string

// Opportunity statuses.
const (
	OpportunityPending  OpportunityStatus = "pending"
	OpportunityAccepted OpportunityStatus = "accepted"
	OpportunityRejected OpportunityStatus = "rejected"
	OpportunityExpired  OpportunityStatus = "expired"
)

// Opportunity is a scored route produced for one detection pass.
type Opportunity struct {
	ID              string    // deterministic hash of snapshot version and route
	SnapshotVersion uint64    // snapshot the route was priced against
	SnapshotTakenAt time.Time // acquisition time of that snapshot
	CreatedAt       time.Time

	Route  Route
	Anchor string // mint the route starts from

	// Amounts in anchor units.
	InputAmount   float64
	OutputAmount  float64
	GrossProfit   float64 // output - input + venue fees
	EstimatedFees float64 // venue fee drag
	NetProfit     float64 // output - input
	NetProfitPct  float64 // NetProfit / InputAmount * 100

	Slippage          float64 // price impact vs. infinitesimal trade, fraction
	TotalLiquidityUSD float64 // sum of hop pool TVL
	MinLiquidityUSD   float64 // smallest hop pool TVL

	// Set by the scorer.
	Confidence   float64
	Risk         float64
	Status       OpportunityStatus
	RejectReason string
}

// Expired reports whether the snapshot behind the opportunity is older
// than the given bound.
func (o *Opportunity) Expired(now time.Time, bound time.Duration) bool {
	return bound > 0 && now.Sub(o.SnapshotTakenAt) > bound
}

// Terminal reports whether the opportunity has been classified.
func (o *Opportunity) Terminal() bool {
	return o.Status != "" && o.Status != OpportunityPending
}
