package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AttemptState is the lifecycle state of an execution attempt.
type AttemptState string

// Attempt states. Transitions only move forward.
const (
	StateDetected  AttemptState = "detected"
	StateSimulated AttemptState = "simulated"
	StateApproved  AttemptState = "approved"
	StateSigned    AttemptState = "signed"
	StateSubmitted AttemptState = "submitted"
	StateConfirmed AttemptState = "confirmed"
	StateFailed    AttemptState = "failed"
	StateExpired   AttemptState = "expired"
)

var transitions = map[AttemptState][]AttemptState{
	StateDetected:  {StateSimulated, StateFailed},
	StateSimulated: {StateApproved, StateFailed},
	StateApproved:  {StateSigned, StateFailed},
	StateSigned:    {StateSubmitted, StateFailed},
	StateSubmitted: {StateConfirmed, StateFailed, StateExpired},
}

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateExpired
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to AttemptState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateChange records when a state was entered.
type StateChange struct {
	State AttemptState
	At    time.Time
}

// SimulationResult is the outcome of a dry run.
type SimulationResult struct {
	UnitsConsumed uint64
	ExpectedOut   float64 // anchor units, re-quoted against current state
	NetProfit     float64 // after network fees, anchor units
	NetProfitPct  float64
	NetworkFee    float64 // anchor units
	Logs          []string
	Err           string // non-empty when the dry run reverted
}

// TxStatus is the status reported by the execution transport.
type TxStatus string

// Transport statuses.
const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxTimeout   TxStatus = "timeout"
	TxNotFound  TxStatus = "not_found"
)

// Confirmation is the transport's answer for a submitted transaction.
type Confirmation struct {
	Status      TxStatus
	Slot        uint64
	Err         string
	FeeLamports uint64
	ConfirmedAt time.Time

	// Deltas are the signer's token balance changes by mint in UI units,
	// nil when the on-chain effect could not be read.
	Deltas map[string]float64
}

// Effect returns the realized result of a route in anchor units: the
// balance changes of its start and end tokens summed at par.
func (c *Confirmation) Effect(r Route) (float64, bool) {
	if c == nil || c.Deltas == nil {
		return 0, false
	}
	start, end := r.StartToken(), r.EndToken()
	v := c.Deltas[start]
	if end != start {
		v += c.Deltas[end]
	}
	return v, true
}

// ExecutionAttempt tracks one opportunity through the execution pipeline.
type ExecutionAttempt struct {
	ID          string
	Opportunity Opportunity

	State   AttemptState
	History []StateChange

	Simulation   *SimulationResult
	ComputeUnits uint32 // compute unit limit attached to the transaction
	PriorityFee  uint64 // micro-lamports per compute unit
	Signature    string // signed transaction id
	Payload      []byte `json:"-"`

	SubmitAttempts int
	SubmittedAt    time.Time
	Confirmation   *Confirmation

	RealizedPnL decimal.Decimal // anchor units; zero until known
	PnLKnown    bool
	Reason      string // terminal reason
	DetectedAt  time.Time
	FinishedAt  time.Time
}

// NewAttempt creates an attempt in the Detected state.
func NewAttempt(id string, opp Opportunity, now time.Time) *ExecutionAttempt {
	return &ExecutionAttempt{
		ID:          id,
		Opportunity: opp,
		State:       StateDetected,
		History:     []StateChange{{State: StateDetected, At: now}},
		DetectedAt:  now,
	}
}

// Transition moves the attempt to the next state.
// Returns an error for illegal or repeated transitions.
func (a *ExecutionAttempt) Transition(to AttemptState, now time.Time) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for attempt %s", a.State, to, a.ID)
	}
	for _, h := range a.History {
		if h.State == to {
			return fmt.Errorf("state %s already entered for attempt %s", to, a.ID)
		}
	}
	a.State = to
	a.History = append(a.History, StateChange{State: to, At: now})
	if to.Terminal() {
		a.FinishedAt = now
	}
	return nil
}

// Reached reports whether the attempt ever entered the given state.
func (a *ExecutionAttempt) Reached(s AttemptState) bool {
	for _, h := range a.History {
		if h.State == s {
			return true
		}
	}
	return false
}
