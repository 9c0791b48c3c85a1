package domain

import (
	"math"
	"time"
)

// PressureSide is the direction of the observed flow relative to a token.
type PressureSide string

// Pressure sides.
const (
	PressureBuy     PressureSide = "buy"     // flow acquires the token
	PressureSell    PressureSide = "sell"    // flow disposes of the token
	PressureUnknown PressureSide = "unknown" // direction could not be decoded
)

// PressureScope says whether a signal is keyed by token or by pool.
type PressureScope string

// Pressure scopes.
const (
	ScopeToken PressureScope = "token"
	ScopePool  PressureScope = "pool"
)

// PressureSignal is a decaying adjustment derived from large pending flow.
type PressureSignal struct {
	Scope     PressureScope
	Key       string // mint for token scope, pool id for pool scope
	Side      PressureSide
	Magnitude float64 // [0,1] at UpdatedAt
	UpdatedAt time.Time
}

// Decayed returns the magnitude at now given a half-life.
func (s PressureSignal) Decayed(now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return s.Magnitude
	}
	dt := now.Sub(s.UpdatedAt)
	if dt <= 0 {
		return s.Magnitude
	}
	return s.Magnitude * math.Pow(0.5, dt.Seconds()/halfLife.Seconds())
}

// PressureUpdate is produced by the event monitor for one qualifying event.
type PressureUpdate struct {
	Scope     PressureScope
	Key       string
	Side      PressureSide
	Magnitude float64
	Notional  float64 // SOL
	Signature string
	At        time.Time
}

// RawEvent is a decoded program-log or account-change event.
type RawEvent struct {
	Program   string   // program id the event belongs to
	Accounts  []string // affected accounts
	Amount    float64  // transferred amount in SOL
	Mint      string   // token mint, when known
	Side      PressureSide
	Signature string
	Slot      uint64
	Timestamp time.Time
}
