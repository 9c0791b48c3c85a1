package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
)

// Trip reasons.
const (
	ReasonConsecutiveFailures = "max consecutive failures"
	ReasonTradesPerHour       = "max trades per hour"
	ReasonDailyLoss           = "daily loss limit"
)

// Config holds the breaker thresholds. Zero disables a threshold.
type Config struct {
	MaxConsecutiveFailures int
	MaxTradesPerHour       int
	DailyLossLimitUSD      decimal.Decimal
	ResetAfter             time.Duration // automatic reset after a trip, 0 = manual only
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		MaxTradesPerHour:       60,
		DailyLossLimitUSD:      decimal.NewFromInt(1500),
		ResetAfter:             15 * time.Minute,
	}
}

// Stats is a point-in-time view of the breaker counters.
type Stats struct {
	Tripped             bool
	Reason              string
	TrippedAt           time.Time
	ConsecutiveFailures int
	TradesLastHour      int
	DailyPnLUSD         decimal.Decimal
	Trips               int
}

// CircuitBreaker is the single global gate consulted before an attempt is
// approved. Existing attempts are not affected by a trip; they still report
// their outcome through RecordFailure and RecordSuccess.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg Config
	log zerolog.Logger

	consecutiveFailures int
	trades              []time.Time // approvals inside the rolling hour, oldest first
	dailyPnL            decimal.Decimal
	day                 string

	tripped   bool
	trippedAt time.Time
	reason    string
	trips     int
}

// NewCircuitBreaker creates a breaker.
func NewCircuitBreaker(cfg Config, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg: cfg,
		log: log.With().Str("component", "circuit_breaker").Logger(),
	}
}

// Approve returns nil when a new attempt may move to Approved. Otherwise the
// error matches both ErrRiskViolation and ErrCircuitBreakerTripped.
func (cb *CircuitBreaker) Approve(now time.Time) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	if !cb.tripped {
		cb.evaluate(now)
	}
	if cb.tripped {
		return fmt.Errorf("%w: %w: %s", domain.ErrRiskViolation, domain.ErrCircuitBreakerTripped, cb.reason)
	}
	return nil
}

// Tripped reports whether approvals are currently blocked.
func (cb *CircuitBreaker) Tripped(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	return cb.tripped
}

// RecordTrade counts an approved attempt toward the hourly limit.
func (cb *CircuitBreaker) RecordTrade(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	cb.trades = append(cb.trades, now)
	cb.evaluate(now)
}

// RecordFailure counts a failed or expired attempt.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	cb.consecutiveFailures++
	cb.evaluate(now)
}

// RecordSuccess records a confirmed attempt and its realized P&L in USD.
// A losing confirmed trade still clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess(pnlUSD decimal.Decimal, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	cb.consecutiveFailures = 0
	cb.dailyPnL = cb.dailyPnL.Add(pnlUSD)
	cb.evaluate(now)
}

// RecordPnL adjusts the daily P&L without touching the failure streak.
// Used when reconciliation learns the outcome of an expired attempt.
func (cb *CircuitBreaker) RecordPnL(pnlUSD decimal.Decimal, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	cb.dailyPnL = cb.dailyPnL.Add(pnlUSD)
	cb.evaluate(now)
}

// Reset manually clears the trip and every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTripped := cb.tripped
	cb.clear()
	cb.trades = nil
	cb.dailyPnL = decimal.Zero
	observability.SetBreakerTripped(false)
	cb.log.Info().Bool("was_tripped", wasTripped).Msg("circuit breaker manually reset")
}

// Stats returns the current counters.
func (cb *CircuitBreaker) Stats(now time.Time) Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(now)
	return Stats{
		Tripped:             cb.tripped,
		Reason:              cb.reason,
		TrippedAt:           cb.trippedAt,
		ConsecutiveFailures: cb.consecutiveFailures,
		TradesLastHour:      len(cb.trades),
		DailyPnLUSD:         cb.dailyPnL,
		Trips:               cb.trips,
	}
}

// advance rolls the day window, slides the hourly window and applies the
// automatic reset. Callers hold mu.
func (cb *CircuitBreaker) advance(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if cb.day != day {
		cb.day = day
		cb.dailyPnL = decimal.Zero
	}

	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(cb.trades) && !cb.trades[i].After(cutoff) {
		i++
	}
	cb.trades = cb.trades[i:]

	if cb.tripped && cb.cfg.ResetAfter > 0 && now.Sub(cb.trippedAt) >= cb.cfg.ResetAfter {
		cb.log.Info().Str("reason", cb.reason).Dur("after", cb.cfg.ResetAfter).Msg("circuit breaker reset after cooldown")
		cb.clear()
		observability.SetBreakerTripped(false)
	}
}

// evaluate trips the breaker when a threshold is reached. Callers hold mu.
func (cb *CircuitBreaker) evaluate(now time.Time) {
	if cb.tripped {
		return
	}
	switch {
	case cb.cfg.MaxConsecutiveFailures > 0 && cb.consecutiveFailures >= cb.cfg.MaxConsecutiveFailures:
		cb.trip(ReasonConsecutiveFailures, now)
	case cb.cfg.MaxTradesPerHour > 0 && len(cb.trades) >= cb.cfg.MaxTradesPerHour:
		cb.trip(ReasonTradesPerHour, now)
	case cb.cfg.DailyLossLimitUSD.IsPositive() && cb.dailyPnL.Neg().GreaterThanOrEqual(cb.cfg.DailyLossLimitUSD):
		cb.trip(ReasonDailyLoss, now)
	}
}

func (cb *CircuitBreaker) trip(reason string, now time.Time) {
	cb.tripped = true
	cb.trippedAt = now
	cb.reason = reason
	cb.trips++
	observability.SetBreakerTripped(true)
	observability.RecordBreakerTrip(reason)
	cb.log.Warn().
		Str("reason", reason).
		Int("consecutive_failures", cb.consecutiveFailures).
		Int("trades_last_hour", len(cb.trades)).
		Str("daily_pnl_usd", cb.dailyPnL.StringFixed(2)).
		Dur("reset_after", cb.cfg.ResetAfter).
		Msg("circuit breaker tripped")
}

func (cb *CircuitBreaker) clear() {
	cb.tripped = false
	cb.trippedAt = time.Time{}
	cb.reason = ""
	cb.consecutiveFailures = 0
}
