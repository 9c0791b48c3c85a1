package risk

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
)

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newBreaker(mutate func(*Config)) *CircuitBreaker {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewCircuitBreaker(cfg, zerolog.Nop())
}

func TestBreaker_ConsecutiveFailures(t *testing.T) {
	cb := newBreaker(func(c *Config) { c.MaxConsecutiveFailures = 3 })

	for i := 0; i < 2; i++ {
		cb.RecordFailure(t0)
	}
	require.NoError(t, cb.Approve(t0))

	cb.RecordFailure(t0)
	err := cb.Approve(t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRiskViolation))
	assert.True(t, errors.Is(err, domain.ErrCircuitBreakerTripped))
	assert.Contains(t, err.Error(), ReasonConsecutiveFailures)

	st := cb.Stats(t0)
	assert.True(t, st.Tripped)
	assert.Equal(t, 1, st.Trips)
	assert.Equal(t, 3, st.ConsecutiveFailures)
}

func TestBreaker_SuccessClearsStreak(t *testing.T) {
	cb := newBreaker(func(c *Config) { c.MaxConsecutiveFailures = 2 })

	cb.RecordFailure(t0)
	cb.RecordSuccess(decimal.NewFromInt(-5), t0)
	cb.RecordFailure(t0)

	assert.NoError(t, cb.Approve(t0))
	assert.Equal(t, 1, cb.Stats(t0).ConsecutiveFailures)
}

func TestBreaker_IdempotentUntilReset(t *testing.T) {
	cb := newBreaker(func(c *Config) {
		c.MaxConsecutiveFailures = 1
		c.ResetAfter = 0
	})
	cb.RecordFailure(t0)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Approve(t0.Add(time.Duration(i)*24*time.Hour)), domain.ErrRiskViolation)
	}
	assert.Equal(t, 1, cb.Stats(t0).Trips)

	cb.Reset()
	assert.NoError(t, cb.Approve(t0))
	assert.False(t, cb.Tripped(t0))
	assert.Zero(t, cb.Stats(t0).ConsecutiveFailures)
}

func TestBreaker_AutoResetAfterCooldown(t *testing.T) {
	cb := newBreaker(func(c *Config) {
		c.MaxConsecutiveFailures = 1
		c.ResetAfter = 15 * time.Minute
	})
	cb.RecordFailure(t0)

	assert.True(t, cb.Tripped(t0.Add(14*time.Minute)))
	assert.False(t, cb.Tripped(t0.Add(15*time.Minute)))
	assert.NoError(t, cb.Approve(t0.Add(15*time.Minute)))
}

func TestBreaker_TradesPerHour(t *testing.T) {
	cb := newBreaker(func(c *Config) {
		c.MaxTradesPerHour = 3
		c.ResetAfter = time.Minute
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Approve(t0))
		cb.RecordTrade(t0.Add(time.Duration(i) * time.Minute))
	}
	assert.ErrorIs(t, cb.Approve(t0.Add(3*time.Minute)), domain.ErrCircuitBreakerTripped)
	assert.Equal(t, ReasonTradesPerHour, cb.Stats(t0.Add(3*time.Minute)).Reason)

	// cooldown elapsed but the hour still holds three trades
	assert.Error(t, cb.Approve(t0.Add(10*time.Minute)))

	// all three trades have left the window
	later := t0.Add(time.Hour + 30*time.Minute)
	assert.NoError(t, cb.Approve(later))
	assert.Zero(t, cb.Stats(later).TradesLastHour)
}

func TestBreaker_DailyLoss(t *testing.T) {
	cb := newBreaker(func(c *Config) {
		c.DailyLossLimitUSD = decimal.NewFromInt(100)
		c.ResetAfter = time.Minute
	})

	cb.RecordSuccess(decimal.NewFromInt(30), t0)
	cb.RecordSuccess(decimal.NewFromInt(-90), t0)
	require.NoError(t, cb.Approve(t0))
	assert.True(t, decimal.NewFromInt(-60).Equal(cb.Stats(t0).DailyPnLUSD))

	cb.RecordPnL(decimal.NewFromInt(-40), t0)
	assert.ErrorIs(t, cb.Approve(t0), domain.ErrRiskViolation)
	assert.Equal(t, ReasonDailyLoss, cb.Stats(t0).Reason)

	// still over the limit after the cooldown, same day
	assert.Error(t, cb.Approve(t0.Add(2*time.Hour)))

	// next UTC day starts clean
	nextDay := time.Date(2024, 5, 11, 0, 30, 0, 0, time.UTC)
	assert.NoError(t, cb.Approve(nextDay))
	assert.True(t, cb.Stats(nextDay).DailyPnLUSD.IsZero())
}

func TestBreaker_ZeroConfigNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(Config{}, zerolog.Nop())
	for i := 0; i < 100; i++ {
		cb.RecordFailure(t0)
		cb.RecordTrade(t0)
		cb.RecordSuccess(decimal.NewFromInt(-1000), t0)
	}
	assert.NoError(t, cb.Approve(t0))
}

func TestBreaker_Concurrent(t *testing.T) {
	cb := newBreaker(func(c *Config) { c.MaxConsecutiveFailures = 50 })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cb.RecordFailure(t0)
				_ = cb.Approve(t0)
			}
		}()
	}
	wg.Wait()

	st := cb.Stats(t0)
	assert.True(t, st.Tripped)
	assert.Equal(t, 1, st.Trips)
}
