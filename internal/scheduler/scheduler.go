// Package scheduler drives detection on a periodic tick.
// Each tick: reconcile expired attempts → snapshot → detect → score → dispatch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/execution"
	"solana-arb-engine/internal/idhash"
	"solana-arb-engine/internal/monitor"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/scoring"
	"solana-arb-engine/internal/storage"
)

// ReasonOverlap marks an accepted cycle that lost to a higher-ranked cycle
// sharing a pool or token within the same tick.
const ReasonOverlap = "overlapping_cycle"

// Snapshotter provides the immutable market view for one tick.
type Snapshotter interface {
	Snapshot(now time.Time) *domain.GraphSnapshot
}

// Detector finds ranked opportunities in a snapshot.
type Detector interface {
	Detect(snap *domain.GraphSnapshot) []domain.Opportunity
}

// Executor runs accepted opportunities.
type Executor interface {
	Dispatch(ctx context.Context, opp domain.Opportunity) (string, error)
	InFlight() int
	InCooldown(keys []domain.PoolKey, now time.Time) bool
	Reconcile(ctx context.Context) int
}

// Breaker reports whether new approvals are blocked.
type Breaker interface {
	Tripped(now time.Time) bool
}

// PressureSource yields the pressure view scored against.
type PressureSource interface {
	View(now time.Time) monitor.PressureView
}

// Config for the tick loop.
type Config struct {
	TickInterval    time.Duration
	MaxTickFailures int  // consecutive failures that stop Run, 0 = never
	ExecuteTrades   bool // false logs accepted opportunities without dispatching
	Thresholds      scoring.Thresholds
}

// DefaultConfig returns the stock tick settings in dry-run mode.
func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		MaxTickFailures: 10,
		Thresholds:      scoring.DefaultThresholds(),
	}
}

// Options for creating a Scheduler.
type Options struct {
	Market   Snapshotter
	Engine   Detector
	Executor Executor       // required when ExecuteTrades is set
	Breaker  Breaker        // optional
	Pressure PressureSource // optional

	// Opportunities receives one record per scored opportunity per tick (optional).
	Opportunities storage.OpportunityStore

	Config Config
	Logger zerolog.Logger
	Now    func() time.Time
}

// TickResult summarizes one tick.
type TickResult struct {
	SnapshotVersion uint64
	Pools           int
	Detected        int
	Accepted        int
	Rejected        int
	Overlapping     int
	Deferred        int
	Dispatched      int
	Reconciled      int
}

// Scheduler owns the tick loop.
type Scheduler struct {
	market   Snapshotter
	engine   Detector
	exec     Executor
	breaker  Breaker
	pressure PressureSource
	opps     storage.OpportunityStore

	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
	backoff func(failures int) time.Duration
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Market == nil || opts.Engine == nil {
		return nil, errors.New("scheduler: market and engine are required")
	}
	if opts.Config.ExecuteTrades && opts.Executor == nil {
		return nil, errors.New("scheduler: executor is required when trades are executed")
	}
	if opts.Config.TickInterval <= 0 {
		return nil, fmt.Errorf("scheduler: tick interval must be positive, got %s", opts.Config.TickInterval)
	}
	s := &Scheduler{
		market:   opts.Market,
		engine:   opts.Engine,
		exec:     opts.Executor,
		breaker:  opts.Breaker,
		pressure: opts.Pressure,
		opps:     opts.Opportunities,
		cfg:      opts.Config,
		log:      opts.Logger.With().Str("component", "scheduler").Logger(),
		now:      opts.Now,
		backoff:  failureBackoff,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// failureBackoff waits 2^min(n,6) seconds after the n-th consecutive failure.
func failureBackoff(n int) time.Duration {
	return time.Duration(1<<min(n, 6)) * time.Second
}

// Run ticks until ctx ends or MaxTickFailures consecutive ticks fail.
// Returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.cfg.TickInterval).
		Bool("execute_trades", s.cfg.ExecuteTrades).
		Msg("scheduler started")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	failures := 0
	for {
		_, err := s.Tick(ctx)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return nil
		default:
			failures++
			s.log.Error().Err(err).Int("consecutive_failures", failures).Msg("tick failed")
			if s.cfg.MaxTickFailures > 0 && failures >= s.cfg.MaxTickFailures {
				return fmt.Errorf("scheduler: %d consecutive tick failures: %w", failures, err)
			}
			if !sleep(ctx, s.backoff(failures)) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Tick runs one detection pass. All opportunities of the tick are scored
// against the same snapshot and pressure view. Only persistence failures
// fail the tick.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	var res TickResult

	if s.exec != nil {
		res.Reconciled = s.exec.Reconcile(ctx)
	}

	now := s.now()
	snap := s.market.Snapshot(now)
	res.SnapshotVersion = snap.Version
	res.Pools = len(snap.Pools)

	detectStart := time.Now()
	found := s.engine.Detect(snap)
	observability.RecordDetection(time.Since(detectStart), len(found))
	res.Detected = len(found)

	var pressure scoring.Pressure
	if s.pressure != nil {
		pressure = s.pressure.View(now)
	}
	open := 0
	if s.exec != nil {
		open = s.exec.InFlight()
	}
	tripped := s.breaker != nil && s.breaker.Tripped(now)

	claimed := make(map[string]struct{})
	records := make([]*domain.OpportunityRecord, 0, len(found))

	for _, opp := range found {
		d := scoring.Score(opp, pressure, scoring.Context{OpenExecutions: open, BreakerTripped: tripped}, s.cfg.Thresholds)
		rec := newRecord(d.Opportunity, now)
		records = append(records, rec)

		if !d.Accepted {
			res.Rejected++
			observability.RecordScore(string(domain.OpportunityRejected), d.Reason)
			if d.HighConfidence(s.cfg.Thresholds) {
				s.logRejected(d.Opportunity, d)
			}
			continue
		}

		resources := opp.Route.Resources()
		if overlapsAny(resources, claimed) {
			res.Overlapping++
			rec.Status = domain.OpportunityRejected
			rec.RejectReason = ReasonOverlap
			observability.RecordScore(string(domain.OpportunityRejected), ReasonOverlap)
			s.log.Debug().Str("opportunity", opp.ID).Str("route", opp.Route.String()).Msg("lower-ranked overlapping cycle rejected")
			continue
		}
		for _, r := range resources {
			claimed[r] = struct{}{}
		}
		res.Accepted++
		observability.RecordScore(string(domain.OpportunityAccepted), "")

		if s.exec != nil && s.exec.InCooldown(opp.Route.PoolKeys(), now) {
			res.Deferred++
			rec.RejectReason = "cooldown"
			observability.RecordDeferred("cooldown")
			continue
		}

		if !s.cfg.ExecuteTrades {
			s.log.Info().
				Str("opportunity", opp.ID).
				Str("route", opp.Route.String()).
				Float64("input", opp.InputAmount).
				Float64("net_profit_pct", opp.NetProfitPct).
				Float64("confidence", d.Confidence).
				Float64("risk", d.Risk).
				Msg("opportunity accepted, trading disabled")
			continue
		}

		id, err := s.exec.Dispatch(ctx, d.Opportunity)
		if err != nil {
			res.Deferred++
			rec.RejectReason = "deferred"
			if !errors.Is(err, domain.ErrResourceBusy) && !errors.Is(err, execution.ErrCooldown) {
				s.log.Error().Err(err).Str("opportunity", opp.ID).Msg("dispatch failed")
			}
			continue
		}
		res.Dispatched++
		rec.Dispatched = true
		open++
		s.log.Debug().Str("opportunity", opp.ID).Str("attempt", id).Msg("opportunity dispatched")
	}

	var err error
	if s.opps != nil && len(records) > 0 {
		if ierr := s.opps.InsertBatch(ctx, records); ierr != nil {
			err = fmt.Errorf("persist opportunities: %w", ierr)
		}
	}
	observability.RecordTick(time.Since(start), err)

	if res.Detected > 0 || res.Reconciled > 0 {
		s.log.Debug().
			Uint64("snapshot", res.SnapshotVersion).
			Int("pools", res.Pools).
			Int("detected", res.Detected).
			Int("accepted", res.Accepted).
			Int("rejected", res.Rejected).
			Int("overlapping", res.Overlapping).
			Int("deferred", res.Deferred).
			Int("dispatched", res.Dispatched).
			Int("reconciled", res.Reconciled).
			Msg("tick")
	}
	return res, err
}

func (s *Scheduler) logRejected(opp domain.Opportunity, d scoring.Decision) {
	s.log.Info().
		Str("opportunity", opp.ID).
		Str("route", opp.Route.String()).
		Str("reason", d.Reason).
		Float64("net_profit_pct", opp.NetProfitPct).
		Float64("slippage", opp.Slippage).
		Float64("liquidity_usd", opp.TotalLiquidityUSD).
		Float64("confidence", d.Confidence).
		Float64("risk", d.Risk).
		Float64("adverse_pressure", d.Adverse).
		Msg("high-confidence opportunity rejected")
}

func overlapsAny(resources []string, claimed map[string]struct{}) bool {
	for _, r := range resources {
		if _, ok := claimed[r]; ok {
			return true
		}
	}
	return false
}

func newRecord(opp domain.Opportunity, now time.Time) *domain.OpportunityRecord {
	return &domain.OpportunityRecord{
		OpportunityID:   opp.ID,
		TickAt:          now.UnixMilli(),
		SnapshotVersion: opp.SnapshotVersion,
		Anchor:          opp.Anchor,
		RouteKey:        idhash.RouteKey(opp.Route.PoolKeys()),
		Hops:            opp.Route.Len(),
		InputAmount:     opp.InputAmount,
		NetProfitPct:    opp.NetProfitPct,
		Slippage:        opp.Slippage,
		TotalLiquidity:  opp.TotalLiquidityUSD,
		Confidence:      opp.Confidence,
		Risk:            opp.Risk,
		Status:          opp.Status,
		RejectReason:    opp.RejectReason,
	}
}
