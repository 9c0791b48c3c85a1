// Package execution drives accepted opportunities through the attempt state
// machine: Detected, Simulated, Approved, Signed, Submitted, then Confirmed,
// Failed or Expired. States only move forward and every terminal attempt is
// appended to the execution log exactly once.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/monitor"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/scoring"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/storage"
	"solana-arb-engine/internal/venue"
)

// Simulator dry-runs a serialized transaction.
type Simulator interface {
	Simulate(ctx context.Context, tx []byte) (*domain.SimulationResult, error)
}

// Transport submits signed payloads and reports their fate.
type Transport interface {
	LatestBlockhash(ctx context.Context) (string, error)
	Send(ctx context.Context, payload []byte) (string, error)
	Confirm(ctx context.Context, sig string, timeout time.Duration) (*domain.Confirmation, error)
	Lookup(ctx context.Context, sig string) (*domain.Confirmation, error)
}

// FeeOracle reports network congestion as a multiple of the base fee.
type FeeOracle interface {
	Congestion(ctx context.Context, accounts []string) (float64, error)
}

// Gate is the global circuit breaker consulted before approval.
type Gate interface {
	Approve(now time.Time) error
	RecordTrade(now time.Time)
	RecordFailure(now time.Time)
	RecordSuccess(pnlUSD decimal.Decimal, now time.Time)
	RecordPnL(pnlUSD decimal.Decimal, now time.Time)
}

// Quoter reprices an opportunity against the latest market state.
type Quoter interface {
	Requote(opp domain.Opportunity, now time.Time) (domain.Opportunity, error)
}

// PressureSource yields the current pressure view for re-scoring.
type PressureSource interface {
	View(now time.Time) monitor.PressureView
}

// Prices resolves token metadata for USD valuation.
type Prices interface {
	Lookup(mint string) (domain.Token, bool)
}

// Locker optionally extends the in-process resource guard across processes.
// Acquire returns domain.ErrResourceBusy when any key is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (func(), error)
}

// Config holds the pipeline limits.
type Config struct {
	ConfirmTimeout     time.Duration
	MaxSubmitRetries   int
	SubmitBackoff      time.Duration
	MaxSubmitBackoff   time.Duration
	PoolCooldown       time.Duration
	BasePriorityFee    uint64  // micro-lamports per CU
	MaxFeeMultiplier   float64 // cap on congestion scaling
	ComputeUnitCap     uint32
	ComputeUnitMargin  float64 // applied to simulated units
	BlockhashValidity  time.Duration
	AllowedPrograms    []string
	MaxInstructions    int
	MaxInstructionData int
	MaxOpportunityAge  time.Duration // snapshot age beyond which approval is refused, 0 = unbounded
}

// DefaultConfig returns the stock pipeline limits.
func DefaultConfig() Config {
	return Config{
		ConfirmTimeout:     60 * time.Second,
		MaxSubmitRetries:   3,
		SubmitBackoff:      500 * time.Millisecond,
		MaxSubmitBackoff:   5 * time.Second,
		PoolCooldown:       5 * time.Second,
		BasePriorityFee:    1000,
		MaxFeeMultiplier:   10,
		ComputeUnitCap:     solana.MaxComputeUnits,
		ComputeUnitMargin:  1.2,
		BlockhashValidity:  90 * time.Second,
		AllowedPrograms:    []string{venue.OrcaWhirlpool, venue.RaydiumAMMV4, venue.Phoenix},
		MaxInstructions:    10,
		MaxInstructionData: 1024,
		MaxOpportunityAge:  10 * time.Second,
	}
}

// Options for creating a Pipeline.
type Options struct {
	// Chain collaborators
	Simulator Simulator
	Transport Transport
	Fees      FeeOracle
	Builder   venue.InstructionBuilder
	Signer    *solana.Keypair

	// Decision inputs
	Gate       Gate
	Quoter     Quoter
	Pressure   PressureSource // optional, nil is neutral
	Prices     Prices
	Thresholds scoring.Thresholds

	// Persistence
	ExecutionLog storage.ExecutionLogStore

	// Optional cross-process lock
	Locker Locker

	Config Config
	Logger zerolog.Logger

	// Test hooks
	Now   func() time.Time
	NewID func() string
}

// pending is an expired attempt awaiting reconciliation. Its resources stay
// held until it resolves or the blockhash can no longer land.
type pending struct {
	attempt  *domain.ExecutionAttempt
	deadline time.Time
	unlock   func()
}

// Pipeline executes opportunities.
type Pipeline struct {
	sim       Simulator
	transport Transport
	fees      FeeOracle
	builder   venue.InstructionBuilder
	signer    *solana.Keypair

	gate     Gate
	quoter   Quoter
	pressure PressureSource
	prices   Prices
	th       scoring.Thresholds

	execLog storage.ExecutionLogStore
	locker  Locker

	cfg     Config
	allowed map[solana.PublicKey]struct{}
	guard   *guard
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string

	wg      sync.WaitGroup
	mu      sync.Mutex
	backlog []*pending
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Simulator == nil || opts.Transport == nil || opts.Builder == nil || opts.Signer == nil {
		return nil, errors.New("execution: simulator, transport, builder and signer are required")
	}
	if opts.Gate == nil || opts.Quoter == nil || opts.ExecutionLog == nil {
		return nil, errors.New("execution: gate, quoter and execution log are required")
	}

	allowed := map[solana.PublicKey]struct{}{
		solana.MustPublicKey(solana.ComputeBudgetProgramID): {},
	}
	for _, id := range opts.Config.AllowedPrograms {
		pk, err := solana.ParsePublicKey(id)
		if err != nil {
			return nil, fmt.Errorf("execution: allowed program %q: %w", id, err)
		}
		allowed[pk] = struct{}{}
	}
	if rb, ok := opts.Builder.(interface{ Program() solana.PublicKey }); ok {
		allowed[rb.Program()] = struct{}{}
	}

	p := &Pipeline{
		sim:       opts.Simulator,
		transport: opts.Transport,
		fees:      opts.Fees,
		builder:   opts.Builder,
		signer:    opts.Signer,
		gate:      opts.Gate,
		quoter:    opts.Quoter,
		pressure:  opts.Pressure,
		prices:    opts.Prices,
		th:        opts.Thresholds,
		execLog:   opts.ExecutionLog,
		locker:    opts.Locker,
		cfg:       opts.Config,
		allowed:   allowed,
		guard:     newGuard(opts.Thresholds.MaxConcurrent),
		log:       opts.Logger.With().Str("component", "execution").Logger(),
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	if p.cfg.ComputeUnitCap == 0 {
		p.cfg.ComputeUnitCap = solana.MaxComputeUnits
	}
	return p, nil
}

// Dispatch reserves the route's resources and runs the attempt in the
// background. Overlap with an in-flight attempt returns domain.ErrResourceBusy
// and a pool in cooldown returns ErrCooldown; the opportunity is deferred.
func (p *Pipeline) Dispatch(ctx context.Context, opp domain.Opportunity) (string, error) {
	a, unlock, err := p.reserve(ctx, opp)
	if err != nil {
		return "", err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, a, unlock)
	}()
	return a.ID, nil
}

// Execute runs one attempt to a terminal state, or to Expired pending
// reconciliation, and returns it.
func (p *Pipeline) Execute(ctx context.Context, opp domain.Opportunity) (*domain.ExecutionAttempt, error) {
	a, unlock, err := p.reserve(ctx, opp)
	if err != nil {
		return nil, err
	}
	p.run(ctx, a, unlock)
	return a, nil
}

// InFlight returns the number of attempts holding resources, including
// expired attempts awaiting reconciliation.
func (p *Pipeline) InFlight() int {
	return p.guard.inFlight()
}

// InCooldown reports whether any of the pools is cooling down.
func (p *Pipeline) InCooldown(keys []domain.PoolKey, now time.Time) bool {
	return p.guard.cooling(keys, now)
}

// Pending returns the number of attempts awaiting reconciliation.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Wait blocks until every dispatched attempt has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) reserve(ctx context.Context, opp domain.Opportunity) (*domain.ExecutionAttempt, func(), error) {
	now := p.now()
	a := domain.NewAttempt(p.newID(), opp, now)

	if err := p.guard.acquire(a.ID, opp.Route, now); err != nil {
		p.deferred(opp, err)
		return nil, nil, err
	}
	unlock := func() { p.guard.release(a.ID) }

	if p.locker != nil {
		ttl := p.cfg.ConfirmTimeout + p.cfg.BlockhashValidity
		remote, err := p.locker.Acquire(ctx, opp.Route.Resources(), ttl)
		if err != nil {
			unlock()
			if !errors.Is(err, domain.ErrResourceBusy) {
				err = fmt.Errorf("%w: %w", domain.ErrResourceBusy, err)
			}
			p.deferred(opp, err)
			return nil, nil, err
		}
		local := unlock
		unlock = func() {
			remote()
			local()
		}
	}
	observability.SetInFlight(p.guard.inFlight())
	return a, unlock, nil
}

func (p *Pipeline) deferred(opp domain.Opportunity, err error) {
	reason := "resource_busy"
	if errors.Is(err, ErrCooldown) {
		reason = "cooldown"
	}
	observability.RecordDeferred(reason)
	p.log.Debug().Str("opportunity", opp.ID).Str("route", opp.Route.String()).Err(err).Msg("opportunity deferred")
}

// run walks the state machine. Resources are released when the attempt
// finishes unless it expired, in which case the reconciliation backlog owns them.
func (p *Pipeline) run(ctx context.Context, a *domain.ExecutionAttempt, unlock func()) {
	opp := a.Opportunity
	route := opp.Route

	units, price, err := p.simulate(ctx, a)
	if err != nil {
		p.fail(a, err, unlock, false)
		return
	}

	if err := p.approve(ctx, a); err != nil {
		p.fail(a, err, unlock, false)
		return
	}
	p.gate.RecordTrade(p.now())

	cuLimit := p.computeLimit(units)
	payload, err := p.sign(ctx, a, cuLimit, price)
	if err != nil {
		p.fail(a, err, unlock, false)
		return
	}

	// Signed transactions run to completion regardless of caller cancellation.
	ctx = context.WithoutCancel(ctx)

	if err := p.submit(ctx, a, payload); err != nil {
		p.fail(a, err, unlock, true)
		return
	}

	conf, err := p.transport.Confirm(ctx, a.Signature, p.cfg.ConfirmTimeout)
	if err != nil {
		conf = &domain.Confirmation{Status: domain.TxTimeout, Err: err.Error()}
	}
	a.Confirmation = conf

	now := p.now()
	switch conf.Status {
	case domain.TxConfirmed:
		usd := p.settle(a, conf)
		_ = a.Transition(domain.StateConfirmed, now)
		p.gate.RecordSuccess(usd, now)
		p.finish(a, usd)
		p.guard.cool(route, now.Add(p.cfg.PoolCooldown))
		unlock()
	case domain.TxFailed:
		p.fail(a, fmt.Errorf("transaction failed on chain: %s", conf.Err), unlock, true)
	default:
		a.Reason = domain.ErrConfirmationTimeout.Error()
		_ = a.Transition(domain.StateExpired, now)
		p.gate.RecordFailure(now)
		p.finish(a, decimal.Zero)
		p.guard.cool(route, now.Add(p.cfg.PoolCooldown))

		p.mu.Lock()
		p.backlog = append(p.backlog, &pending{
			attempt:  a,
			deadline: a.SubmittedAt.Add(p.cfg.BlockhashValidity),
			unlock:   unlock,
		})
		p.mu.Unlock()
	}
	observability.SetInFlight(p.guard.inFlight())
}

// simulate builds the transaction with the fallback compute limit, dry-runs
// it and checks profit after network fees against the latest market state.
func (p *Pipeline) simulate(ctx context.Context, a *domain.ExecutionAttempt) (uint32, uint64, error) {
	route := a.Opportunity.Route
	price := p.priorityFee(ctx, route)
	fallback := estimateComputeUnits(route.Len(), p.cfg.ComputeUnitCap)

	payload, _, err := p.build(ctx, route, fallback, price)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: build: %w", domain.ErrSimulation, err)
	}
	res, err := p.sim.Simulate(ctx, payload)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", domain.ErrSimulation, err)
	}
	a.Simulation = res
	if res.Err != "" {
		return 0, 0, fmt.Errorf("%w: reverted: %s", domain.ErrSimulation, res.Err)
	}

	units := uint32(min(res.UnitsConsumed, uint64(math.MaxUint32)))
	if units == 0 {
		units = fallback
	}
	if units >= p.cfg.ComputeUnitCap {
		return 0, 0, fmt.Errorf("%w: insufficient compute budget: %d units", domain.ErrSimulation, units)
	}

	fresh, err := p.quoter.Requote(a.Opportunity, p.now())
	if err != nil {
		return 0, 0, fmt.Errorf("%w: requote: %w", domain.ErrSimulation, err)
	}
	fee := p.feeInAnchor(a.Opportunity.Anchor, networkFeeLamports(1, p.computeLimit(units), price))
	res.ExpectedOut = fresh.OutputAmount
	res.NetworkFee = fee
	res.NetProfit = fresh.NetProfit - fee
	res.NetProfitPct = res.NetProfit / fresh.InputAmount * 100
	if res.NetProfitPct < p.th.MinProfitPct {
		return 0, 0, fmt.Errorf("%w: profit %.4f%% below %.4f%% after fees", domain.ErrSimulation, res.NetProfitPct, p.th.MinProfitPct)
	}

	if err := a.Transition(domain.StateSimulated, p.now()); err != nil {
		return 0, 0, err
	}
	return units, price, nil
}

// approve consults the breaker and re-scores the opportunity against the
// latest market and pressure state. This is the last cancellation point.
func (p *Pipeline) approve(ctx context.Context, a *domain.ExecutionAttempt) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before approval: %w", err)
	}
	now := p.now()
	if a.Opportunity.Expired(now, p.cfg.MaxOpportunityAge) {
		a.Opportunity.Status = domain.OpportunityExpired
		observability.RecordScore(string(domain.OpportunityExpired), "snapshot_age")
		return fmt.Errorf("%w: snapshot taken %s ago", ErrOpportunityExpired, now.Sub(a.Opportunity.SnapshotTakenAt))
	}
	if err := p.gate.Approve(now); err != nil {
		return err
	}

	fresh, err := p.quoter.Requote(a.Opportunity, now)
	if err != nil {
		return fmt.Errorf("%w: requote at approval: %w", domain.ErrRiskViolation, err)
	}
	if a.Simulation != nil {
		fresh.NetProfit -= a.Simulation.NetworkFee
		fresh.NetProfitPct = fresh.NetProfit / fresh.InputAmount * 100
	}

	var pressure scoring.Pressure
	if p.pressure != nil {
		pressure = p.pressure.View(now)
	}
	d := scoring.Score(fresh, pressure, scoring.Context{OpenExecutions: p.guard.inFlight() - 1}, p.th)
	if !d.Accepted {
		return fmt.Errorf("rescored at approval: %w", d.Err())
	}
	a.Opportunity.Confidence = d.Confidence
	a.Opportunity.Risk = d.Risk

	return a.Transition(domain.StateApproved, now)
}

// sign builds the final transaction with the sized compute limit and
// priority fee against a fresh blockhash.
func (p *Pipeline) sign(ctx context.Context, a *domain.ExecutionAttempt, cuLimit uint32, price uint64) ([]byte, error) {
	payload, sig, err := p.build(ctx, a.Opportunity.Route, cuLimit, price)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	a.ComputeUnits = cuLimit
	a.PriorityFee = price
	a.Signature = sig
	a.Payload = payload
	if err := a.Transition(domain.StateSigned, p.now()); err != nil {
		return nil, err
	}
	return payload, nil
}

// submit sends the signed payload, retrying transport errors with
// exponential backoff. Resending the same payload cannot double-execute:
// the signature is the transaction id.
func (p *Pipeline) submit(ctx context.Context, a *domain.ExecutionAttempt, payload []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.SubmitBackoff
	bo.MaxInterval = p.cfg.MaxSubmitBackoff
	bo.MaxElapsedTime = 0

	var sig string
	op := func() error {
		a.SubmitAttempts++
		s, err := p.transport.Send(ctx, payload)
		if err != nil {
			return err
		}
		sig = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordSubmitRetry()
		p.log.Warn().Err(err).Str("attempt", a.ID).Int("try", a.SubmitAttempts).Dur("backoff", wait).Msg("submission failed, retrying")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(p.cfg.MaxSubmitRetries, 0))), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if !errors.Is(err, domain.ErrSubmission) {
			err = fmt.Errorf("%w: %w", domain.ErrSubmission, err)
		}
		return fmt.Errorf("after %d tries: %w", a.SubmitAttempts, err)
	}
	if sig != "" && sig != a.Signature {
		p.log.Warn().Str("attempt", a.ID).Str("expected", a.Signature).Str("reported", sig).Msg("transport reported a different signature")
		a.Signature = sig
	}
	a.SubmittedAt = p.now()
	return a.Transition(domain.StateSubmitted, a.SubmittedAt)
}

// build compiles and signs the route's transaction and validates it.
func (p *Pipeline) build(ctx context.Context, route domain.Route, cuLimit uint32, price uint64) ([]byte, string, error) {
	payer := p.signer.PublicKey()
	swaps, err := p.builder.Build(payer, route)
	if err != nil {
		return nil, "", fmt.Errorf("build instructions: %w", err)
	}
	ixs := append([]solana.Instruction{
		solana.SetComputeUnitLimit(cuLimit),
		solana.SetComputeUnitPrice(price),
	}, swaps...)
	if err := validateTransaction(ixs, route.Len(), p.cfg, p.allowed); err != nil {
		return nil, "", err
	}

	bh, err := p.transport.LatestBlockhash(ctx)
	if err != nil {
		return nil, "", err
	}
	msg, err := solana.CompileMessage(payer, ixs, bh)
	if err != nil {
		return nil, "", fmt.Errorf("compile message: %w", err)
	}
	tx, err := solana.SignMessage(msg, p.signer)
	if err != nil {
		return nil, "", err
	}
	payload, err := tx.Serialize()
	if err != nil {
		return nil, "", err
	}
	return payload, tx.Signature(), nil
}

// priorityFee scales the base fee by congestion on the route's pools,
// bounded by the configured multiplier.
func (p *Pipeline) priorityFee(ctx context.Context, route domain.Route) uint64 {
	base := float64(p.cfg.BasePriorityFee)
	if base == 0 {
		return 0
	}
	congestion := 1.0
	if p.fees != nil {
		keys := route.PoolKeys()
		accounts := make([]string, len(keys))
		for i, k := range keys {
			accounts[i] = k.PoolID
		}
		c, err := p.fees.Congestion(ctx, accounts)
		if err != nil {
			p.log.Debug().Err(err).Msg("congestion unavailable, using base priority fee")
		} else {
			congestion = c
		}
	}
	if p.cfg.MaxFeeMultiplier > 0 {
		congestion = math.Min(congestion, p.cfg.MaxFeeMultiplier)
	}
	return uint64(math.Max(1, base*math.Max(1, congestion)))
}

func (p *Pipeline) computeLimit(units uint32) uint32 {
	margin := p.cfg.ComputeUnitMargin
	if margin < 1 {
		margin = 1
	}
	limit := math.Ceil(float64(units) * margin)
	if limit > float64(p.cfg.ComputeUnitCap) {
		return p.cfg.ComputeUnitCap
	}
	return uint32(limit)
}

// feeInAnchor converts lamports into units of the anchor token. Without a
// price for either side the fee is reported as zero.
func (p *Pipeline) feeInAnchor(anchor string, lamports uint64) float64 {
	sol := float64(lamports) / domain.LamportsPerSOL
	if anchor == domain.MintSOL {
		return sol
	}
	solUSD, anchorUSD := p.usdPrice(domain.MintSOL), p.usdPrice(anchor)
	if solUSD <= 0 || anchorUSD <= 0 {
		return 0
	}
	return sol * solUSD / anchorUSD
}

func (p *Pipeline) usdPrice(mint string) float64 {
	if p.prices == nil {
		return 0
	}
	t, ok := p.prices.Lookup(mint)
	if !ok {
		return 0
	}
	return t.USDPrice
}

// settle records the realized effect of a landed transaction on the
// attempt and returns it in USD.
func (p *Pipeline) settle(a *domain.ExecutionAttempt, conf *domain.Confirmation) decimal.Decimal {
	v, ok := conf.Effect(a.Opportunity.Route)
	if !ok {
		return decimal.Zero
	}
	a.RealizedPnL = decimal.NewFromFloat(v)
	a.PnLKnown = true
	return a.RealizedPnL.Mul(decimal.NewFromFloat(p.usdPrice(a.Opportunity.Anchor)))
}

// fail moves the attempt to Failed and finishes it. counted marks failures
// after submission began, which feed the breaker's failure streak.
func (p *Pipeline) fail(a *domain.ExecutionAttempt, err error, unlock func(), counted bool) {
	now := p.now()
	a.Reason = err.Error()
	if terr := a.Transition(domain.StateFailed, now); terr != nil {
		p.log.Error().Err(terr).Str("attempt", a.ID).Msg("cannot fail attempt")
	}
	if counted {
		p.gate.RecordFailure(now)
	}
	p.finish(a, decimal.Zero)
	if a.Reached(domain.StateSigned) {
		p.guard.cool(a.Opportunity.Route, now.Add(p.cfg.PoolCooldown))
	}
	unlock()
	observability.SetInFlight(p.guard.inFlight())
}

// finish logs the terminal attempt and appends its record.
func (p *Pipeline) finish(a *domain.ExecutionAttempt, pnlUSD decimal.Decimal) {
	opp := a.Opportunity
	observability.RecordAttemptTerminal(string(a.State), a.FinishedAt.Sub(a.DetectedAt))
	if a.PnLKnown {
		observability.AddRealizedPnL(pnlUSD.InexactFloat64())
	}

	ev := p.log.Info()
	if a.State != domain.StateConfirmed {
		ev = p.log.Warn()
	}
	ev.Str("attempt", a.ID).
		Str("opportunity", opp.ID).
		Str("route", opp.Route.String()).
		Str("state", string(a.State)).
		Str("reason", a.Reason).
		Float64("input", opp.InputAmount).
		Float64("expected_profit_pct", opp.NetProfitPct).
		Float64("slippage", opp.Slippage).
		Float64("confidence", opp.Confidence).
		Float64("risk", opp.Risk).
		Str("signature", a.Signature).
		Str("realized_pnl", a.RealizedPnL.String()).
		Bool("pnl_known", a.PnLKnown).
		Msg("execution attempt finished")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.execLog.Append(ctx, domain.NewExecutionRecord(a, pnlUSD)); err != nil {
		p.log.Error().Err(err).Str("attempt", a.ID).Msg("append execution record")
	}
}
