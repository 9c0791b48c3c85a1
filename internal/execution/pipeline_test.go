package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/chain"
	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/graph"
	"solana-arb-engine/internal/market"
	"solana-arb-engine/internal/monitor"
	"solana-arb-engine/internal/risk"
	"solana-arb-engine/internal/scoring"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/solana/stub"
	"solana-arb-engine/internal/storage"
	"solana-arb-engine/internal/storage/memory"
	"solana-arb-engine/internal/venue"
)

var (
	t0    = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	tSOL  = domain.Token{Mint: domain.MintSOL, Symbol: "SOL", Decimals: 9, USDPrice: 100}
	tUSDC = domain.Token{Mint: domain.MintUSDC, Symbol: "USDC", Decimals: 6, USDPrice: 1}
)

func keyFrom(t *testing.T, fill byte) solana.PublicKey {
	t.Helper()
	kp, err := solana.NewKeypairFromSeed(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return kp.PublicKey()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	rpc     *stub.RPCClient
	store   *market.Store
	execLog *memory.ExecutionLogStore
	breaker *risk.CircuitBreaker
	clock   *clock
	signer  *solana.Keypair
	pools   []domain.PoolState
	p       *Pipeline
}

func cpPool(id string, source string, ra, rb float64, at time.Time) domain.PoolState {
	return domain.PoolState{
		Key:        domain.PoolKey{Source: source, PoolID: id},
		Kind:       domain.VenueConstantProduct,
		TokenA:     tSOL,
		TokenB:     tUSDC,
		ReserveA:   ra,
		ReserveB:   rb,
		FeeRate:    0.003,
		TVLUSD:     20_000,
		LastUpdate: at,
	}
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	signer, err := solana.NewKeypairFromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	f := &fixture{
		rpc:     stub.NewRPCClient(),
		store:   market.NewStore(market.DefaultStoreConfig(), zerolog.Nop()),
		execLog: memory.NewExecutionLogStore(),
		breaker: risk.NewCircuitBreaker(risk.DefaultConfig(), zerolog.Nop()),
		clock:   &clock{now: t0},
		signer:  signer,
	}
	f.pools = []domain.PoolState{
		cpPool(keyFrom(t, 1).String(), "raydium", 100, 10_000, t0),
		cpPool(keyFrom(t, 2).String(), "orca", 98, 10_500, t0),
	}
	for _, ps := range f.pools {
		require.NoError(t, f.store.Upsert(ps))
	}

	cfg := DefaultConfig()
	cfg.ConfirmTimeout = 40 * time.Millisecond
	cfg.SubmitBackoff = time.Millisecond
	cfg.MaxSubmitBackoff = 2 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	owner := signer.PublicKey().String()
	f.p, err = New(Options{
		Simulator:    chain.NewSimulator(f.rpc, ""),
		Transport:    chain.NewTransport(f.rpc, owner, chain.TransportConfig{PollInterval: 2 * time.Millisecond}, zerolog.Nop()),
		Fees:         chain.NewFeeOracle(f.rpc, cfg.BasePriorityFee, 0.75),
		Builder:      venue.NewRouterBuilder(keyFrom(t, 9), 0.01),
		Signer:       signer,
		Gate:         f.breaker,
		Quoter:       NewMarketQuoter(f.store, 10*time.Second),
		Pressure:     monitor.NewPressureStore(monitor.DefaultPressureConfig()),
		Prices:       market.NewTokenRegistry([]domain.Token{tSOL, tUSDC}, nil, 16, time.Minute),
		Thresholds:   scoring.DefaultThresholds(),
		ExecutionLog: f.execLog,
		Config:       cfg,
		Logger:       zerolog.Nop(),
		Now:          f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

// opportunity detects the two-pool SOL cycle capped at 0.1 SOL.
func (f *fixture) opportunity(t *testing.T) domain.Opportunity {
	t.Helper()
	cfg := graph.DefaultConfig()
	cfg.Anchors = []graph.Anchor{{Mint: domain.MintSOL, MaxPosition: 0.1}}
	e, err := graph.NewEngine(cfg, zerolog.Nop())
	require.NoError(t, err)
	opps := e.Detect(f.store.Snapshot(f.clock.Now()))
	require.Len(t, opps, 1)
	return opps[0]
}

// landOnSend makes every submitted signature land with the given SOL gain.
func (f *fixture) landOnSend(gain string) {
	owner := f.signer.PublicKey().String()
	f.rpc.OnSend = func(sig string) {
		f.rpc.AddTransaction(landed(sig, owner, gain))
		f.rpc.SetStatus(sig, &solana.SignatureStatus{Slot: 77, ConfirmationStatus: solana.CommitmentConfirmed})
	}
}

func landed(sig, owner, postLamports string) *solana.Transaction {
	return &solana.Transaction{
		Signature: sig,
		Slot:      77,
		Meta: &solana.TransactionMeta{
			Fee:               5_120,
			PreTokenBalances:  []solana.TokenBalance{{AccountIndex: 3, Mint: domain.MintSOL, Owner: owner, Amount: "1000000000", Decimals: 9}},
			PostTokenBalances: []solana.TokenBalance{{AccountIndex: 3, Mint: domain.MintSOL, Owner: owner, Amount: postLamports, Decimals: 9}},
		},
	}
}

func states(a *domain.ExecutionAttempt) []domain.AttemptState {
	out := make([]domain.AttemptState, len(a.History))
	for i, h := range a.History {
		out[i] = h.State
	}
	return out
}

func TestExecute_Confirmed(t *testing.T) {
	f := newFixture(t, nil)
	f.landOnSend("1006200000")
	opp := f.opportunity(t)

	a, err := f.p.Execute(context.Background(), opp)
	require.NoError(t, err)

	require.Equal(t, domain.StateConfirmed, a.State, a.Reason)
	assert.Equal(t, []domain.AttemptState{
		domain.StateDetected, domain.StateSimulated, domain.StateApproved,
		domain.StateSigned, domain.StateSubmitted, domain.StateConfirmed,
	}, states(a))
	assert.Equal(t, "sig-1", a.Signature)
	assert.Equal(t, uint32(120_000), a.ComputeUnits)
	assert.Equal(t, uint64(1000), a.PriorityFee)
	assert.Equal(t, 1, a.SubmitAttempts)
	assert.True(t, a.PnLKnown)
	assert.True(t, decimal.RequireFromString("0.0062").Equal(a.RealizedPnL))
	require.NotNil(t, a.Simulation)
	assert.Greater(t, a.Simulation.NetProfitPct, 0.5)

	rec, err := f.execLog.GetByAttemptID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, rec.State)
	assert.Equal(t, opp.ID, rec.OpportunityID)
	assert.True(t, decimal.RequireFromString("0.62").Equal(rec.RealizedPnLUSD))
	assert.Equal(t, uint64(5_120), rec.FeeLamports)

	assert.Equal(t, 1, f.breaker.Stats(t0).TradesLastHour)
	assert.Zero(t, f.p.InFlight())

	// the pools cool down after a terminal state
	assert.True(t, f.p.InCooldown(opp.Route.PoolKeys(), t0))
	_, err = f.p.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.False(t, f.p.InCooldown(opp.Route.PoolKeys(), t0.Add(5*time.Second)))
}

func TestExecute_SimulationRevertNeverSigns(t *testing.T) {
	f := newFixture(t, nil)
	f.rpc.Simulate = func([]byte) (*solana.SimulationValue, error) {
		units := uint64(20_000)
		return &solana.SimulationValue{Err: "custom program error: 0x1771", UnitsConsumed: &units}, nil
	}

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)

	assert.Equal(t, domain.StateFailed, a.State)
	assert.False(t, a.Reached(domain.StateSimulated))
	assert.False(t, a.Reached(domain.StateSigned))
	assert.Contains(t, a.Reason, "reverted")
	assert.Empty(t, f.rpc.Sent())
	assert.Empty(t, a.Signature)

	rec, err := f.execLog.GetByAttemptID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Zero(t, rec.SubmittedAt)

	// discarded before execution: no breaker failure, no cooldown
	assert.Zero(t, f.breaker.Stats(t0).ConsecutiveFailures)
	assert.False(t, f.p.InCooldown(a.Opportunity.Route.PoolKeys(), t0))
	assert.Zero(t, f.p.InFlight())
}

func TestExecute_ComputeBudgetExhausted(t *testing.T) {
	f := newFixture(t, nil)
	f.rpc.Simulate = func([]byte) (*solana.SimulationValue, error) {
		units := uint64(solana.MaxComputeUnits)
		return &solana.SimulationValue{UnitsConsumed: &units}, nil
	}

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.Contains(t, a.Reason, "compute budget")
	assert.False(t, a.Reached(domain.StateSigned))
}

func TestExecute_ProfitGoneBeforeSimulationCompletes(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t)

	// the expensive pool converged after detection
	f.clock.Advance(time.Second)
	moved := f.pools[1]
	moved.ReserveA, moved.ReserveB = 100, 10_000
	moved.LastUpdate = f.clock.Now()
	require.NoError(t, f.store.Upsert(moved))

	a, err := f.p.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.Contains(t, a.Reason, domain.ErrSimulation.Error())
	assert.Contains(t, a.Reason, "below")
	assert.False(t, a.Reached(domain.StateSigned))
}

func TestExecute_StalePoolRejectedAtSimulation(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t)
	f.clock.Advance(11 * time.Second)

	a, err := f.p.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.Contains(t, a.Reason, "stale")
	assert.Empty(t, f.rpc.Sent())
}

func TestExecute_ExpiredOpportunityRefusedAtApproval(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxOpportunityAge = 2 * time.Second })
	opp := f.opportunity(t)
	f.clock.Advance(3 * time.Second)

	a, err := f.p.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.True(t, a.Reached(domain.StateSimulated))
	assert.False(t, a.Reached(domain.StateApproved))
	assert.Equal(t, domain.OpportunityExpired, a.Opportunity.Status)
	assert.Contains(t, a.Reason, ErrOpportunityExpired.Error())
	assert.Empty(t, f.rpc.Sent())
	assert.Zero(t, f.breaker.Stats(t0).ConsecutiveFailures)

	rec, err := f.execLog.GetByAttemptID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
}

func TestOpportunityExpired_WrapsRiskViolation(t *testing.T) {
	assert.ErrorIs(t, ErrOpportunityExpired, domain.ErrRiskViolation)
}

func TestExecute_BreakerBlocksApproval(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < risk.DefaultConfig().MaxConsecutiveFailures; i++ {
		f.breaker.RecordFailure(t0)
	}

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.True(t, a.Reached(domain.StateSimulated))
	assert.False(t, a.Reached(domain.StateApproved))
	assert.Contains(t, a.Reason, domain.ErrCircuitBreakerTripped.Error())
	assert.Empty(t, f.rpc.Sent())
	assert.Zero(t, f.breaker.Stats(t0).TradesLastHour)
}

func TestExecute_CancelledBeforeApproval(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.rpc.Simulate = func([]byte) (*solana.SimulationValue, error) {
		cancel()
		units := uint64(90_000)
		return &solana.SimulationValue{UnitsConsumed: &units}, nil
	}

	a, err := f.p.Execute(ctx, opp)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.False(t, a.Reached(domain.StateApproved))
	assert.Contains(t, a.Reason, "cancelled")
}

func TestExecute_SubmitRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.landOnSend("1006000000")
	f.rpc.SendErrors = []error{errors.New("connection reset"), errors.New("429 too many requests")}

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, a.State, a.Reason)
	assert.Equal(t, 3, a.SubmitAttempts)
	assert.Len(t, f.rpc.Sent(), 1)
}

func TestExecute_SubmitRetriesExhausted(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxSubmitRetries = 2 })
	f.rpc.SendErrors = []error{errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4")}

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.True(t, a.Reached(domain.StateSigned))
	assert.False(t, a.Reached(domain.StateSubmitted))
	assert.Equal(t, 3, a.SubmitAttempts)
	assert.Contains(t, a.Reason, domain.ErrSubmission.Error())
	assert.Equal(t, 1, f.breaker.Stats(t0).ConsecutiveFailures)
	assert.True(t, f.p.InCooldown(a.Opportunity.Route.PoolKeys(), t0))
}

func TestExecute_FailedOnChain(t *testing.T) {
	f := newFixture(t, nil)
	f.rpc.OnSend = func(sig string) {
		f.rpc.SetStatus(sig, &solana.SignatureStatus{Slot: 5, Err: "SlippageToleranceExceeded", ConfirmationStatus: solana.CommitmentConfirmed})
	}

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, a.State)
	assert.True(t, a.Reached(domain.StateSubmitted))
	assert.Contains(t, a.Reason, "SlippageToleranceExceeded")
	assert.Equal(t, 1, f.breaker.Stats(t0).ConsecutiveFailures)
	assert.Equal(t, 1, f.execLog.Len())
}

func TestExecute_ExpiredThenReconciledFromChain(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t)

	a, err := f.p.Execute(context.Background(), opp)
	require.NoError(t, err)
	require.Equal(t, domain.StateExpired, a.State, a.Reason)
	assert.False(t, a.PnLKnown)
	assert.Equal(t, domain.ErrConfirmationTimeout.Error(), a.Reason)

	rec, err := f.execLog.GetByAttemptID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, rec.State)

	// resources stay held until the attempt is reconciled
	assert.Equal(t, 1, f.p.Pending())
	assert.Equal(t, 1, f.p.InFlight())
	f.clock.Advance(6 * time.Second)
	_, err = f.p.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, domain.ErrResourceBusy)

	// not yet visible on chain and within blockhash validity: keep waiting
	assert.Zero(t, f.p.Reconcile(context.Background()))
	assert.Equal(t, 1, f.p.Pending())

	// the transaction did land after all
	f.rpc.AddTransaction(landed(a.Signature, f.signer.PublicKey().String(), "1005000000"))
	f.rpc.SetStatus(a.Signature, &solana.SignatureStatus{Slot: 80, ConfirmationStatus: solana.CommitmentFinalized})

	assert.Equal(t, 1, f.p.Reconcile(context.Background()))
	assert.Zero(t, f.p.Pending())
	assert.Zero(t, f.p.InFlight())

	recs, err := f.execLog.GetReconciliations(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ReconcileLanded, recs[0].Outcome)
	assert.True(t, recs[0].PnLKnown)
	assert.True(t, decimal.RequireFromString("0.005").Equal(recs[0].RealizedPnL))
	assert.True(t, decimal.RequireFromString("0.5").Equal(f.breaker.Stats(f.clock.Now()).DailyPnLUSD))

	// the log still holds one record for the attempt
	assert.Equal(t, 1, f.execLog.Len())
}

func TestReconcile_DroppedAfterBlockhashValidity(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.p.Execute(context.Background(), f.opportunity(t))
	require.NoError(t, err)
	require.Equal(t, domain.StateExpired, a.State)

	f.clock.Advance(89 * time.Second)
	assert.Zero(t, f.p.Reconcile(context.Background()))

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.p.Reconcile(context.Background()))
	assert.Zero(t, f.p.InFlight())

	recs, err := f.execLog.GetReconciliations(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ReconcileDropped, recs[0].Outcome)
	assert.False(t, recs[0].PnLKnown)
}

// sequencer hands out a strictly increasing order of events.
type sequencer struct{ n atomic.Int64 }

func (s *sequencer) next() int64 { return s.n.Add(1) }

type span struct {
	route      domain.Route
	start, end int64
}

// probeQuoter records when an attempt first touches the market.
type probeQuoter struct {
	Quoter
	seq *sequencer
	mu  sync.Mutex
	by  map[string]*span
}

func (q *probeQuoter) Requote(opp domain.Opportunity, now time.Time) (domain.Opportunity, error) {
	q.mu.Lock()
	if _, ok := q.by[opp.ID]; !ok {
		q.by[opp.ID] = &span{route: opp.Route, start: q.seq.next()}
	}
	q.mu.Unlock()
	return q.Quoter.Requote(opp, now)
}

// probeLog records when an attempt reaches the log.
type probeLog struct {
	storage.ExecutionLogStore
	q *probeQuoter
}

func (l *probeLog) Append(ctx context.Context, r *domain.ExecutionRecord) error {
	l.q.mu.Lock()
	if s, ok := l.q.by[r.OpportunityID]; ok {
		s.end = l.q.seq.next()
	}
	l.q.mu.Unlock()
	return l.ExecutionLogStore.Append(ctx, r)
}

func TestDispatch_NeverRunsOverlappingAttempts(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PoolCooldown = 0 })
	f.landOnSend("1006000000")

	probe := &probeQuoter{Quoter: f.p.quoter, seq: &sequencer{}, by: make(map[string]*span)}
	f.p.quoter = probe
	f.p.execLog = &probeLog{ExecutionLogStore: f.execLog, q: probe}

	base := f.opportunity(t)

	var accepted, busy atomic.Int64
	var wg sync.WaitGroup
	for round := 0; round < 6; round++ {
		for i := 0; i < 8; i++ {
			opp := base
			opp.ID = fmt.Sprintf("opp-%d-%d", round, i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.p.Dispatch(context.Background(), opp)
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, domain.ErrResourceBusy):
					busy.Add(1)
				default:
					t.Errorf("unexpected dispatch error: %v", err)
				}
			}()
		}
		wg.Wait()
		f.p.Wait()
	}

	require.Positive(t, accepted.Load())
	assert.Positive(t, busy.Load())
	assert.Zero(t, f.p.InFlight())

	probe.mu.Lock()
	defer probe.mu.Unlock()
	spans := make([]*span, 0, len(probe.by))
	for _, s := range probe.by {
		require.NotZero(t, s.end)
		spans = append(spans, s)
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if !a.route.Overlaps(b.route) {
				continue
			}
			assert.True(t, a.end < b.start || b.end < a.start, "overlapping attempts ran concurrently")
		}
	}
}

func TestGuard_AllOrNothing(t *testing.T) {
	g := newGuard(2)
	f := newFixture(t, nil)
	opp := f.opportunity(t)

	require.NoError(t, g.acquire("a", opp.Route, t0))
	assert.ErrorIs(t, g.acquire("b", opp.Route, t0), domain.ErrResourceBusy)
	assert.Equal(t, 1, g.inFlight())

	g.release("a")
	g.release("a")
	require.NoError(t, g.acquire("b", opp.Route, t0))
	assert.Equal(t, 1, g.inFlight())
}

func TestValidateTransaction(t *testing.T) {
	cfg := DefaultConfig()
	router := keyFrom(t, 9)
	allowed := map[solana.PublicKey]struct{}{router: {}}
	ok := solana.Instruction{ProgramID: router, Data: make([]byte, 100)}

	assert.NoError(t, validateTransaction([]solana.Instruction{ok}, 2, cfg, allowed))
	assert.Error(t, validateTransaction([]solana.Instruction{ok}, 0, cfg, allowed))
	assert.Error(t, validateTransaction([]solana.Instruction{ok}, venue.MaxRouteHops+1, cfg, allowed))

	rogue := solana.Instruction{ProgramID: keyFrom(t, 10)}
	assert.ErrorContains(t, validateTransaction([]solana.Instruction{ok, rogue}, 2, cfg, allowed), "whitelist")

	big := solana.Instruction{ProgramID: router, Data: make([]byte, 1025)}
	assert.ErrorContains(t, validateTransaction([]solana.Instruction{big}, 2, cfg, allowed), "1025")

	many := make([]solana.Instruction, 11)
	for i := range many {
		many[i] = ok
	}
	assert.ErrorContains(t, validateTransaction(many, 2, cfg, allowed), "11 instructions")
}

func TestComputeUnitSizing(t *testing.T) {
	assert.Equal(t, uint32(250_000), estimateComputeUnits(2, solana.MaxComputeUnits))
	assert.Equal(t, uint32(200_000), estimateComputeUnits(20, 200_000))
	assert.Equal(t, uint64(5_000+120), networkFeeLamports(1, 120_000, 1000))

	f := newFixture(t, nil)
	assert.Equal(t, uint32(120_000), f.p.computeLimit(100_000))
	assert.Equal(t, uint32(solana.MaxComputeUnits), f.p.computeLimit(1_300_000))
}

func TestPriorityFee_ScalesWithCongestion(t *testing.T) {
	f := newFixture(t, nil)
	route := f.opportunity(t).Route

	assert.Equal(t, uint64(1000), f.p.priorityFee(context.Background(), route))

	f.rpc.Fees = []solana.PrioritizationFee{{PrioritizationFee: 4000}}
	assert.Equal(t, uint64(4000), f.p.priorityFee(context.Background(), route))

	f.rpc.Fees = []solana.PrioritizationFee{{PrioritizationFee: 1_000_000}}
	assert.Equal(t, uint64(10_000), f.p.priorityFee(context.Background(), route))
}
