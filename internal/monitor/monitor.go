package monitor

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
)

// Config controls event qualification.
type Config struct {
	Programs         []string // tracked venue programs
	Whales           []string // tracked large-holder addresses
	MinNotionalSOL   float64  // qualify on transferred amount
	MinPoolImpactPct float64  // or on amount relative to pool liquidity
	SOLPriceUSD      float64  // converts pool TVL to SOL
	// Saturation is the multiple of a threshold at which magnitude reaches 1.
	Saturation float64
}

// PoolLookup resolves pool accounts named in events.
type PoolLookup interface {
	PoolByID(id string) (*domain.PoolState, bool)
}

// Publisher fans pressure updates out to other processes.
type Publisher interface {
	PublishPressure(ctx context.Context, u domain.PressureUpdate) error
}

// Stats counts processed events.
type Stats struct {
	Received     uint64
	Qualified    uint64
	Ignored      uint64
	DecodeErrors uint64
}

// Monitor qualifies raw events and updates pressure signals.
type Monitor struct {
	cfg      Config
	programs map[string]struct{}
	whales   map[string]struct{}
	store    *PressureStore
	pools    PoolLookup
	pub      Publisher
	now      func() time.Time
	log      zerolog.Logger

	received  atomic.Uint64
	qualified atomic.Uint64
	ignored   atomic.Uint64
	decodeErr atomic.Uint64
}

// New creates a monitor writing to store. pools and pub may be nil.
func New(cfg Config, store *PressureStore, pools PoolLookup, pub Publisher, log zerolog.Logger) *Monitor {
	if cfg.Saturation <= 1 {
		cfg.Saturation = 10
	}
	m := &Monitor{
		cfg:      cfg,
		programs: make(map[string]struct{}, len(cfg.Programs)),
		whales:   make(map[string]struct{}, len(cfg.Whales)),
		store:    store,
		pools:    pools,
		pub:      pub,
		now:      time.Now,
		log:      log.With().Str("component", "monitor").Logger(),
	}
	for _, p := range cfg.Programs {
		m.programs[p] = struct{}{}
	}
	for _, w := range cfg.Whales {
		m.whales[w] = struct{}{}
	}
	return m
}

// Tracks reports whether events of program are decoded at all.
func (m *Monitor) Tracks(program string) bool {
	_, ok := m.programs[program]
	return ok
}

// OnEvent qualifies one raw event. It never fails: untracked or malformed
// events are counted and dropped.
func (m *Monitor) OnEvent(ev domain.RawEvent) (domain.PressureUpdate, bool) {
	m.received.Add(1)

	if !m.tracked(ev) {
		m.ignore()
		return domain.PressureUpdate{}, false
	}
	if ev.Amount <= 0 || math.IsNaN(ev.Amount) || math.IsInf(ev.Amount, 0) {
		m.DecodeError()
		return domain.PressureUpdate{}, false
	}

	var notionalScore float64
	if m.cfg.MinNotionalSOL > 0 {
		notionalScore = ev.Amount / m.cfg.MinNotionalSOL
	}

	var impactScore float64
	var impactPool string
	for _, acc := range ev.Accounts {
		p, ok := m.lookupPool(acc)
		if !ok {
			continue
		}
		liq := m.liquiditySOL(p)
		if liq <= 0 || m.cfg.MinPoolImpactPct <= 0 {
			continue
		}
		score := (ev.Amount / liq * 100) / m.cfg.MinPoolImpactPct
		if score > impactScore {
			impactScore, impactPool = score, p.Key.PoolID
		}
	}

	if notionalScore < 1 && impactScore < 1 {
		m.ignore()
		return domain.PressureUpdate{}, false
	}

	u := domain.PressureUpdate{
		Side:      ev.Side,
		Notional:  ev.Amount,
		Signature: ev.Signature,
		At:        ev.Timestamp,
	}
	if u.Side == "" {
		u.Side = domain.PressureUnknown
	}
	switch {
	case impactScore >= 1 && impactPool != "":
		u.Scope, u.Key = domain.ScopePool, impactPool
	case ev.Mint != "":
		u.Scope, u.Key = domain.ScopeToken, ev.Mint
	case impactPool != "":
		u.Scope, u.Key = domain.ScopePool, impactPool
	default:
		// nothing to attribute the flow to
		m.ignore()
		return domain.PressureUpdate{}, false
	}
	u.Magnitude = math.Min(1, math.Max(notionalScore, impactScore)/m.cfg.Saturation)

	now := m.now()
	if u.At.IsZero() {
		u.At = now
	}
	m.store.Apply(u, now)
	m.qualified.Add(1)
	observability.RecordRawEvent("qualified")

	m.log.Debug().
		Str("scope", string(u.Scope)).
		Str("key", u.Key).
		Str("side", string(u.Side)).
		Float64("notional_sol", u.Notional).
		Float64("magnitude", u.Magnitude).
		Str("signature", u.Signature).
		Msg("pressure update")

	if m.pub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := m.pub.PublishPressure(ctx, u); err != nil {
			m.log.Warn().Err(err).Msg("publish pressure failed")
		}
		cancel()
	}
	return u, true
}

// DecodeError counts an event dropped below the decode layer.
func (m *Monitor) DecodeError() {
	m.decodeErr.Add(1)
	observability.RecordRawEvent("decode_error")
}

func (m *Monitor) ignore() {
	m.ignored.Add(1)
	observability.RecordRawEvent("ignored")
}

// Stats returns event counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Received:     m.received.Load(),
		Qualified:    m.qualified.Load(),
		Ignored:      m.ignored.Load(),
		DecodeErrors: m.decodeErr.Load(),
	}
}

func (m *Monitor) tracked(ev domain.RawEvent) bool {
	if _, ok := m.programs[ev.Program]; ok {
		return true
	}
	if ev.Program == "" && len(ev.Accounts) > 0 {
		_, ok := m.whales[ev.Accounts[0]]
		return ok
	}
	return false
}

func (m *Monitor) lookupPool(id string) (*domain.PoolState, bool) {
	if m.pools == nil {
		return nil, false
	}
	return m.pools.PoolByID(id)
}

func (m *Monitor) liquiditySOL(p *domain.PoolState) float64 {
	if m.cfg.SOLPriceUSD > 0 && p.TVLUSD > 0 {
		return p.TVLUSD / m.cfg.SOLPriceUSD
	}
	switch domain.MintSOL {
	case p.TokenA.Mint:
		return 2 * p.ReserveA
	case p.TokenB.Mint:
		return 2 * p.ReserveB
	}
	return 0
}

// ApplyRemote applies an update received from another process without
// republishing it.
func (m *Monitor) ApplyRemote(u domain.PressureUpdate) {
	m.store.Apply(u, m.now())
}
