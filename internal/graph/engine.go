package graph

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/idhash"
)

// Anchor is a token cycles start from, with the largest input the engine
// may size a route to, in the anchor's own units.
type Anchor struct {
	Mint        string
	MaxPosition float64
}

// Config holds the search bounds.
type Config struct {
	MaxHops          int      // 2..4
	ProbeFraction    float64  // edge weight probe, fraction of pool depth
	LadderSteps      int      // halvings of MaxPosition tried per cycle
	RefineIterations int      // ternary search iterations after the ladder
	MaxCandidates    int      // cap on returned opportunities, 0 = unlimited
	Anchors          []Anchor // start tokens
	PegGroups        [][]string
}

// DefaultConfig returns the default search bounds with no anchors.
func DefaultConfig() Config {
	return Config{
		MaxHops:          3,
		ProbeFraction:    0.0001,
		LadderSteps:      8,
		RefineIterations: 24,
		MaxCandidates:    20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxHops < 2 || c.MaxHops > 4 {
		return fmt.Errorf("max hops %d out of range [2,4]", c.MaxHops)
	}
	if c.ProbeFraction <= 0 || c.ProbeFraction >= 1 {
		return fmt.Errorf("probe fraction %v out of range (0,1)", c.ProbeFraction)
	}
	if c.LadderSteps < 1 {
		return fmt.Errorf("ladder steps must be positive")
	}
	if c.RefineIterations < 0 || c.MaxCandidates < 0 {
		return fmt.Errorf("refine iterations and max candidates must not be negative")
	}
	if len(c.Anchors) == 0 {
		return fmt.Errorf("no anchors configured")
	}
	for _, a := range c.Anchors {
		if a.Mint == "" || a.MaxPosition <= 0 || math.IsNaN(a.MaxPosition) {
			return fmt.Errorf("anchor %q needs a mint and positive max position", a.Mint)
		}
	}
	return nil
}

// Engine detects arbitrage routes in a snapshot. It holds no state between
// calls and is safe for concurrent use.
type Engine struct {
	cfg     Config
	anchors []Anchor
	pegs    map[string][]string
	log     zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	anchors := append([]Anchor(nil), cfg.Anchors...)
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Mint < anchors[j].Mint })

	pegs := make(map[string][]string)
	for _, group := range cfg.PegGroups {
		members := append([]string(nil), group...)
		sort.Strings(members)
		for _, m := range members {
			pegs[m] = members
		}
	}
	return &Engine{
		cfg:     cfg,
		anchors: anchors,
		pegs:    pegs,
		log:     log.With().Str("component", "graph").Logger(),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Detect returns profitable routes in the snapshot ranked best first.
// The result depends only on the snapshot and configuration.
func (e *Engine) Detect(snap *domain.GraphSnapshot) []domain.Opportunity {
	if snap == nil || len(snap.Pools) < 2 {
		return nil
	}
	g := buildGraph(snap, e.cfg.ProbeFraction)

	var opps []domain.Opportunity
	var cycles int
	for _, a := range e.anchors {
		targets := e.pegs[a.Mint]
		for _, c := range g.findCycles(a.Mint, targets, e.cfg.MaxHops) {
			cycles++
			s, ok := c.optimize(a.MaxPosition, e.cfg.LadderSteps, e.cfg.RefineIterations)
			if !ok {
				continue
			}
			opps = append(opps, e.opportunity(snap, a.Mint, s))
		}
	}

	Rank(opps)
	if e.cfg.MaxCandidates > 0 && len(opps) > e.cfg.MaxCandidates {
		opps = opps[:e.cfg.MaxCandidates]
	}

	e.log.Debug().
		Uint64("snapshot", snap.Version).
		Int("pools", len(snap.Pools)).
		Int("cycles", cycles).
		Int("opportunities", len(opps)).
		Msg("detection pass")
	return opps
}

func (e *Engine) opportunity(snap *domain.GraphSnapshot, anchor string, s sized) domain.Opportunity {
	opp := valuate(anchor, s)
	opp.ID = idhash.ComputeOpportunityID(snap.Version, anchor, opp.Route.PoolKeys(), s.input)
	opp.SnapshotVersion = snap.Version
	opp.SnapshotTakenAt = snap.TakenAt
	opp.CreatedAt = snap.TakenAt
	return opp
}

// valuate fills the amounts, fee drag, slippage and liquidity of a priced route.
func valuate(anchor string, s sized) domain.Opportunity {
	route := domain.Route{Hops: s.hops}

	spot := 1.0
	gross := s.input
	var totalLiq, minLiq float64
	for i, h := range s.hops {
		spot *= SpotRate(h.Pool, h.TokenIn)
		if out, err := QuoteNoFee(h.Pool, h.TokenIn, gross); err == nil {
			gross = out
		}
		totalLiq += h.Pool.TVLUSD
		if i == 0 || h.Pool.TVLUSD < minLiq {
			minLiq = h.Pool.TVLUSD
		}
	}

	var slippage float64
	if ideal := s.input * spot; ideal > 0 {
		slippage = math.Max(0, 1-s.output/ideal)
	}
	fees := math.Max(0, gross-s.output)
	net := s.profit()

	return domain.Opportunity{
		Route:             route,
		Anchor:            anchor,
		InputAmount:       s.input,
		OutputAmount:      s.output,
		GrossProfit:       net + fees,
		EstimatedFees:     fees,
		NetProfit:         net,
		NetProfitPct:      net / s.input * 100,
		Slippage:          slippage,
		TotalLiquidityUSD: totalLiq,
		MinLiquidityUSD:   minLiq,
		Status:            domain.OpportunityPending,
	}
}

// Rank sorts opportunities into the engine's total order: net profit
// percentage descending, hop count ascending, total liquidity descending,
// aggregate fee ascending, then pool key sequence and start token.
func Rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return Less(&opps[i], &opps[j])
	})
}

// Less reports whether a ranks ahead of b.
func Less(a, b *domain.Opportunity) bool {
	if a.NetProfitPct != b.NetProfitPct {
		return a.NetProfitPct > b.NetProfitPct
	}
	if a.Route.Len() != b.Route.Len() {
		return a.Route.Len() < b.Route.Len()
	}
	if a.TotalLiquidityUSD != b.TotalLiquidityUSD {
		return a.TotalLiquidityUSD > b.TotalLiquidityUSD
	}
	if fa, fb := a.Route.AggregateFee(), b.Route.AggregateFee(); fa != fb {
		return fa < fb
	}
	if ka, kb := idhash.RouteKey(a.Route.PoolKeys()), idhash.RouteKey(b.Route.PoolKeys()); ka != kb {
		return ka < kb
	}
	return a.Route.StartToken() < b.Route.StartToken()
}
