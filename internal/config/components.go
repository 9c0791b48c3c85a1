package config

import (
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/chain"
	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/execution"
	"solana-arb-engine/internal/graph"
	"solana-arb-engine/internal/market"
	"solana-arb-engine/internal/monitor"
	"solana-arb-engine/internal/risk"
	"solana-arb-engine/internal/scheduler"
	"solana-arb-engine/internal/scoring"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/venue"
)

// GraphConfig returns the cycle search bounds.
func (c *Config) GraphConfig() graph.Config {
	out := graph.Config{
		MaxHops:          c.Engine.MaxHops,
		ProbeFraction:    c.Engine.ProbeFraction,
		LadderSteps:      c.Engine.LadderSteps,
		RefineIterations: c.Engine.RefineIterations,
		MaxCandidates:    c.Engine.MaxCandidates,
		PegGroups:        c.Engine.PegGroups,
	}
	for _, a := range c.Engine.Anchors {
		out.Anchors = append(out.Anchors, graph.Anchor{Mint: a.Mint, MaxPosition: a.MaxPosition})
	}
	return out
}

// Thresholds returns the scorer bounds.
func (c *Config) Thresholds() scoring.Thresholds {
	s := c.Scoring
	return scoring.Thresholds{
		MinProfitPct:          s.MinProfitPct,
		MaxSlippagePct:        s.MaxSlippagePct,
		MinLiquidityUSD:       s.MinLiquidityUSD,
		MaxConcurrent:         s.MaxConcurrent,
		MinConfidence:         s.MinConfidence,
		MaxRisk:               s.MaxRisk,
		HighConfidence:        s.HighConfidence,
		DepthWeight:           s.DepthWeight,
		StabilityWeight:       s.StabilityWeight,
		PressureWeight:        s.PressureWeight,
		LiquidityReferenceUSD: s.LiquidityReferenceUSD,
	}
}

func (c *Config) StoreConfig() market.StoreConfig {
	out := market.DefaultStoreConfig()
	out.Staleness = c.Market.Staleness.Duration
	return out
}

func (c *Config) PressureConfig() monitor.PressureConfig {
	out := monitor.DefaultPressureConfig()
	out.HalfLife = c.Monitor.HalfLife.Duration
	out.MaxAge = c.Monitor.MaxSignalAge.Duration
	return out
}

// MonitorConfig returns the event qualification settings. solPriceUSD comes
// from the configured SOL token.
func (c *Config) MonitorConfig() monitor.Config {
	var solPrice float64
	for _, t := range c.Tokens {
		if t.Mint == domain.MintSOL {
			solPrice = t.USDPrice
		}
	}
	return monitor.Config{
		Programs:         c.Monitor.Programs,
		Whales:           c.Monitor.WhaleAddresses,
		MinNotionalSOL:   c.Monitor.MinNotionalSOL,
		MinPoolImpactPct: c.Monitor.MinPoolImpactPct,
		SOLPriceUSD:      solPrice,
		Saturation:       10,
	}
}

// ExecutionConfig returns the pipeline limits. The router program is
// always allowed.
func (c *Config) ExecutionConfig() execution.Config {
	e := c.Execution
	allowed := append([]string(nil), e.AllowedPrograms...)
	if e.RouterProgram != "" {
		allowed = append(allowed, e.RouterProgram)
	}
	return execution.Config{
		ConfirmTimeout:     e.ConfirmTimeout.Duration,
		MaxSubmitRetries:   e.MaxSubmitRetries,
		SubmitBackoff:      e.SubmitBackoff.Duration,
		MaxSubmitBackoff:   e.MaxSubmitBackoff.Duration,
		PoolCooldown:       e.PoolCooldown.Duration,
		BasePriorityFee:    e.BasePriorityFee,
		MaxFeeMultiplier:   e.MaxFeeMultiplier,
		ComputeUnitCap:     e.ComputeUnitCap,
		ComputeUnitMargin:  e.ComputeUnitMargin,
		BlockhashValidity:  e.BlockhashValidity.Duration,
		AllowedPrograms:    allowed,
		MaxInstructions:    e.MaxInstructions,
		MaxInstructionData: e.MaxInstructionData,
		MaxOpportunityAge:  c.Market.Staleness.Duration,
	}
}

func (c *Config) TransportConfig() chain.TransportConfig {
	return chain.TransportConfig{
		Commitment:   c.RPC.Commitment,
		PollInterval: c.Execution.PollInterval.Duration,
	}
}

func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		MaxConsecutiveFailures: c.Risk.MaxConsecutiveFailures,
		MaxTradesPerHour:       c.Risk.MaxTradesPerHour,
		DailyLossLimitUSD:      decimal.NewFromFloat(c.Risk.DailyLossLimitUSD),
		ResetAfter:             c.Risk.ResetAfter.Duration,
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		TickInterval:    c.Scheduler.TickInterval.Duration,
		MaxTickFailures: c.Scheduler.MaxTickFailures,
		ExecuteTrades:   c.Execution.ExecuteTrades,
		Thresholds:      c.Thresholds(),
	}
}

func (c *Config) WSConfig() solana.WSClientConfig {
	out := solana.DefaultWSConfig()
	out.ReconnectDelay = c.Monitor.ReconnectInitial.Duration
	out.MaxReconnectDelay = c.Monitor.ReconnectMax.Duration
	out.Commitment = c.RPC.Commitment
	return out
}

// DomainTokens returns the configured tokens.
func (c *Config) DomainTokens() []domain.Token {
	out := make([]domain.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		out = append(out, domain.Token{Mint: t.Mint, Symbol: t.Symbol, Decimals: t.Decimals, USDPrice: t.USDPrice})
	}
	return out
}

// VaultPools groups configured pools by venue source, one adapter each.
// Pool tokens are taken from usable; pools naming a token outside it are
// left out and their ids returned.
func (c *Config) VaultPools(usable []domain.Token) (map[string][]venue.VaultPool, []string) {
	tokens := make(map[string]domain.Token, len(usable))
	for _, t := range usable {
		tokens[t.Mint] = t
	}
	out := make(map[string][]venue.VaultPool)
	var skipped []string
	for _, p := range c.Pools {
		a, okA := tokens[p.TokenA]
		b, okB := tokens[p.TokenB]
		if !okA || !okB {
			skipped = append(skipped, p.ID)
			continue
		}
		source := p.Source
		if source == "" {
			if prog, ok := venue.Lookup(p.Program); ok {
				source = prog.Source
			}
		}
		out[source] = append(out[source], venue.VaultPool{
			PoolID:  p.ID,
			Program: p.Program,
			TokenA:  a,
			TokenB:  b,
			VaultA:  p.VaultA,
			VaultB:  p.VaultB,
			FeeRate: p.FeeRate,
		})
	}
	return out, skipped
}

// Keypair parses the wallet key. Returns nil without error when none is set.
func (c *Config) Keypair() (*solana.Keypair, error) {
	if c.Wallet.PrivateKey == "" {
		return nil, nil
	}
	return solana.ParseKeypair(c.Wallet.PrivateKey)
}
