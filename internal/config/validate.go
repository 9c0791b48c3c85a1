package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/venue"
)

// Validate checks the configuration. Hard errors are joined into one error;
// unsafe but legal settings are returned as warnings.
func (c *Config) Validate() ([]string, error) {
	var errs, warnings []string
	fail := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.RPC.URL == "" {
		fail("rpc.url is required")
	}
	if c.Monitor.Enabled && c.RPC.WSURL == "" {
		fail("rpc.ws_url is required when the monitor is enabled")
	}

	if c.Engine.MaxHops < 2 || c.Engine.MaxHops > 4 {
		fail("engine.max_hops %d out of range [2,4]", c.Engine.MaxHops)
	}
	if c.Engine.ProbeFraction <= 0 || c.Engine.ProbeFraction >= 1 {
		fail("engine.probe_fraction must be in (0,1)")
	}

	s := c.Scoring
	for name, v := range map[string]float64{
		"min_profit_pct":          s.MinProfitPct,
		"max_slippage_pct":        s.MaxSlippagePct,
		"min_liquidity_usd":       s.MinLiquidityUSD,
		"max_risk":                s.MaxRisk,
		"liquidity_reference_usd": s.LiquidityReferenceUSD,
	} {
		if v <= 0 {
			fail("scoring.%s must be positive", name)
		}
	}
	if s.MaxConcurrent <= 0 {
		fail("scoring.max_concurrent must be positive")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		fail("scoring.min_confidence must be in [0,1]")
	}

	tokens := make(map[string]TokenConfig, len(c.Tokens))
	for _, t := range c.Tokens {
		if _, err := solana.ParsePublicKey(t.Mint); err != nil {
			fail("token %q: invalid mint: %v", t.Symbol, err)
			continue
		}
		tokens[t.Mint] = t
	}

	if len(c.Engine.Anchors) == 0 {
		fail("engine.anchors must not be empty")
	}
	for _, a := range c.Engine.Anchors {
		if _, ok := tokens[a.Mint]; !ok {
			fail("anchor %s is not a configured token", a.Mint)
		}
		if a.MaxPosition <= 0 {
			fail("anchor %s: max_position must be positive", a.Mint)
		}
		if a.Mint == domain.MintSOL && a.MaxPosition > 100 {
			warnings = append(warnings, fmt.Sprintf("large position size: %v SOL", a.MaxPosition))
		}
	}
	for i, g := range c.Engine.PegGroups {
		for _, m := range g {
			if _, ok := tokens[m]; !ok {
				fail("peg group %d: %s is not a configured token", i, m)
			}
		}
	}

	for _, p := range c.Pools {
		if p.ID == "" {
			fail("pool with empty id")
			continue
		}
		for _, m := range []string{p.TokenA, p.TokenB} {
			if _, ok := tokens[m]; !ok {
				fail("pool %s references unknown token %s", p.ID, m)
			}
		}
		if p.Kind != "" && domain.VenueKind(p.Kind) != domain.VenueConstantProduct {
			fail("pool %s: kind %q cannot be refreshed from vaults", p.ID, p.Kind)
		}
		for _, acct := range []string{p.ID, p.Program, p.VaultA, p.VaultB} {
			if _, err := solana.ParsePublicKey(acct); err != nil {
				fail("pool %s: invalid account %q: %v", p.ID, acct, err)
			}
		}
		if _, ok := venue.Lookup(p.Program); !ok && p.Source == "" {
			fail("pool %s: unknown program %s needs an explicit source", p.ID, p.Program)
		}
		if p.FeeRate < 0 || p.FeeRate >= 1 {
			fail("pool %s: fee_rate must be in [0,1)", p.ID)
		}
	}

	for _, w := range c.Monitor.WhaleAddresses {
		pk, err := solana.ParsePublicKey(w)
		if err != nil {
			fail("whale address %q: %v", w, err)
			continue
		}
		if !pk.IsOnCurve() {
			fail("whale address %s is not a wallet (off curve)", w)
		}
	}
	for _, prog := range c.Monitor.Programs {
		if _, err := solana.ParsePublicKey(prog); err != nil {
			fail("monitor program %q: %v", prog, err)
		}
	}

	if c.Execution.RouterProgram != "" {
		if _, err := solana.ParsePublicKey(c.Execution.RouterProgram); err != nil {
			fail("execution.router_program: %v", err)
		}
	}
	if c.Execution.ExecuteTrades {
		if c.Wallet.PrivateKey == "" {
			fail("execution.execute_trades requires wallet.private_key")
		} else if _, err := solana.ParseKeypair(c.Wallet.PrivateKey); err != nil {
			fail("wallet.private_key: %v", err)
		}
		if c.Execution.RouterProgram == "" {
			fail("execution.execute_trades requires execution.router_program")
		}
		warnings = append(warnings, "live trading enabled: transactions will be submitted")
	}

	if s.MinProfitPct > 0 && s.MinProfitPct < 0.1 {
		warnings = append(warnings, fmt.Sprintf("very low profit threshold: %v%%, fees may exceed profit", s.MinProfitPct))
	}
	if s.MaxSlippagePct > 5 {
		warnings = append(warnings, fmt.Sprintf("high slippage tolerance: %v%%", s.MaxSlippagePct))
	}

	if c.Scheduler.TickInterval.Duration <= 0 {
		fail("scheduler.tick_interval must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Execution.ExecuteTrades {
			warnings = append(warnings, "execution log is in memory and will not survive a restart")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			fail("storage.postgres_dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			fail("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		fail("unknown storage.backend %q (valid: memory, postgres, sqlite)", c.Storage.Backend)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		fail("redis.addr is required when redis is enabled")
	}
	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.Region == "") {
		fail("archive.bucket and archive.region are required when the archive is enabled")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		fail("log.level: %v", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		fail("log.format %q (valid: console, json)", c.Log.Format)
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return warnings, nil
}
