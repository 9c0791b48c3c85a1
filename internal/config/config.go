// Package config defines the engine configuration: TOML file, .env file and
// ARB_* environment overrides, in that order of precedence.
package config

import (
	"time"

	"solana-arb-engine/internal/venue"
)

// Config is the root configuration structure.
type Config struct {
	RPC       RPCConfig       `toml:"rpc"`
	Wallet    WalletConfig    `toml:"wallet"`
	Engine    EngineConfig    `toml:"engine"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Market    MarketConfig    `toml:"market"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Execution ExecutionConfig `toml:"execution"`
	Risk      RiskConfig      `toml:"risk"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Storage   StorageConfig   `toml:"storage"`
	Redis     RedisConfig     `toml:"redis"`
	Archive   ArchiveConfig   `toml:"archive"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
	Tokens    []TokenConfig   `toml:"tokens"`
	Pools     []PoolConfig    `toml:"pools"`
}

// RPCConfig holds the Solana endpoints.
type RPCConfig struct {
	URL        string   `toml:"url"`
	WSURL      string   `toml:"ws_url"`
	Timeout    Duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
	Commitment string   `toml:"commitment"`
}

// WalletConfig holds the fee payer key: base58 64-byte keypair or JSON byte array.
type WalletConfig struct {
	PrivateKey string `toml:"private_key"`
}

// AnchorConfig is a cycle start token with its position bound.
type AnchorConfig struct {
	Mint        string  `toml:"mint"`
	MaxPosition float64 `toml:"max_position"`
}

// EngineConfig bounds the cycle search.
type EngineConfig struct {
	MaxHops          int            `toml:"max_hops"`
	ProbeFraction    float64        `toml:"probe_fraction"`
	LadderSteps      int            `toml:"ladder_steps"`
	RefineIterations int            `toml:"refine_iterations"`
	MaxCandidates    int            `toml:"max_candidates"`
	Anchors          []AnchorConfig `toml:"anchors"`
	PegGroups        [][]string     `toml:"peg_groups"`
}

// ScoringConfig holds accept thresholds and score weights.
type ScoringConfig struct {
	MinProfitPct          float64 `toml:"min_profit_pct"`
	MaxSlippagePct        float64 `toml:"max_slippage_pct"`
	MinLiquidityUSD       float64 `toml:"min_liquidity_usd"`
	MaxConcurrent         int     `toml:"max_concurrent"`
	MinConfidence         float64 `toml:"min_confidence"`
	MaxRisk               float64 `toml:"max_risk"`
	HighConfidence        float64 `toml:"high_confidence"`
	DepthWeight           float64 `toml:"depth_weight"`
	StabilityWeight       float64 `toml:"stability_weight"`
	PressureWeight        float64 `toml:"pressure_weight"`
	LiquidityReferenceUSD float64 `toml:"liquidity_reference_usd"`
}

// MarketConfig configures the pool state store and refreshers.
type MarketConfig struct {
	Staleness       Duration `toml:"staleness"`
	RefreshInterval Duration `toml:"refresh_interval"`
	FetchTimeout    Duration `toml:"fetch_timeout"`
	TokenCacheSize  int      `toml:"token_cache_size"`
	TokenCacheTTL   Duration `toml:"token_cache_ttl"`
}

// MonitorConfig configures event qualification and pressure decay.
type MonitorConfig struct {
	Enabled          bool     `toml:"enabled"`
	Programs         []string `toml:"programs"`
	WhaleAddresses   []string `toml:"whale_addresses"`
	MinNotionalSOL   float64  `toml:"min_notional_sol"`
	MinPoolImpactPct float64  `toml:"min_pool_impact_pct"`
	HalfLife         Duration `toml:"half_life"`
	MaxSignalAge     Duration `toml:"max_signal_age"`
	ReconnectInitial Duration `toml:"reconnect_initial"`
	ReconnectMax     Duration `toml:"reconnect_max"`
}

// ExecutionConfig holds the pipeline limits.
type ExecutionConfig struct {
	ExecuteTrades      bool     `toml:"execute_trades"`
	ConfirmTimeout     Duration `toml:"confirm_timeout"`
	PollInterval       Duration `toml:"poll_interval"`
	MaxSubmitRetries   int      `toml:"max_submit_retries"`
	SubmitBackoff      Duration `toml:"submit_backoff"`
	MaxSubmitBackoff   Duration `toml:"max_submit_backoff"`
	PoolCooldown       Duration `toml:"pool_cooldown"`
	BasePriorityFee    uint64   `toml:"base_priority_fee"`
	MaxFeeMultiplier   float64  `toml:"max_fee_multiplier"`
	ComputeUnitCap     uint32   `toml:"compute_unit_cap"`
	ComputeUnitMargin  float64  `toml:"compute_unit_margin"`
	BlockhashValidity  Duration `toml:"blockhash_validity"`
	RouterProgram      string   `toml:"router_program"`
	SlippageTolerance  float64  `toml:"slippage_tolerance"`
	AllowedPrograms    []string `toml:"allowed_programs"`
	MaxInstructions    int      `toml:"max_instructions"`
	MaxInstructionData int      `toml:"max_instruction_data"`
}

// RiskConfig holds the circuit breaker limits. Zero disables a limit.
type RiskConfig struct {
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	MaxTradesPerHour       int      `toml:"max_trades_per_hour"`
	DailyLossLimitUSD      float64  `toml:"daily_loss_limit_usd"`
	ResetAfter             Duration `toml:"reset_after"`
}

// SchedulerConfig controls the tick loop.
type SchedulerConfig struct {
	TickInterval    Duration `toml:"tick_interval"`
	MaxTickFailures int      `toml:"max_tick_failures"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// StorageConfig selects the execution log backend.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	SQLitePath    string `toml:"sqlite_path"`
	ClickhouseDSN string `toml:"clickhouse_dsn"` // optional opportunity analytics
}

// RedisConfig enables the cross-process lock and pressure bus.
type RedisConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	TLS       bool   `toml:"tls"`
}

// ArchiveConfig holds the S3-compatible archive target.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetricsConfig holds the Prometheus listener.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console | json
}

// TokenConfig is one known token.
type TokenConfig struct {
	Mint     string  `toml:"mint"`
	Symbol   string  `toml:"symbol"`
	Decimals uint8   `toml:"decimals"`
	USDPrice float64 `toml:"usd_price"`
}

// PoolConfig is one pool refreshed from its SPL vaults.
type PoolConfig struct {
	ID      string  `toml:"id"`
	Source  string  `toml:"source"` // venue name, e.g. "raydium"
	Program string  `toml:"program"`
	Kind    string  `toml:"kind"`
	TokenA  string  `toml:"token_a"`
	TokenB  string  `toml:"token_b"`
	VaultA  string  `toml:"vault_a"`
	VaultB  string  `toml:"vault_b"`
	FeeRate float64 `toml:"fee_rate"`
}

// Duration is a time.Duration decoded from strings like "5s" or "15m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			URL:        "https://api.mainnet-beta.solana.com",
			WSURL:      "wss://api.mainnet-beta.solana.com",
			Timeout:    Duration{30 * time.Second},
			MaxRetries: 3,
			Commitment: "confirmed",
		},
		Engine: EngineConfig{
			MaxHops:          3,
			ProbeFraction:    0.0001,
			LadderSteps:      8,
			RefineIterations: 24,
			MaxCandidates:    20,
		},
		Scoring: ScoringConfig{
			MinProfitPct:          0.5,
			MaxSlippagePct:        1.0,
			MinLiquidityUSD:       10_000,
			MaxConcurrent:         3,
			MinConfidence:         0.3,
			MaxRisk:               0.7,
			HighConfidence:        0.7,
			DepthWeight:           0.6,
			StabilityWeight:       0.4,
			PressureWeight:        0.5,
			LiquidityReferenceUSD: 100_000,
		},
		Market: MarketConfig{
			Staleness:       Duration{10 * time.Second},
			RefreshInterval: Duration{2 * time.Second},
			FetchTimeout:    Duration{5 * time.Second},
			TokenCacheSize:  1024,
			TokenCacheTTL:   Duration{300 * time.Second},
		},
		Monitor: MonitorConfig{
			Enabled:          true,
			Programs:         venue.DefaultMonitored(),
			MinNotionalSOL:   10,
			MinPoolImpactPct: 1.0,
			HalfLife:         Duration{30 * time.Second},
			MaxSignalAge:     Duration{5 * time.Minute},
			ReconnectInitial: Duration{time.Second},
			ReconnectMax:     Duration{30 * time.Second},
		},
		Execution: ExecutionConfig{
			ConfirmTimeout:     Duration{60 * time.Second},
			PollInterval:       Duration{2 * time.Second},
			MaxSubmitRetries:   3,
			SubmitBackoff:      Duration{500 * time.Millisecond},
			MaxSubmitBackoff:   Duration{5 * time.Second},
			PoolCooldown:       Duration{5 * time.Second},
			BasePriorityFee:    1000,
			MaxFeeMultiplier:   10,
			ComputeUnitCap:     1_400_000,
			ComputeUnitMargin:  1.2,
			BlockhashValidity:  Duration{90 * time.Second},
			SlippageTolerance:  0.01,
			AllowedPrograms:    []string{venue.OrcaWhirlpool, venue.RaydiumAMMV4, venue.Phoenix},
			MaxInstructions:    10,
			MaxInstructionData: 1024,
		},
		Risk: RiskConfig{
			MaxConsecutiveFailures: 5,
			MaxTradesPerHour:       60,
			DailyLossLimitUSD:      1500,
			ResetAfter:             Duration{15 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			TickInterval:    Duration{time.Second},
			MaxTickFailures: 10,
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			SQLitePath: "data/execution_log.db",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "arb",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "arb",
			UseSSL: true,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}
