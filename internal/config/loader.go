package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads .env (if present), merges the TOML file at path (if present) over
// Defaults, applies ARB_* environment overrides and validates the result.
// Validation warnings are returned alongside a usable config.
func Load(path string) (*Config, []string, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return &cfg, warnings, nil
}

// applyEnvOverrides overwrites fields whose ARB_* variable is set and
// parses. Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.RPC.URL, "ARB_RPC_URL")
	setStr(&cfg.RPC.WSURL, "ARB_RPC_WS_URL")
	setStr(&cfg.RPC.Commitment, "ARB_RPC_COMMITMENT")

	setStr(&cfg.Wallet.PrivateKey, "ARB_WALLET_PRIVATE_KEY")

	setInt(&cfg.Engine.MaxHops, "ARB_ENGINE_MAX_HOPS")

	setFloat64(&cfg.Scoring.MinProfitPct, "ARB_SCORING_MIN_PROFIT_PCT")
	setFloat64(&cfg.Scoring.MaxSlippagePct, "ARB_SCORING_MAX_SLIPPAGE_PCT")
	setFloat64(&cfg.Scoring.MinLiquidityUSD, "ARB_SCORING_MIN_LIQUIDITY_USD")
	setInt(&cfg.Scoring.MaxConcurrent, "ARB_SCORING_MAX_CONCURRENT")

	setBool(&cfg.Monitor.Enabled, "ARB_MONITOR_ENABLED")
	setStringSlice(&cfg.Monitor.WhaleAddresses, "ARB_MONITOR_WHALE_ADDRESSES")

	setBool(&cfg.Execution.ExecuteTrades, "ARB_EXECUTION_EXECUTE_TRADES")
	setStr(&cfg.Execution.RouterProgram, "ARB_EXECUTION_ROUTER_PROGRAM")
	setDuration(&cfg.Execution.ConfirmTimeout, "ARB_EXECUTION_CONFIRM_TIMEOUT")

	setFloat64(&cfg.Risk.DailyLossLimitUSD, "ARB_RISK_DAILY_LOSS_LIMIT_USD")

	setDuration(&cfg.Scheduler.TickInterval, "ARB_SCHEDULER_TICK_INTERVAL")

	setStr(&cfg.Storage.Backend, "ARB_STORAGE_BACKEND")
	setStr(&cfg.Storage.PostgresDSN, "ARB_STORAGE_POSTGRES_DSN")
	setStr(&cfg.Storage.SQLitePath, "ARB_STORAGE_SQLITE_PATH")
	setStr(&cfg.Storage.ClickhouseDSN, "ARB_STORAGE_CLICKHOUSE_DSN")

	setBool(&cfg.Redis.Enabled, "ARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARB_REDIS_DB")

	setBool(&cfg.Archive.Enabled, "ARB_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "ARB_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "ARB_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "ARB_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "ARB_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "ARB_ARCHIVE_SECRET_KEY")

	setStr(&cfg.Metrics.Addr, "ARB_METRICS_ADDR")
	setStr(&cfg.Log.Level, "ARB_LOG_LEVEL")
	setStr(&cfg.Log.Format, "ARB_LOG_FORMAT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
