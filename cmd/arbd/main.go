// Command arbd runs the arbitrage engine: pool refreshers, the event
// monitor, the detection scheduler and, when trading is enabled, the
// execution pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"solana-arb-engine/internal/archive"
	"solana-arb-engine/internal/cache/redis"
	"solana-arb-engine/internal/chain"
	"solana-arb-engine/internal/config"
	"solana-arb-engine/internal/execution"
	"solana-arb-engine/internal/graph"
	"solana-arb-engine/internal/logging"
	"solana-arb-engine/internal/market"
	"solana-arb-engine/internal/monitor"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/risk"
	"solana-arb-engine/internal/scheduler"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/storage"
	chstore "solana-arb-engine/internal/storage/clickhouse"
	"solana-arb-engine/internal/storage/memory"
	"solana-arb-engine/internal/storage/migrations"
	pgstore "solana-arb-engine/internal/storage/postgres"
	"solana-arb-engine/internal/storage/sqlite"
	"solana-arb-engine/internal/venue"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 20 * time.Second
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the TOML configuration file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbd: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbd: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error().Dur("timeout", shutdownTimeout).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("arbd stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	rpc := solana.NewHTTPClient(cfg.RPC.URL,
		solana.WithTimeout(cfg.RPC.Timeout.Duration),
		solana.WithMaxRetries(cfg.RPC.MaxRetries),
		solana.WithCommitment(cfg.RPC.Commitment),
	)

	execLog, closeLog, err := openExecutionLog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLog()

	var opps storage.OpportunityStore
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := chstore.Open(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		opps = chstore.NewOpportunityStore(conn)
		log.Info().Msg("opportunity analytics enabled")
	}

	var (
		locker execution.Locker
		bus    *redis.SignalBus
	)
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLS,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		locker = redis.NewLockManager(rc)
		bus = redis.NewSignalBus(rc, uuid.NewString(), log)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis lock and pressure bus enabled")
	}

	tokens := market.NewTokenRegistry(cfg.DomainTokens(), rpc, cfg.Market.TokenCacheSize, cfg.Market.TokenCacheTTL.Duration)
	vaultSources := vaultPools(ctx, cfg, tokens, log)

	store := market.NewStore(cfg.StoreConfig(), log)
	pressure := monitor.NewPressureStore(cfg.PressureConfig())

	var pub monitor.Publisher
	if bus != nil {
		pub = bus
	}
	mon := monitor.New(cfg.MonitorConfig(), pressure, store, pub, log)

	engine, err := graph.NewEngine(cfg.GraphConfig(), log)
	if err != nil {
		return fmt.Errorf("graph engine: %w", err)
	}
	breaker := risk.NewCircuitBreaker(cfg.RiskConfig(), log)

	var (
		pipeline *execution.Pipeline
		executor scheduler.Executor
	)
	if cfg.Execution.ExecuteTrades {
		pipeline, err = newPipeline(cfg, rpc, store, pressure, tokens, breaker, execLog, locker, log)
		if err != nil {
			return err
		}
		executor = pipeline
	}

	sched, err := scheduler.New(scheduler.Options{
		Market:        store,
		Engine:        engine,
		Executor:      executor,
		Breaker:       breaker,
		Pressure:      pressure,
		Opportunities: opps,
		Config:        cfg.SchedulerConfig(),
		Logger:        log,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, log) })
	}
	g.Go(func() error { return trackUptime(gctx) })

	for source, pools := range vaultSources {
		adapter := venue.NewVaultAdapter(source, rpc, pools)
		r := market.NewRefresher(adapter, store, cfg.Market.RefreshInterval.Duration, cfg.Market.FetchTimeout.Duration, log)
		log.Info().Str("source", source).Int("pools", len(pools)).Msg("starting refresher")
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return sweep(gctx, store, cfg.Market.Staleness.Duration, log) })

	if cfg.Archive.Enabled {
		a := cfg.Archive
		client, err := archive.NewS3Client(ctx, archive.ClientConfig{
			Endpoint:       a.Endpoint,
			Region:         a.Region,
			Bucket:         a.Bucket,
			AccessKey:      a.AccessKey,
			SecretKey:      a.SecretKey,
			UseSSL:         a.UseSSL,
			ForcePathStyle: a.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		archiver := archive.NewArchiver(client, a.Bucket, a.Prefix, execLog, log)
		g.Go(func() error { return archiveDaily(gctx, archiver, log) })
	}

	if cfg.Monitor.Enabled {
		wsCfg := cfg.WSConfig()
		wsCfg.Logger = log.With().Str("component", "ws").Logger()
		wsCfg.OnReconnect = observability.RecordWSReconnect
		ws, err := solana.NewWSClient(gctx, cfg.RPC.WSURL, &wsCfg)
		if err != nil {
			return fmt.Errorf("websocket: %w", err)
		}
		defer ws.Close()

		listener := monitor.NewListener(ws, mon, cfg.Monitor.Programs, cfg.Monitor.WhaleAddresses, log).
			WithRetry(cfg.Monitor.ReconnectInitial.Duration, cfg.Monitor.ReconnectMax.Duration)
		g.Go(func() error { return listener.Run(gctx) })
	}
	if bus != nil {
		if err := bus.SubscribePressure(gctx, mon.ApplyRemote); err != nil {
			return fmt.Errorf("subscribe pressure: %w", err)
		}
	}

	g.Go(func() error { return sched.Run(gctx) })

	log.Info().
		Bool("execute_trades", cfg.Execution.ExecuteTrades).
		Str("storage", cfg.Storage.Backend).
		Int("anchors", len(cfg.Engine.Anchors)).
		Int("pools", len(cfg.Pools)).
		Msg("arbd started")

	err = g.Wait()

	if pipeline != nil {
		pipeline.Wait()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		n := pipeline.Drain(drainCtx, cfg.Execution.PollInterval.Duration)
		cancel()
		ev := log.Info()
		if left := pipeline.Pending(); left > 0 {
			ev = log.Warn().Int("unresolved", left)
		}
		ev.Int("reconciled", n).Msg("execution pipeline drained")
	}
	return err
}

// vaultPools validates token metadata against the chain and groups the
// configured pools by source. Pools with a token that failed validation are
// not refreshed, so they never reach the market store.
func vaultPools(ctx context.Context, cfg *config.Config, tokens *market.TokenRegistry, log zerolog.Logger) map[string][]venue.VaultPool {
	usable, failed := tokens.ValidateAll(ctx)
	for mint, err := range failed {
		log.Warn().Err(err).Str("mint", mint).Msg("token metadata not validated")
	}
	pools, skipped := cfg.VaultPools(usable)
	for _, id := range skipped {
		log.Warn().Str("pool", id).Msg("pool excluded, token metadata not validated")
	}
	return pools
}

func newPipeline(
	cfg *config.Config,
	rpc solana.RPCClient,
	store *market.Store,
	pressure *monitor.PressureStore,
	tokens *market.TokenRegistry,
	breaker *risk.CircuitBreaker,
	execLog storage.ExecutionLogStore,
	locker execution.Locker,
	log zerolog.Logger,
) (*execution.Pipeline, error) {
	kp, err := cfg.Keypair()
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	if kp == nil {
		return nil, errors.New("wallet: private key is required to execute trades")
	}
	router, err := solana.ParsePublicKey(cfg.Execution.RouterProgram)
	if err != nil {
		return nil, fmt.Errorf("router program: %w", err)
	}

	owner := kp.PublicKey().String()
	log.Info().Str("wallet", owner).Str("router", router.String()).Msg("trading enabled")

	return execution.New(execution.Options{
		Simulator:    chain.NewSimulator(rpc, cfg.RPC.Commitment),
		Transport:    chain.NewTransport(rpc, owner, cfg.TransportConfig(), log),
		Fees:         chain.NewFeeOracle(rpc, cfg.Execution.BasePriorityFee, 0.75),
		Builder:      venue.NewRouterBuilder(router, cfg.Execution.SlippageTolerance),
		Signer:       kp,
		Gate:         breaker,
		Quoter:       execution.NewMarketQuoter(store, cfg.Market.Staleness.Duration),
		Pressure:     pressure,
		Prices:       tokens,
		Thresholds:   cfg.Thresholds(),
		ExecutionLog: execLog,
		Locker:       locker,
		Config:       cfg.ExecutionConfig(),
		Logger:       log,
	})
}

// openExecutionLog opens the configured execution log backend.
func openExecutionLog(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.ExecutionLogStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info().Msg("execution log: postgres")
		return pgstore.NewExecutionLogStore(pool), pool.Close, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.Storage.SQLitePath).Msg("execution log: sqlite")
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("close sqlite")
			}
		}, nil

	default:
		log.Warn().Msg("execution log: memory, records are lost on exit")
		return memory.NewExecutionLogStore(), func() {}, nil
	}
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func trackUptime(ctx context.Context) error {
	const step = 15 * time.Second
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			observability.AddUptime(step)
		}
	}
}

// sweep degrades pools that stopped refreshing and logs store changes.
func sweep(ctx context.Context, store *market.Store, staleness time.Duration, log zerolog.Logger) error {
	interval := staleness / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			store.Sweep(now)
		case ev := <-store.Events():
			if ev.Kind != market.ChangeUpserted {
				log.Debug().Str("pool", ev.Key.String()).Str("kind", string(ev.Kind)).Uint64("version", ev.Version).Msg("pool state change")
			}
		}
	}
}

// archiveDaily uploads the previous UTC day shortly after each midnight.
// Failures are logged; the day can be re-archived with execlog.
func archiveDaily(ctx context.Context, a *archive.Archiver, log zerolog.Logger) error {
	const grace = 5 * time.Minute
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Add(grace)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		day := next.AddDate(0, 0, -1)
		if _, err := a.ArchiveDay(ctx, day); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("day", day.Format("2006-01-02")).Msg("daily archive failed")
		}
	}
}
