package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"HedgeVault/internal/ingestion"
	"HedgeVault/internal/market"
	"HedgeVault/internal/observability"
	"HedgeVault/internal/persistence"
	"HedgeVault/internal/server"
	"HedgeVault/internal/vault"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	PostgresDSN         string
	NATSURL             string
	GRPCAddr            string
	HTTPAddr            string
	MetricsAddr         string
	MigrationsDir       string
	OutputChanSize      int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
	SyncInterval        time.Duration
	OracleInterval      time.Duration

	TargetLeverage int64
	MaxCollateral  int64
	MinCollateral  int64

	// SimSeedDeposit funds and deposits for a demo account at startup so the
	// simulated markets have capital to manage. Zero disables seeding.
	SimSeedDeposit int64
}

func DefaultConfig() Config {
	return Config{
		PostgresDSN:         envOrDefault("VAULT_POSTGRES_DSN", "postgres://localhost:5432/hedgevault?sslmode=disable"),
		NATSURL:             envOrDefault("VAULT_NATS_URL", "nats://localhost:4222"),
		GRPCAddr:            envOrDefault("VAULT_GRPC_ADDR", ":9090"),
		HTTPAddr:            envOrDefault("VAULT_HTTP_ADDR", ":8080"),
		MetricsAddr:         envOrDefault("VAULT_METRICS_ADDR", ":9091"),
		MigrationsDir:       envOrDefault("VAULT_MIGRATIONS_DIR", "migrations"),
		OutputChanSize:      envIntOrDefault("VAULT_OUTPUT_CHAN_SIZE", 4096),
		PersistBatchSize:    envIntOrDefault("VAULT_PERSIST_BATCH_SIZE", 100),
		PersistFlushTimeout: time.Duration(envIntOrDefault("VAULT_PERSIST_FLUSH_TIMEOUT_MS", 200)) * time.Millisecond,
		SyncInterval:        time.Duration(envIntOrDefault("VAULT_SYNC_INTERVAL_MS", 1000)) * time.Millisecond,
		OracleInterval:      time.Duration(envIntOrDefault("VAULT_ORACLE_INTERVAL_MS", 5000)) * time.Millisecond,
		TargetLeverage:      envInt64OrDefault("VAULT_TARGET_LEVERAGE", 2_000_000),
		MaxCollateral:       envInt64OrDefault("VAULT_MAX_COLLATERAL", 10_000_000_000_000),
		MinCollateral:       envInt64OrDefault("VAULT_MIN_COLLATERAL", 100_000_000),
		SimSeedDeposit:      envInt64OrDefault("VAULT_SIM_SEED_DEPOSIT", 0),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("HedgeVault starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()
	if err := ingestion.EnsureVaultStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure vault events stream")
	}
	log.Info().Msg("nats connected")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Market collaborators ---
	// Simulated pairs and treasury back the service until real venue
	// adapters are wired in.
	treasury := market.NewSimTreasury()
	eth := market.NewSimPair("ETH-USD", treasury, 2_000_00)
	btc := market.NewSimPair("BTC-USD", treasury, 60_000_00)
	markets := []vault.MarketConfig{
		{Pair: eth, Weight: 60},
		{Pair: btc, Weight: 40},
	}

	// --- Output channels ---
	// The persistence path blocks (checkpoints must not be lost); the
	// publish path drops under pressure.
	outputs := make(chan vault.Output, cfg.OutputChanSize)
	persistChan := make(chan vault.Output, cfg.OutputChanSize)
	publishChan := make(chan vault.Output, cfg.OutputChanSize)

	// --- Vault core ---
	v, err := vault.New(vault.Config{
		Treasury:       treasury,
		Markets:        markets,
		TargetLeverage: cfg.TargetLeverage,
		MaxCollateral:  cfg.MaxCollateral,
		MinCollateral:  cfg.MinCollateral,
		Outputs:        outputs,
		Metrics:        metrics,
		Logger:         observability.NewLogger("vault"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("construct vault")
	}

	// --- Durability continuity check ---
	store := persistence.NewCheckpointStore(db)
	lastPersisted, err := store.LatestEpoch(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read latest persisted epoch")
	}
	if lastPersisted >= 0 {
		log.Info().Int64("epoch", lastPersisted).Msg("latest persisted checkpoint")
	} else {
		log.Info().Msg("no persisted checkpoints, cold start")
	}

	if cfg.SimSeedDeposit > 0 {
		demo := uuid.New()
		treasury.Fund(demo, cfg.SimSeedDeposit)
		if err := v.Deposit(ctx, demo, cfg.SimSeedDeposit); err != nil {
			log.Fatal().Err(err).Msg("seed deposit")
		}
		log.Info().
			Str("account", demo.String()).
			Int64("amount", cfg.SimSeedDeposit).
			Msg("seeded demo deposit")
	}

	// --- gRPC + gateway ---
	grpcServer, healthSvc := server.NewGRPCServer()
	gateway, err := server.NewGateway(v, healthChecker, observability.NewLogger("gateway"))
	if err != nil {
		log.Fatal().Err(err).Msg("construct gateway")
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: gateway.Handler()}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	publisher := ingestion.NewPublisher(js, publishChan, observability.NewLogger("publisher"))
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	go bridgeOutputs(ctx, outputs, persistChan, publishChan)

	go runKeeperLoop(ctx, v, cfg.SyncInterval, observability.NewLogger("keeper"))
	go runSimOracle(ctx, []*market.SimPair{eth, btc}, cfg.OracleInterval)

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			errChan <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		errChan <- grpcServer.Serve(lis)
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsHandler()}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	server.SetServing(healthSvc, true)
	log.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("HedgeVault ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	server.SetServing(healthSvc, false)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	httpServer.Shutdown(shutCtx)
	metricsServer.Shutdown(shutCtx)
	grpcServer.GracefulStop()

	// Cancelling the root context stops the keeper and drains the workers,
	// which flush buffered checkpoints before returning.
	cancel()
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("HedgeVault stopped")
}

// bridgeOutputs duplicates each vault output to the persistence and publish
// paths. Persistence blocks, publishing drops when its buffer is full.
func bridgeOutputs(ctx context.Context, in <-chan vault.Output, persist, publish chan<- vault.Output) {
	defer close(persist)
	defer close(publish)
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}
			select {
			case persist <- out:
			case <-ctx.Done():
				return
			}
			select {
			case publish <- out:
			default:
			}
		}
	}
}

// runKeeperLoop periodically settles and rebalances the vault against the
// latest oracle observations.
func runKeeperLoop(ctx context.Context, v *vault.Vault, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Sync(ctx); err != nil {
				log.Warn().Err(err).Msg("keeper sync failed")
			}
		}
	}
}

// runSimOracle advances the simulated pairs' oracle versions on a fixed
// cadence with flat marks and zero accrued pnl.
func runSimOracle(ctx context.Context, pairs []*market.SimPair, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range pairs {
				snap := p.LatestVersion()
				p.AdvanceVersion(snap.Price, 0, 0)
			}
		}
	}
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int64
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
