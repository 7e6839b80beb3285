package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odinmarkets/dna-pipeline/internal/api"
	"github.com/odinmarkets/dna-pipeline/internal/broker"
	"github.com/odinmarkets/dna-pipeline/internal/config"
	"github.com/odinmarkets/dna-pipeline/internal/indicator"
	"github.com/odinmarkets/dna-pipeline/internal/metrics"
	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/odinmarkets/dna-pipeline/internal/orchestrator"
	"github.com/odinmarkets/dna-pipeline/internal/planner"
	"github.com/odinmarkets/dna-pipeline/internal/platform"
	"github.com/odinmarkets/dna-pipeline/internal/ratelimit"
	"github.com/odinmarkets/dna-pipeline/internal/simulator"
	"github.com/odinmarkets/dna-pipeline/internal/storage"
	"github.com/odinmarkets/dna-pipeline/internal/validator"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg)
	cfg.LogConfig(logger)

	workers := platform.WorkerBudget(cfg.MaxWorkers)
	logger.Info().Int("workers", workers).Msg("worker budget detected")

	store, err := storage.Open(context.Background(), cfg.StorageDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	session := broker.New(logger)
	if err := session.Connect(context.Background(), cfg.BrokerEndpoint, cfg.BrokerClientID); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer session.Disconnect()

	governor := ratelimit.New(logger, broker.NewSessionDispatcher(session), map[model.RequestKind]ratelimit.KindConfig{
		model.KindHistorical: {RatePerMin: cfg.HistoricalRatePerMin, MaxAttempts: cfg.MaxAttempts, Timeout: cfg.HistoricalTimeout},
		model.KindMarket:     {MaxConcurrent: cfg.MarketMaxConcurrent, MaxAttempts: cfg.MaxAttempts, Timeout: cfg.HistoricalTimeout},
		model.KindAccount:    {RatePerMin: cfg.AccountRatePerMin, MaxAttempts: cfg.MaxAttempts, Timeout: cfg.AccountTimeout},
		model.KindOrder:      {RatePerMin: cfg.OrderRatePerMin, MaxAttempts: cfg.MaxAttempts, Timeout: cfg.AccountTimeout},
	})
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	governor.Start(runCtx)
	defer governor.Stop()

	bv := validator.New(validator.DefaultConfig())
	ctv := validator.NewCrossTimeframe(validator.RefetchCoarser)
	engine := indicator.New()

	simCfg := simulator.DefaultConfig()
	simCfg.Quantity = cfg.Shares
	simCfg.ForceCloseOffset = time.Duration(cfg.ForceCloseMins) * time.Minute
	simCfg.TieBreak = model.TieBreakPolicy(cfg.TieBreak)
	if cfg.UseStopAbs {
		simCfg.DistanceMode = simulator.DistanceAbsolute
	} else {
		simCfg.DistanceMode = simulator.DistancePercent
	}
	simCfg.StopPercent, simCfg.StopAbs = cfg.StopPercent, cfg.StopAbsolute
	simCfg.TakePercent, simCfg.TakeAbs = cfg.TakePercent, cfg.TakeAbsolute

	var nc *nats.Conn
	if conn, err := nats.Connect(cfg.NATSUrl); err != nil {
		logger.Warn().Err(err).Msg("could not connect to NATS, run-lifecycle events will not be published")
	} else {
		nc = conn
		defer nc.Close()
	}

	orch := orchestrator.New(logger, orchestrator.Deps{
		Governor:   governor,
		Bars:       bv,
		CrossTF:    ctv,
		Store:      store,
		Indicators: engine,
		SimConfig:  simCfg,
		NATS:       nc,
		PlannerOpts: planner.Options{
			Strategy:          planner.StrategyMixed,
			MaxBarsPerRequest: 5000,
			SymbolParallelism: 4,
		},
		Workers:    workers,
		QueueDepth: 256,
	})
	// facade is the Core API surface REST/CLI collaborators would embed;
	// this binary doesn't mount a transport for it (REST/CLI is out of
	// scope here), so it's built but never called directly.
	facade := api.New(orch, store)
	_ = facade

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down metrics server")
	}
	cancelRun()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "dna-pipeline").Logger()
}
