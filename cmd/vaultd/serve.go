package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/epochvault/internal/config"
	"github.com/elys-network/epochvault/internal/engine"
	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/keeper"
	"github.com/elys-network/epochvault/internal/logger"
	"github.com/elys-network/epochvault/internal/metrics"
	"github.com/elys-network/epochvault/internal/state"
	"github.com/elys-network/epochvault/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the vault with its keeper, HTTP API and health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	// --- 1. Initialization Phase ---
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	log.Info().Str("mode", cfg.Mode).Msg("Vault daemon starting...")

	strategies, err := config.LoadStrategies(cfg.StrategyFile)
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(parent); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}

	params, err := loadActiveParams(parent, store, cfg.Params)
	if err != nil {
		return err
	}

	// --- 2. Vault Initialization ---
	sim, err := buildSimulation(strategies, cfg.Roles.Custody, time.Now)
	if err != nil {
		return fmt.Errorf("failed to build simulated strategies: %w", err)
	}

	collector := metrics.New(cfg.AssetDecimals)
	vault, err := engine.New(engine.Config{
		Params: params,
		Roles:  cfg.Roles,
		Bank:   sim.bank,
		Pooled: sim.pooledAccount(),
		Slots:  sim.slots,
		Events: events.Multi{store, collector, events.LogSink{Logger: logger.GetForComponent("event_log")}},
	})
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	k, err := keeper.New(keeper.Config{
		Vault:       vault,
		Recorder:    store,
		Observer:    collector,
		Operator:    cfg.Roles.Operator,
		Schedule:    cfg.KeeperSchedule,
		BeforeCycle: sim.advance,
	})
	if err != nil {
		return fmt.Errorf("failed to create keeper: %w", err)
	}

	// --- 3. Start Servers ---
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	webServer, err := web.NewWebServer(web.Config{
		Vault:         vault,
		Bank:          sim.bank,
		Store:         store,
		Metrics:       collector.Handler(),
		KeeperRunning: k.Running,
		Port:          cfg.WebPort,
	})
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	go func() {
		log.Info().Str("port", cfg.WebPort).Str("url", "http://localhost:"+cfg.WebPort).Msg("Starting vault HTTP API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
			stop()
		}
	}()

	health, err := newHealthServer(cfg.GRPCHealthPort)
	if err != nil {
		return err
	}
	go health.serve()

	// --- 4. Run Keeper ---
	health.setServing(true)
	log.Info().Msg("Keeper running. Press Ctrl+C to stop.")
	loopErr := k.RunLoop(ctx)
	health.setServing(false)

	// --- 5. Shutdown ---
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}
	health.stop()

	log.Info().Msg("Vault daemon stopped")
	return loopErr
}

// loadActiveParams prefers the stored active parameter set and seeds the
// store with the configured one when none exists.
func loadActiveParams(ctx context.Context, store *state.Store, configured engine.Params) (engine.Params, error) {
	active, err := store.ActiveParams(ctx, state.DefaultParamsConfig)
	if err == nil {
		log.Info().Int("version", active.Version).Msg("Using stored vault parameters")
		return active.Params, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return engine.Params{}, fmt.Errorf("failed to load active vault parameters: %w", err)
	}

	log.Warn().Msg("No active vault parameters stored, saving configured parameters.")
	if _, err := store.SaveParams(ctx, configured, state.DefaultParamsConfig, true); err != nil {
		return engine.Params{}, fmt.Errorf("failed to save initial vault parameters: %w", err)
	}
	return configured, nil
}
