package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mtcforge/mtcagent/internal/adapter"
	"github.com/mtcforge/mtcagent/internal/agent"
	"github.com/mtcforge/mtcagent/internal/config"
	"github.com/mtcforge/mtcagent/internal/eventbus"
	"github.com/mtcforge/mtcagent/internal/server"
	"github.com/mtcforge/mtcagent/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent: connect adapters and serve MTConnect requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	log, err := buildLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := config.Initialize(configPath); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "mtcagent", Version); err != nil {
		log.Warn("telemetry init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	a, err := agent.New(cfg, log)
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	registerHandlers(a, log)

	srv := server.NewServer(a, cfg.Listen, log)
	log.Info("starting agent",
		zap.String("listen", cfg.Listen),
		zap.Int("buffer_size", cfg.BufferSize),
		zap.Int("asset_buffer_size", cfg.AssetBufferSize),
		zap.Int("adapters", len(cfg.Adapters)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	for _, ad := range cfg.Adapters {
		client := adapter.New(ad.Addr(), ad.Device, ad.Heartbeat,
			adapter.HandlerFunc(a.HandleLine), log)
		g.Go(func() error {
			return client.Run(gctx)
		})
	}
	if cfg.DevicesFile != "" {
		g.Go(func() error {
			return a.WatchDevicesFile(gctx, cfg.DevicesFile)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("agent stopped")
	return nil
}

// registerHandlers wires the eventbus subscribers: telemetry counters
// always, debug logging when verbose.
func registerHandlers(a *agent.Agent, log *zap.Logger) {
	metrics, err := eventbus.NewMetricsHandler(telemetry.Meter(""))
	if err != nil {
		log.Warn("metrics handler unavailable", zap.Error(err))
	} else {
		a.Bus.Register(metrics)
	}
	if verboseFlag {
		a.Bus.Register(eventbus.NewDebugHandler(log))
	}
}

func buildLogger() (*zap.Logger, error) {
	if verboseFlag {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
