// Siccd is the tenant-isolated conversation and continuous-learning
// daemon.
//
// It serves the turn API for the messaging gateway, runs the memory decay
// sweeper in the background and consumes conversation-close events for the
// learning pipeline.
//
// Usage:
//
//	# Start with the default config file (~/.config/siccd/config.yaml)
//	siccd serve
//
//	# Start with an explicit config file
//	siccd serve --config ./config.yaml
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/logging"
	"github.com/brisaai/sicc/internal/telemetry"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "siccd",
	Short:   "Tenant-isolated conversation memory and learning daemon",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the siccd daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Underlying().Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return run(ctx, cfg, logger.Underlying())
}

// run wires all services and blocks until the context is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRate:  cfg.Telemetry.SampleRate,
		ServiceName: cfg.Telemetry.ServiceName,
	}, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("starting siccd",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("tenants", len(cfg.Tenants)),
	)

	go deps.sweeper.Run(ctx)

	if err := deps.consumer.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := deps.server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
