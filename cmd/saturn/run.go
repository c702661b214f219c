package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/saturn/pkg/cli"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/server"
	"mercator-hq/saturn/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Saturn admission server",
	Long: `Start the Saturn admission server with the specified configuration.

The server listens on the configured address and admits or rejects requests
against the declared rate limits before they reach the protected handlers.

Examples:
  # Start with default config
  saturn run

  # Start with custom config
  saturn run --config /etc/saturn/config.yaml

  # Override listen address
  saturn run --listen 0.0.0.0:8080

  # Validate config without starting server
  saturn run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return cli.NewConfigError("logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	// Print startup banner
	printBanner(cfg)

	// Create the admission server. This wires storage, tiers and the
	// journal, so a failure here is a configuration or environment problem.
	srv, err := server.New(cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(context.Background())
	}()

	// Wait for server to be ready
	if err := waitForServerReady(cfg.Server.ListenAddress, 5*time.Second); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	if cfg.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for shutdown signal or server error. Start traps signals too,
	// so both paths converge on the same idempotent Shutdown.
	sigChan := cli.WaitForShutdown()

	select {
	case err := <-errChan:
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		fmt.Println("✓ Server stopped")
		return nil
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)

		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("shutdown failed", "error", err)
			return cli.NewCommandError("run", err)
		}

		fmt.Println("✓ Server stopped")
		return nil
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf("Mercator Saturn v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	slog.Debug("limiter configured",
		"storage_url", cfg.Limiter.StorageURL,
		"strategy", cfg.Limiter.Strategy,
		"default_limits", cfg.Limiter.DefaultLimits,
	)
	if cfg.Tiers.Enabled {
		slog.Debug("tiers enabled", "path", cfg.Tiers.Path, "watch", cfg.Tiers.Watch)
	}
	if cfg.Journal.Enabled {
		slog.Debug("journal enabled", "path", cfg.Journal.Path)
	}
}

func waitForServerReady(address string, timeout time.Duration) error {
	// Simple delay for MVP - in production this should poll the health endpoint
	time.Sleep(100 * time.Millisecond)
	return nil
}
