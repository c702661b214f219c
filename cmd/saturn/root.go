package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/saturn/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "saturn",
	Short: "Mercator Saturn - request admission and rate-limiting runtime",
	Long: `Mercator Saturn is an open-source admission control runtime that puts
declarative rate limits in front of HTTP APIs.

It terminates HTTP requests ahead of your handlers, providing:
  - Per-group and per-operation rate limit declarations
  - Fixed-window, elastic-expiry and moving-window counting strategies
  - Memory, Redis and SQLite counter storage
  - Tier-based dynamic limits loaded from a watched file
  - A SQLite decision journal with scheduled retention

For more information, visit: https://github.com/mercator-hq/saturn`,
	Version: Version,
}

// Execute runs the root command. Configuration errors exit with code 2,
// other failures with code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
