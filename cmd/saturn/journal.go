package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/saturn/pkg/cli"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/journal"
	"mercator-hq/saturn/pkg/telemetry/logging"
)

var journalFlags struct {
	path   string
	limit  int
	days   int
	format string
	output string
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect and maintain the decision journal",
	Long: `Inspect and maintain the SQLite decision journal.

The journal records every admission decision the server makes: which
group and operation were checked, the partition key, whether the request
was admitted, and which limit was violated if not.

Examples:
  # Show the most recent decisions
  saturn journal recent --limit 50

  # Export decisions as JSON
  saturn journal recent --format json --output decisions.json

  # Delete records older than 30 days
  saturn journal cleanup --days 30`,
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent admission decisions",
	RunE:  journalRecent,
}

var journalCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete journal records older than the retention window",
	RunE:  journalCleanup,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRecentCmd, journalCleanupCmd)

	journalCmd.PersistentFlags().StringVar(&journalFlags.path, "path", "", "journal database path (uses config if not specified)")

	journalRecentCmd.Flags().IntVar(&journalFlags.limit, "limit", 100, "max results")
	journalRecentCmd.Flags().StringVar(&journalFlags.format, "format", "text", "output format: text, json")
	journalRecentCmd.Flags().StringVarP(&journalFlags.output, "output", "o", "", "output file (default: stdout)")

	journalCleanupCmd.Flags().IntVar(&journalFlags.days, "days", 0, "delete records older than this many days (uses config retention if not specified)")
}

// openJournal resolves the journal path from flags and config and opens it.
// The returned config is nil when --path bypassed the config file. CLI logs
// go to stderr so stdout stays clean for --output redirection.
func openJournal() (*journal.Journal, *config.Config, error) {
	var cfg *config.Config
	path := journalFlags.path
	if path == "" {
		loaded, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return nil, nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
		}
		if !loaded.Journal.Enabled {
			return nil, nil, cli.NewConfigError("journal.enabled", "journal is not enabled; pass --path to query a database directly")
		}
		cfg = loaded
		path = cfg.Journal.Path
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "text", Writer: os.Stderr})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	jcfg := journal.DefaultConfig()
	jcfg.Path = path
	if cfg != nil && cfg.Journal.BatchSize > 0 {
		jcfg.BatchSize = cfg.Journal.BatchSize
	}

	j, err := journal.Open(jcfg, logger)
	if err != nil {
		return nil, nil, cli.NewCommandError("journal", fmt.Errorf("failed to open journal: %w", err))
	}
	return j, cfg, nil
}

func journalRecent(cmd *cobra.Command, args []string) error {
	j, _, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.Recent(context.Background(), journalFlags.limit)
	if err != nil {
		return cli.NewCommandError("journal", fmt.Errorf("query failed: %w", err))
	}

	var output io.Writer = os.Stdout
	if journalFlags.output != "" {
		f, err := os.Create(journalFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	switch cli.OutputFormat(journalFlags.format) {
	case cli.FormatJSON:
		return cli.NewFormatter(cli.FormatJSON).FormatTo(output, records)
	case cli.FormatText:
		return outputJournalText(output, records)
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", journalFlags.format)
	}
}

func outputJournalText(output io.Writer, records []journal.Record) error {
	fmt.Fprintf(output, "Total records: %d\n", len(records))
	fmt.Fprintln(output)

	if len(records) == 0 {
		fmt.Fprintln(output, "No records found.")
		return nil
	}

	for i, record := range records {
		if i > 0 {
			fmt.Fprintln(output)
		}

		fmt.Fprintf(output, "Record ID: %s\n", record.ID)
		fmt.Fprintf(output, "Timestamp: %s\n", record.Time.Format(time.RFC3339))
		fmt.Fprintf(output, "Group: %s\n", record.Group)
		if record.Operation != "" {
			fmt.Fprintf(output, "Operation: %s\n", record.Operation)
		}
		if record.Key != "" {
			fmt.Fprintf(output, "Key: %s\n", record.Key)
		}
		if record.Allowed {
			fmt.Fprintln(output, "Decision: allowed")
		} else {
			fmt.Fprintln(output, "Decision: denied")
		}
		if record.Violated != "" {
			fmt.Fprintf(output, "Violated: %s\n", record.Violated)
		}
		if record.Error != "" {
			fmt.Fprintf(output, "Error: %s\n", record.Error)
		}
		fmt.Fprintf(output, "Duration: %s\n", record.Duration)
	}

	return nil
}

func journalCleanup(cmd *cobra.Command, args []string) error {
	j, cfg, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	days := journalFlags.days
	if days <= 0 && cfg != nil {
		days = cfg.Journal.Retention.Days
	}
	if days <= 0 {
		return cli.NewConfigError("journal.retention.days", "no retention window configured; pass --days")
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := j.CleanupBefore(context.Background(), cutoff)
	if err != nil {
		return cli.NewCommandError("journal", fmt.Errorf("cleanup failed: %w", err))
	}

	fmt.Printf("✓ Deleted %d records older than %d days\n", deleted, days)
	return nil
}
