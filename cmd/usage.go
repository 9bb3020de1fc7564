package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samsaffron/nvim-llm/internal/usage"
	"github.com/spf13/cobra"
)

var (
	usageDays int
	usageJSON bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage per provider",
	Long: `Summarize the token usage ledger written for applied jobs.
Usage logging is enabled with usage.enabled in the config file.`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().IntVar(&usageDays, "days", 30, "Number of days to include (0 for all)")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var since time.Time
	if usageDays > 0 {
		since = time.Now().AddDate(0, 0, -usageDays)
	}
	entries, err := usage.NewLogger(cfg.Usage.Dir).Load(since)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}
	totals := usage.Summarize(entries)

	out := cmd.OutOrStdout()
	if usageJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(totals)
	}
	if len(totals) == 0 {
		if !cfg.Usage.Enabled {
			fmt.Fprintln(out, "No usage recorded. Set usage.enabled: true to start recording.")
		} else {
			fmt.Fprintln(out, "No usage recorded.")
		}
		return nil
	}

	fmt.Fprintf(out, "%-20s %6s %12s %12s\n", "Provider", "Jobs", "Input", "Output")
	fmt.Fprintln(out, strings.Repeat("-", 53))
	var sum usage.Totals
	for _, t := range totals {
		fmt.Fprintf(out, "%-20s %6d %12d %12d\n", t.Provider, t.Jobs, t.InputTokens, t.OutputTokens)
		sum.Jobs += t.Jobs
		sum.InputTokens += t.InputTokens
		sum.OutputTokens += t.OutputTokens
	}
	if len(totals) > 1 {
		fmt.Fprintln(out, strings.Repeat("-", 53))
		fmt.Fprintf(out, "%-20s %6d %12d %12d\n", "total", sum.Jobs, sum.InputTokens, sum.OutputTokens)
	}
	return nil
}
