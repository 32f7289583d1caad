package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tradebot-signals/internal/backfill"
	"tradebot-signals/internal/model"
)

var (
	backfillSymbol string
	backfillDays   int
	backfillAll    bool
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Recompute and overwrite derived fields for recent days",
	Long: `Recompute indicators and signals for the trailing window of days and
overwrite the stored values. Each bar is computed over its own history only.

Examples:
  # Rewrite the last 5 days of AAPL
  sigctl backfill --symbol AAPL --days 5

  # Rewrite the last 30 days of every symbol in the store
  sigctl backfill --all --days 30

  # Count what would be rewritten without writing
  sigctl backfill --all --days 30 --dry-run`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSymbol, "symbol", "", "Symbol to backfill (e.g., AAPL)")
	backfillCmd.Flags().IntVar(&backfillDays, "days", 5, "Number of trailing days to rewrite")
	backfillCmd.Flags().BoolVar(&backfillAll, "all", false, "Backfill every symbol (backfill.symbols, or all stored symbols)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Count rows without writing")

	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if !backfillAll && backfillSymbol == "" {
		return fmt.Errorf("either --symbol or --all must be specified")
	}
	if backfillAll && backfillSymbol != "" {
		return fmt.Errorf("cannot specify both --symbol and --all")
	}
	if backfillDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var results []backfill.Result
	if backfillAll {
		results, err = svc.Backfill().RunMany(ctx, cfg.Backfill.Symbols, backfillDays, backfillDryRun)
	} else {
		var res backfill.Result
		res, err = svc.Backfill().Run(ctx, backfill.Request{
			Symbol: model.NormalizeSymbol(backfillSymbol),
			Days:   backfillDays,
			DryRun: backfillDryRun,
		})
		results = []backfill.Result{res}
	}
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	printResults(cmd.OutOrStdout(), results)
	return nil
}

func printResults(w io.Writer, results []backfill.Result) {
	fmt.Fprintf(w, "%-12s %10s %8s %8s  %s\n", "Symbol", "Considered", "Updated", "Failed", "Error")
	fmt.Fprintln(w, strings.Repeat("-", 56))
	total := 0
	for _, r := range results {
		fmt.Fprintf(w, "%-12s %10d %8d %8d  %s\n", r.Symbol, r.Considered, r.UpdatedCount, r.Failed, r.Error)
		total += r.UpdatedCount
	}
	suffix := ""
	if backfillDryRun {
		suffix = " (dry run)"
	}
	fmt.Fprintf(w, "\nupdatedCount=%d%s\n", total, suffix)
}
