package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List stored symbols and the last data change",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		symbols, err := svc.Store().ListSymbols(ctx)
		if err != nil {
			return fmt.Errorf("list symbols: %w", err)
		}
		lastMod, err := svc.Store().LastModified(ctx)
		if err != nil {
			return fmt.Errorf("last modified: %w", err)
		}

		w := cmd.OutOrStdout()
		for _, s := range symbols {
			fmt.Fprintln(w, s)
		}
		if lastMod.IsZero() {
			fmt.Fprintf(w, "\n%d symbols, never modified\n", len(symbols))
		} else {
			fmt.Fprintf(w, "\n%d symbols, last modified %s\n", len(symbols), lastMod.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
}
