package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradebot-signals/internal/model"
)

var handleFile string

var handleCmd = &cobra.Command{
	Use:   "handle",
	Short: "Run a JSON batch of change events through the stream handler once",
	Long: `Run a JSON array of change events through the stream handler, exactly as
the feed consumer would, and print the batch result.

Example:
  echo '[{"kind":"MODIFY","symbol":"AAPL","tradedDate":"2024-06-03"}]' | sigctl handle --file -`,
	RunE: runHandle,
}

func init() {
	handleCmd.Flags().StringVar(&handleFile, "file", "-", "JSON file to read, - for stdin")

	rootCmd.AddCommand(handleCmd)
}

func runHandle(cmd *cobra.Command, args []string) error {
	r, closeFn, err := openInput(cmd, handleFile)
	if err != nil {
		return err
	}
	defer closeFn()

	batch, err := readEvents(r)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Handler().HandleBatch(ctx, batch)
	svc.Dispatcher().Wait()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readEvents(r io.Reader) ([]model.ChangeEvent, error) {
	var batch []model.ChangeEvent
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return batch, nil
}
