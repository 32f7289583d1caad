package commands

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradebot-signals/internal/model"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Upsert raw OHLCV bars from a CSV file",
	Long: `Upsert raw OHLCV bars from a CSV file. Existing derived fields are kept.

The file needs a header row with the columns
  symbol, traded_date, open, high, low, close, volume
in any order. With the Redis feed enabled every row is published as a
change event, so a running engine computes its indicators.

Examples:
  sigctl ingest --file bars.csv
  cat bars.csv | sigctl ingest --file -`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "CSV file to read, - for stdin")
	ingestCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(ingestCmd)
}

// bulkUpserter is implemented by stores with a batched write path.
type bulkUpserter interface {
	UpsertBars(ctx context.Context, bars []model.PriceBar) error
}

func runIngest(cmd *cobra.Command, args []string) error {
	r, closeFn, err := openInput(cmd, ingestFile)
	if err != nil {
		return err
	}
	defer closeFn()

	bars, err := readBarsCSV(r)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	st := svc.Store()
	var bulk bulkUpserter
	if !cfg.Redis.Enabled {
		bulk, _ = svc.RawStore().(bulkUpserter)
	}
	if err := ingestBars(ctx, st, bulk, bars); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d bars\n", len(bars))
	return nil
}

// ingestBars writes bars through st, or in one batch through bulk when
// no change events are needed.
func ingestBars(ctx context.Context, st model.SeriesStore, bulk bulkUpserter, bars []model.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	if bulk != nil {
		if err := bulk.UpsertBars(ctx, bars); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	} else {
		for _, b := range bars {
			if err := st.UpsertBar(ctx, b); err != nil {
				return fmt.Errorf("ingest %s: %w", b.Key(), err)
			}
		}
	}
	if err := st.Touch(ctx, time.Now()); err != nil {
		slog.Warn("touch last-modified failed", "error", err)
	}
	return nil
}

var csvColumns = []string{"symbol", "traded_date", "open", "high", "low", "close", "volume"}

// readBarsCSV parses a headed CSV of OHLCV rows. Symbols are upper-cased
// and every row is validated.
func readBarsCSV(r io.Reader) ([]model.PriceBar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: empty input")
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("csv header: missing column %q", c)
		}
	}

	var bars []model.PriceBar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		var nums [5]float64
		for i, c := range csvColumns[2:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[c]]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: %s: %w", line, c, err)
			}
			nums[i] = v
		}
		bar := model.PriceBar{
			Symbol:     model.NormalizeSymbol(rec[idx["symbol"]]),
			TradedDate: strings.TrimSpace(rec[idx["traded_date"]]),
			Open:       nums[0],
			High:       nums[1],
			Low:        nums[2],
			Close:      nums[3],
			Volume:     nums[4],
		}
		if err := bar.ValidateOHLCV(); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// openInput opens path, or the command's stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
