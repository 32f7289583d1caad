package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-signals/internal/model"
	"tradebot-signals/internal/store/memstore"
	"tradebot-signals/internal/store/sqlite"
)

const sampleCSV = `symbol,traded_date,open,high,low,close,volume
aapl,2024-01-02,10,11,9,10.5,1000
AAPL, 2024-01-03 ,10.5,12,10,11.5,1200
`

func TestReadBarsCSV(t *testing.T) {
	bars, err := readBarsCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, "2024-01-03", bars[1].TradedDate)
	assert.Equal(t, 11.5, bars[1].Close)
	assert.Equal(t, 1200.0, bars[1].Volume)
}

func TestReadBarsCSV_ColumnOrder(t *testing.T) {
	in := "close,volume,symbol,traded_date,open,high,low\n5,1,MSFT,2024-01-02,4,6,3\n"
	bars, err := readBarsCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 5.0, bars[0].Close)
	assert.Equal(t, 3.0, bars[0].Low)
}

func TestReadBarsCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty input"},
		{"missing column", "symbol,traded_date,open,high,low,close\n", `missing column "volume"`},
		{"bad number", "symbol,traded_date,open,high,low,close,volume\nAAPL,2024-01-02,x,1,1,1,1\n", "line 2: open"},
		{"bad date", "symbol,traded_date,open,high,low,close,volume\nAAPL,02/01/2024,1,1,1,1,1\n", "line 2"},
		{"negative", "symbol,traded_date,open,high,low,close,volume\nAAPL,2024-01-02,1,1,-1,1,1\n", "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readBarsCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIngestBars_KeepsDerivedFields(t *testing.T) {
	mem := memstore.New()
	existing := model.PriceBar{Symbol: "AAPL", TradedDate: "2024-01-02", Close: 1}
	existing.SetNumber(model.FieldMA20, 9)
	mem.Seed(existing)

	bars, err := readBarsCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, ingestBars(context.Background(), mem, nil, bars))

	got, err := mem.ReadBar(context.Background(), model.BarKey{Symbol: "AAPL", TradedDate: "2024-01-02"})
	require.NoError(t, err)
	assert.Equal(t, 10.5, got.Close)
	assert.True(t, got.Has(model.FieldMA20))

	lastMod, err := mem.LastModified(context.Background())
	require.NoError(t, err)
	assert.False(t, lastMod.IsZero())
}

func TestIngestBars_Bulk(t *testing.T) {
	st, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "prices.db")})
	require.NoError(t, err)
	defer st.Close()

	bars, err := readBarsCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, ingestBars(context.Background(), st, st, bars))

	series, err := st.ReadSeries(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestReadEvents(t *testing.T) {
	batch, err := readEvents(strings.NewReader(`[{"kind":"MODIFY","symbol":"AAPL","tradedDate":"2024-01-02"}]`))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, model.EventModify, batch[0].Kind)

	_, err = readEvents(strings.NewReader(`{"symbol":"AAPL"}`))
	assert.Error(t, err)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_IngestBackfillHandle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "prices.db"))
	t.Setenv("REDIS_ENABLED", "false")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: warn\n"), 0o644))

	var csv strings.Builder
	csv.WriteString("symbol,traded_date,open,high,low,close,volume\n")
	today := time.Now().UTC()
	for i := 0; i < 30; i++ {
		c := 100 + float64(i)
		fmt.Fprintf(&csv, "AAPL,%s,%v,%v,%v,%v,1000\n",
			model.FormatTradedDate(today.AddDate(0, 0, i-29)), c, c+1, c-1, c)
	}

	out, err := execute(t, csv.String(), "--config", cfgPath, "ingest", "--file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 30 bars")

	out, err = execute(t, "", "--config", cfgPath, "backfill", "--symbol", "aapl", "--days", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "updatedCount=2")

	events := fmt.Sprintf(`[{"symbol":"AAPL","tradedDate":"%s"}]`, model.FormatTradedDate(today.AddDate(0, 0, -5)))
	out, err = execute(t, events, "--config", cfgPath, "handle", "--file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"processed": 1`)
	assert.Contains(t, out, `"written": 1`)

	out, err = execute(t, "", "--config", cfgPath, "symbols")
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "last modified")
}

func TestCLI_BackfillFlagValidation(t *testing.T) {
	_, err := execute(t, "", "backfill", "--symbol", "", "--days", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--symbol or --all")

	_, err = execute(t, "", "backfill", "--symbol", "AAPL", "--all", "--days", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot specify both")
	backfillAll = false
}
