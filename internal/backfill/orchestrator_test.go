package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-signals/internal/indicator"
	"tradebot-signals/internal/model"
	"tradebot-signals/internal/planner"
	"tradebot-signals/internal/store/memstore"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func date(i int) string { return model.FormatTradedDate(day0.AddDate(0, 0, i)) }

func history(sym string, n int) []model.PriceBar {
	bars := make([]model.PriceBar, n)
	for i := range bars {
		c := 50 + float64(i%7)*1.5 + float64(i)*0.2
		bars[i] = model.PriceBar{Symbol: sym, TradedDate: date(i), Open: c, High: c + 2, Low: c - 2, Close: c, Volume: 500}
	}
	return bars
}

// clockAt returns a clock whose today is day0+i.
func clockAt(i int) func() time.Time {
	return func() time.Time { return day0.AddDate(0, 0, i).Add(15 * time.Hour) }
}

func TestWindowStart(t *testing.T) {
	assert.Equal(t, "2024-01-10", WindowStart(time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC), 1))
	assert.Equal(t, "2024-01-06", WindowStart(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 5))

	newYork := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2024-01-11", WindowStart(time.Date(2024, 1, 10, 21, 0, 0, 0, newYork), 1), "window follows the UTC date")
	tokyo := time.FixedZone("JST", 9*3600)
	assert.Equal(t, "2024-01-09", WindowStart(time.Date(2024, 1, 10, 8, 0, 0, 0, tokyo), 1))
}

func TestNew_DefaultClockIsUTC(t *testing.T) {
	o := New(memstore.New(), Options{})
	assert.Equal(t, time.UTC, o.now().Location())
}

func TestRun_RewritesWindowOnly(t *testing.T) {
	mem := memstore.New()
	bars := history("AAPL", 40)
	// A stale value inside the window must be replaced.
	bars[38].SetNumber(model.FieldMA20, -1)
	mem.Seed(bars...)

	o := New(mem, Options{Now: clockAt(39)})
	res, err := o.Run(context.Background(), Request{Symbol: "AAPL", Days: 3})
	require.NoError(t, err)
	assert.Equal(t, Result{Symbol: "AAPL", UpdatedCount: 3, Considered: 3}, res)

	ctx := context.Background()
	before, _ := mem.ReadBar(ctx, model.BarKey{Symbol: "AAPL", TradedDate: date(36)})
	assert.True(t, before.Empty(), "bars before the window are untouched")

	got, _ := mem.ReadBar(ctx, model.BarKey{Symbol: "AAPL", TradedDate: date(38)})
	ma, ok := got.Number(model.FieldMA20)
	require.True(t, ok)
	assert.NotEqual(t, -1.0, ma)
	assert.True(t, got.Has(model.FieldSignal))
}

func TestRun_NoLookahead(t *testing.T) {
	mem := memstore.New()
	bars := history("AAPL", 40)
	mem.Seed(bars...)

	_, err := New(mem, Options{Now: clockAt(39)}).Run(context.Background(), Request{Symbol: "AAPL", Days: 10})
	require.NoError(t, err)

	got, _ := mem.ReadBar(context.Background(), model.BarKey{Symbol: "AAPL", TradedDate: date(32)})
	want := planner.PlanOverwrite(indicator.Compute(model.NewSeries(bars[:33])))
	assert.Equal(t, want, got.Derived)
}

func TestRun_RowFailureContinues(t *testing.T) {
	mem := memstore.New()
	mem.Seed(history("AAPL", 30)...)
	mem.Fail = func(op string, key model.BarKey) error {
		if op == "Overwrite" && key.TradedDate == date(28) {
			return model.Transient("overwrite", errors.New("throttled"))
		}
		return nil
	}

	res, err := New(mem, Options{Now: clockAt(29)}).Run(context.Background(), Request{Symbol: "AAPL", Days: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Considered)
	assert.Equal(t, 2, res.UpdatedCount)
	assert.Equal(t, 1, res.Failed)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	mem := memstore.New()
	mem.Seed(history("AAPL", 30)...)

	res, err := New(mem, Options{Now: clockAt(29)}).Run(context.Background(), Request{Symbol: "aapl", Days: 5, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, 5, res.UpdatedCount)
	assert.True(t, res.DryRun)
	assert.Zero(t, mem.Mutations())
}

func TestRun_InvalidRequest(t *testing.T) {
	o := New(memstore.New(), Options{})
	_, err := o.Run(context.Background(), Request{Symbol: "AAPL", Days: 0})
	assert.Error(t, err)
	_, err = o.Run(context.Background(), Request{Days: 3})
	assert.Error(t, err)
}

func TestRunMany_AllSymbolsWhenEmpty(t *testing.T) {
	mem := memstore.New()
	mem.Seed(history("AAPL", 30)...)
	mem.Seed(history("MSFT", 30)...)
	mem.Fail = func(op string, key model.BarKey) error {
		if op == "ReadSeries" && key.Symbol == "MSFT" {
			return errors.New("corrupt")
		}
		return nil
	}

	results, err := New(mem, Options{Now: clockAt(29)}).RunMany(context.Background(), nil, 2, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "AAPL", results[0].Symbol)
	assert.Equal(t, 2, results[0].UpdatedCount)
	assert.Equal(t, "MSFT", results[1].Symbol)
	assert.NotEmpty(t, results[1].Error)
}
