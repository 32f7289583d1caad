// Package backfill recomputes the derived fields of a trailing window of
// days and overwrites them unconditionally. Each bar is computed over its
// own history prefix, never over later bars.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradebot-signals/internal/indicator"
	"tradebot-signals/internal/metrics"
	"tradebot-signals/internal/model"
	"tradebot-signals/internal/planner"
)

// Request selects one symbol and the number of trailing days to rewrite.
type Request struct {
	Symbol string `json:"symbol"`
	Days   int    `json:"days"`
	DryRun bool   `json:"dryRun,omitempty"`
}

// Result reports what a run did.
type Result struct {
	Symbol       string `json:"symbol"`
	UpdatedCount int    `json:"updatedCount"`
	Considered   int    `json:"considered"`
	Failed       int    `json:"failed"`
	DryRun       bool   `json:"dryRun,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Workers int // symbols processed concurrently by RunMany; 0 = 4
	Metrics *metrics.Metrics
	Now     func() time.Time // nil = UTC wall clock
}

// Orchestrator runs backfills against a store.
type Orchestrator struct {
	store   model.SeriesStore
	workers int
	prom    *metrics.Metrics
	now     func() time.Time
}

// New creates an Orchestrator.
func New(st model.SeriesStore, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{store: st, workers: opts.Workers, prom: opts.Metrics, now: opts.Now}
}

// WindowStart returns the first date inside a window of days ending on the
// UTC date of today.
func WindowStart(today time.Time, days int) string {
	return model.FormatTradedDate(today.UTC().AddDate(0, 0, -(days - 1)))
}

// Run rewrites every bar of req.Symbol dated on or after today-(Days-1).
// Per-row write failures are logged and counted; the run continues.
// An error is returned only when the series cannot be read.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	req.Symbol = model.NormalizeSymbol(req.Symbol)
	res := Result{Symbol: req.Symbol, DryRun: req.DryRun}
	if req.Symbol == "" {
		return res, fmt.Errorf("backfill: symbol is required")
	}
	if req.Days < 1 {
		return res, fmt.Errorf("backfill %s: days must be at least 1, got %d", req.Symbol, req.Days)
	}
	if o.prom != nil {
		o.prom.BackfillRuns.Inc()
	}

	series, err := o.store.ReadSeries(ctx, req.Symbol)
	if err != nil {
		return res, fmt.Errorf("backfill %s: read series: %w", req.Symbol, err)
	}

	start := WindowStart(o.now(), req.Days)
	for i, bar := range series {
		if bar.TradedDate < start {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Considered++

		plan := planner.PlanOverwrite(indicator.Compute(series[:i+1]))
		if req.DryRun {
			res.UpdatedCount++
			continue
		}

		if err := o.store.Overwrite(ctx, bar.Key(), plan); err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			res.Failed++
			o.count("failed")
			slog.Warn("backfill row failed", "key", bar.Key().String(), "error", err)
			continue
		}
		res.UpdatedCount++
		o.count("updated")
	}

	if res.UpdatedCount > 0 && !req.DryRun {
		if err := o.store.Touch(ctx, o.now()); err != nil {
			slog.Warn("touch last-modified failed", "symbol", req.Symbol, "error", err)
		}
	}

	slog.Info("backfill finished",
		"symbol", req.Symbol, "days", req.Days, "window_start", start,
		"considered", res.Considered, "updated", res.UpdatedCount, "failed", res.Failed, "dry_run", req.DryRun)
	return res, nil
}

// RunMany backfills symbols concurrently. An empty list means every symbol
// in the store. A symbol whose run fails is reported through Result.Error
// and does not stop the others.
func (o *Orchestrator) RunMany(ctx context.Context, symbols []string, days int, dryRun bool) ([]Result, error) {
	if len(symbols) == 0 {
		all, err := o.store.ListSymbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("backfill: list symbols: %w", err)
		}
		symbols = all
	}

	results := make([]Result, len(symbols))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			res, err := o.Run(gctx, Request{Symbol: sym, Days: days, DryRun: dryRun})
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				res.Error = err.Error()
				slog.Error("backfill symbol failed", "symbol", sym, "error", err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) count(outcome string) {
	if o.prom != nil {
		o.prom.BackfillRows.WithLabelValues(outcome).Inc()
	}
}
