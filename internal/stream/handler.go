// Package stream reacts to price bar change events: it recomputes the
// indicators of each touched bar over its own history and fills in the
// derived fields that are still missing.
//
// Writes go through SetIfAbsent only. The change event a write produces
// is handled like any other, finds nothing left to fill, and stops there.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"tradebot-signals/internal/indicator"
	"tradebot-signals/internal/logger"
	"tradebot-signals/internal/metrics"
	"tradebot-signals/internal/model"
	"tradebot-signals/internal/notification"
	"tradebot-signals/internal/planner"
)

// Dispatcher receives the report of every productive write.
type Dispatcher interface {
	Dispatch(alert notification.Alert)
}

// Options configures a Handler.
type Options struct {
	Workers    int // concurrent symbol groups; 0 = 8
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Handler processes batches of change events. The store it is given is
// expected to bound each call with a timeout (see store.Guarded).
type Handler struct {
	store   model.SeriesStore
	workers int
	notify  Dispatcher
	prom    *metrics.Metrics
	now     func() time.Time
}

// NewHandler creates a Handler over st.
func NewHandler(st model.SeriesStore, opts Options) *Handler {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		store:   st,
		workers: opts.Workers,
		notify:  opts.Dispatcher,
		prom:    opts.Metrics,
		now:     opts.Now,
	}
}

type outcome string

const (
	outcomeProcessed outcome = "processed"
	outcomeMalformed outcome = "malformed"
	outcomeRemoved   outcome = "removed"
	outcomeNotFound  outcome = "not_found"
	outcomeFailed    outcome = "failed"
)

// HandleBatch processes one batch. Events are grouped by symbol; groups
// run concurrently, events of one symbol strictly in arrival order.
//
// A transient store failure cancels the remaining work and is returned
// (errors.Is(err, model.ErrTransientStore) holds) so the caller leaves
// the batch for redelivery. Every other per-event problem is logged and
// the event skipped.
func (h *Handler) HandleBatch(ctx context.Context, batch []model.ChangeEvent) (model.BatchResult, error) {
	start := time.Now()
	ctx = logger.EnsureTraceID(ctx, "batch")

	var (
		mu  sync.Mutex
		res model.BatchResult
	)
	record := func(o outcome, wrote bool) {
		mu.Lock()
		defer mu.Unlock()
		if o == outcomeProcessed {
			res.Processed++
		} else {
			res.Skipped++
		}
		if wrote {
			res.Written++
		}
		if h.prom != nil {
			h.prom.EventsTotal.WithLabelValues(string(o)).Inc()
		}
	}

	valid := make([]model.ChangeEvent, 0, len(batch))
	for _, ev := range batch {
		ev.Normalize()
		if err := ev.Validate(); err != nil {
			slog.Warn("skipping malformed change event", append(logger.LogWithTrace(ctx), "error", err)...)
			record(outcomeMalformed, false)
			continue
		}
		valid = append(valid, ev)
	}

	groups := lo.GroupBy(valid, func(ev model.ChangeEvent) string { return ev.Symbol })
	symbols := lo.Uniq(lo.Map(valid, func(ev model.ChangeEvent, _ int) string { return ev.Symbol }))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for _, sym := range symbols {
		events := groups[sym]
		g.Go(func() error {
			for _, ev := range events {
				o, wrote, err := h.handleEvent(gctx, ev)
				if err != nil {
					return err
				}
				record(o, wrote)
			}
			return nil
		})
	}

	err := g.Wait()
	if h.prom != nil {
		h.prom.BatchDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if h.prom != nil {
			h.prom.BatchesTotal.WithLabelValues("aborted").Inc()
		}
		slog.Error("change batch aborted", append(logger.LogWithTrace(ctx), "events", len(batch), "error", err)...)
		return res, fmt.Errorf("handle batch: %w", err)
	}

	if h.prom != nil {
		h.prom.BatchesTotal.WithLabelValues("ok").Inc()
	}
	slog.Debug("change batch handled", append(logger.LogWithTrace(ctx),
		"processed", res.Processed, "skipped", res.Skipped, "written", res.Written)...)
	return res, nil
}

// handleEvent returns an error only when the batch must be abandoned.
func (h *Handler) handleEvent(ctx context.Context, ev model.ChangeEvent) (outcome, bool, error) {
	key := ev.Key()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(key.String(), h.now()))
	attrs := append(logger.LogWithTrace(ctx), "key", key.String(), "event_id", ev.EventID)

	if ev.Kind == model.EventRemove {
		return outcomeRemoved, false, nil
	}

	var current model.Derived
	if ev.Image != nil {
		current = ev.Image.Derived
	} else {
		bar, err := h.store.ReadBar(ctx, key)
		if o, abort := h.classify(ctx, err, attrs); abort != nil || o != "" {
			return o, false, abort
		}
		current = bar.Derived
	}

	series, err := h.store.ReadSeries(ctx, key.Symbol)
	if o, abort := h.classify(ctx, err, attrs); abort != nil || o != "" {
		return o, false, abort
	}
	idx := series.Index(key.TradedDate)
	if idx < 0 {
		slog.Info("bar not in series, skipping", attrs...)
		return outcomeNotFound, false, nil
	}

	computeStart := time.Now()
	computed := indicator.Compute(series[:idx+1])
	if h.prom != nil {
		h.prom.ComputeDur.Observe(time.Since(computeStart).Seconds())
	}

	plan := planner.PlanStream(current, computed)
	if plan.Empty() {
		return outcomeProcessed, false, nil
	}

	written, err := h.store.SetIfAbsent(ctx, key, plan)
	if o, abort := h.classify(ctx, err, attrs); abort != nil || o != "" {
		return o, false, abort
	}
	if len(written) == 0 {
		return outcomeProcessed, false, nil
	}

	h.afterWrite(ctx, series[idx], current, plan.Only(written), attrs)
	return outcomeProcessed, true, nil
}

// classify maps a store error to a skip outcome or a batch abort.
// A nil error yields neither.
func (h *Handler) classify(ctx context.Context, err error, attrs []any) (outcome, error) {
	switch {
	case err == nil:
		return "", nil
	case model.IsTransient(err), ctx.Err() != nil:
		return "", err
	case errors.Is(err, model.ErrBarNotFound):
		slog.Info("bar not found, skipping", attrs...)
		return outcomeNotFound, nil
	default:
		slog.Error("store error, skipping event", append(attrs, "error", err)...)
		return outcomeFailed, nil
	}
}

func (h *Handler) afterWrite(ctx context.Context, bar model.PriceBar, current, written model.Derived, attrs []any) {
	fields := written.Fields()
	slog.Info("derived fields written", append(attrs, "fields", fields)...)

	if h.prom != nil {
		h.prom.RowsWritten.Inc()
		for _, f := range fields {
			h.prom.FieldsWritten.WithLabelValues(string(f)).Inc()
		}
	}

	if err := h.store.Touch(ctx, h.now()); err != nil {
		slog.Warn("touch last-modified failed", append(attrs, "error", err)...)
	}

	if h.notify != nil {
		bar.Derived = current.FillAbsent(written)
		h.notify.Dispatch(notification.RenderReport(bar))
	}
}
