// Package store holds the pieces shared by every price store adapter:
// a guard that bounds each call with a timeout and a circuit breaker,
// a decorator that emits change events after productive writes, and
// the derived-column scanner used by the SQL adapters.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tradebot-signals/internal/model"
)

const defaultTimeout = 5 * time.Second

// GuardConfig configures a Guarded store.
type GuardConfig struct {
	Timeout          time.Duration // per call; 0 = 5s
	BreakerFailures  int           // consecutive transient failures before opening; 0 = 5
	BreakerResetTime time.Duration // open duration before a half-open probe; 0 = 10s
	OnStateChange    func(from, to State)
}

// Guarded wraps a SeriesStore so every call has a bounded timeout and
// runs through a circuit breaker. Timeouts and an open circuit surface
// as model.ErrTransientStore.
type Guarded struct {
	inner   model.SeriesStore
	timeout time.Duration
	breaker *CircuitBreaker
}

var _ model.SeriesStore = (*Guarded)(nil)

// NewGuarded creates a Guarded store around inner.
func NewGuarded(inner model.SeriesStore, cfg GuardConfig) *Guarded {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerResetTime <= 0 {
		cfg.BreakerResetTime = 10 * time.Second
	}
	cb := NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerResetTime)
	cb.Trips = model.IsTransient
	cb.OnStateChange = func(from, to State) {
		slog.Warn("store circuit breaker transition", "from", from.String(), "to", to.String())
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(from, to)
		}
	}
	return &Guarded{inner: inner, timeout: cfg.Timeout, breaker: cb}
}

// Breaker exposes the circuit breaker for health reporting.
func (g *Guarded) Breaker() *CircuitBreaker { return g.breaker }

// Inner returns the wrapped store.
func (g *Guarded) Inner() model.SeriesStore { return g.inner }

func (g *Guarded) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && !model.IsTransient(err) && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return model.Transient(op, err)
		}
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return model.Transient(op, err)
	}
	return err
}

func (g *Guarded) ReadSeries(ctx context.Context, symbol string) (model.Series, error) {
	var out model.Series
	err := g.do(ctx, "read series", func(ctx context.Context) error {
		var err error
		out, err = g.inner.ReadSeries(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) ReadBar(ctx context.Context, key model.BarKey) (model.PriceBar, error) {
	var out model.PriceBar
	err := g.do(ctx, "read bar", func(ctx context.Context) error {
		var err error
		out, err = g.inner.ReadBar(ctx, key)
		return err
	})
	return out, err
}

func (g *Guarded) ListSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := g.do(ctx, "list symbols", func(ctx context.Context) error {
		var err error
		out, err = g.inner.ListSymbols(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) SetIfAbsent(ctx context.Context, key model.BarKey, upd model.Derived) ([]model.Field, error) {
	var out []model.Field
	err := g.do(ctx, "set if absent", func(ctx context.Context) error {
		var err error
		out, err = g.inner.SetIfAbsent(ctx, key, upd)
		return err
	})
	return out, err
}

func (g *Guarded) Overwrite(ctx context.Context, key model.BarKey, upd model.Derived) error {
	return g.do(ctx, "overwrite", func(ctx context.Context) error {
		return g.inner.Overwrite(ctx, key, upd)
	})
}

func (g *Guarded) UpsertBar(ctx context.Context, bar model.PriceBar) error {
	return g.do(ctx, "upsert bar", func(ctx context.Context) error {
		return g.inner.UpsertBar(ctx, bar)
	})
}

func (g *Guarded) Touch(ctx context.Context, at time.Time) error {
	return g.do(ctx, "touch", func(ctx context.Context) error {
		return g.inner.Touch(ctx, at)
	})
}

func (g *Guarded) LastModified(ctx context.Context) (time.Time, error) {
	var out time.Time
	err := g.do(ctx, "last modified", func(ctx context.Context) error {
		var err error
		out, err = g.inner.LastModified(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) Close() error { return g.inner.Close() }
