package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tradebot-signals/internal/model"
)

// ChangeFeed decorates a SeriesStore so that every productive mutation
// appends a ChangeEvent carrying the row's new image to the feed, the way
// a store with native change capture would. Writes that change nothing
// emit nothing.
type ChangeFeed struct {
	model.SeriesStore
	pub model.ChangePublisher
	seq atomic.Int64
	now func() time.Time
}

// NewChangeFeed wraps inner, publishing through pub.
func NewChangeFeed(inner model.SeriesStore, pub model.ChangePublisher) *ChangeFeed {
	return &ChangeFeed{SeriesStore: inner, pub: pub, now: time.Now}
}

func (c *ChangeFeed) SetIfAbsent(ctx context.Context, key model.BarKey, upd model.Derived) ([]model.Field, error) {
	written, err := c.SeriesStore.SetIfAbsent(ctx, key, upd)
	if err != nil || len(written) == 0 {
		return written, err
	}
	c.emit(ctx, model.EventModify, key)
	return written, nil
}

func (c *ChangeFeed) Overwrite(ctx context.Context, key model.BarKey, upd model.Derived) error {
	if err := c.SeriesStore.Overwrite(ctx, key, upd); err != nil {
		return err
	}
	if !upd.Empty() {
		c.emit(ctx, model.EventModify, key)
	}
	return nil
}

func (c *ChangeFeed) UpsertBar(ctx context.Context, bar model.PriceBar) error {
	_, readErr := c.SeriesStore.ReadBar(ctx, bar.Key())
	if err := c.SeriesStore.UpsertBar(ctx, bar); err != nil {
		return err
	}
	kind := model.EventModify
	if readErr != nil {
		kind = model.EventInsert
	}
	c.emit(ctx, kind, bar.Key())
	return nil
}

// emit publishes after the write committed. A publish failure is logged:
// the row is already correct and a later event or backfill covers it.
func (c *ChangeFeed) emit(ctx context.Context, kind model.EventKind, key model.BarKey) {
	ev := model.ChangeEvent{
		EventID:    fmt.Sprintf("%s-%d-%d", key, c.now().UnixNano(), c.seq.Add(1)),
		Kind:       kind,
		Symbol:     key.Symbol,
		TradedDate: key.TradedDate,
	}
	if bar, err := c.SeriesStore.ReadBar(ctx, key); err == nil {
		ev.Image = &bar
	}
	if err := c.pub.PublishChange(ctx, ev); err != nil {
		slog.Warn("change feed publish failed", "key", key.String(), "error", err)
	}
}
