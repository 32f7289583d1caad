package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine from concrete stores (SQLite,
// PostgreSQL) and from the change feed transport (Redis Streams).

// SeriesReader is the Series Accessor: read-only access to price bars.
type SeriesReader interface {
	// ReadSeries returns every bar for symbol, ascending by TradedDate,
	// without duplicate dates. An unknown symbol yields an empty Series.
	ReadSeries(ctx context.Context, symbol string) (Series, error)

	// ReadBar returns one bar. Returns ErrBarNotFound if it does not exist.
	ReadBar(ctx context.Context, key BarKey) (PriceBar, error)

	// ListSymbols returns every distinct symbol in the store.
	ListSymbols(ctx context.Context) ([]string, error)
}

// DerivedWriter writes derived indicator fields back onto bars.
type DerivedWriter interface {
	// SetIfAbsent sets each non-nil field of upd only where the stored
	// field is currently absent, atomically per row. It returns the fields
	// that were actually written; an empty result means no mutation.
	SetIfAbsent(ctx context.Context, key BarKey, upd Derived) ([]Field, error)

	// Overwrite unconditionally sets each non-nil field of upd.
	Overwrite(ctx context.Context, key BarKey, upd Derived) error
}

// SeriesStore is the full store port used by the engine and its tools.
type SeriesStore interface {
	SeriesReader
	DerivedWriter

	// UpsertBar inserts or replaces the raw OHLCV of a bar, leaving
	// derived fields untouched on an existing row.
	UpsertBar(ctx context.Context, bar PriceBar) error

	// Touch records the time of the last productive write so exporters
	// can detect new data.
	Touch(ctx context.Context, at time.Time) error

	// LastModified returns the time recorded by Touch, zero if never set.
	LastModified(ctx context.Context) (time.Time, error)

	// Close releases underlying resources.
	Close() error
}

// ChangePublisher emits change events onto the feed.
type ChangePublisher interface {
	// PublishChange appends one event to the change feed.
	PublishChange(ctx context.Context, ev ChangeEvent) error
}

// ChangeConsumer reads change events from the feed in batches with
// at-least-once delivery.
type ChangeConsumer interface {
	// EnsureGroup creates the consumer group if it does not exist.
	EnsureGroup(ctx context.Context) error

	// Consume blocks, handing each read batch to handle. A batch is
	// acknowledged only when handle returns nil. Returns when ctx is done.
	Consume(ctx context.Context, handle func(ctx context.Context, batch []ChangeEvent) error) error

	// Close releases underlying resources.
	Close() error
}
