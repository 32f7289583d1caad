// Package memstore is an in-memory model.SeriesStore. It backs tests and
// the dry-run mode of the CLI.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradebot-signals/internal/model"
)

// Store keeps bars in a map keyed by symbol then date.
type Store struct {
	mu      sync.Mutex
	bars    map[string]map[string]model.PriceBar
	lastMod time.Time

	// Fail, when set, is consulted before every operation; a non-nil
	// return is reported as that operation's error.
	Fail func(op string, key model.BarKey) error

	mutations int
}

var _ model.SeriesStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{bars: make(map[string]map[string]model.PriceBar)}
}

// Seed inserts bars as-is, derived fields included.
func (s *Store) Seed(bars ...model.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		s.put(b)
	}
}

// Mutations returns how many writes changed at least one stored value.
func (s *Store) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

func (s *Store) put(b model.PriceBar) {
	m, ok := s.bars[b.Symbol]
	if !ok {
		m = make(map[string]model.PriceBar)
		s.bars[b.Symbol] = m
	}
	m[b.TradedDate] = b
}

func (s *Store) check(ctx context.Context, op string, key model.BarKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Fail != nil {
		return s.Fail(op, key)
	}
	return nil
}

func (s *Store) ReadSeries(ctx context.Context, symbol string) (model.Series, error) {
	if err := s.check(ctx, "ReadSeries", model.BarKey{Symbol: symbol}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := make([]model.PriceBar, 0, len(s.bars[symbol]))
	for _, b := range s.bars[symbol] {
		bars = append(bars, b)
	}
	return model.NewSeries(bars), nil
}

func (s *Store) ReadBar(ctx context.Context, key model.BarKey) (model.PriceBar, error) {
	if err := s.check(ctx, "ReadBar", key); err != nil {
		return model.PriceBar{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bars[key.Symbol][key.TradedDate]
	if !ok {
		return model.PriceBar{}, model.ErrBarNotFound
	}
	return b, nil
}

func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	if err := s.check(ctx, "ListSymbols", model.BarKey{}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SetIfAbsent(ctx context.Context, key model.BarKey, upd model.Derived) ([]model.Field, error) {
	if err := s.check(ctx, "SetIfAbsent", key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bars[key.Symbol][key.TradedDate]
	if !ok {
		return nil, model.ErrBarNotFound
	}
	var written []model.Field
	for _, f := range upd.Fields() {
		if !b.Has(f) {
			written = append(written, f)
		}
	}
	if len(written) == 0 {
		return nil, nil
	}
	b.Derived = b.Derived.FillAbsent(upd)
	s.put(b)
	s.mutations++
	return written, nil
}

func (s *Store) Overwrite(ctx context.Context, key model.BarKey, upd model.Derived) error {
	if err := s.check(ctx, "Overwrite", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bars[key.Symbol][key.TradedDate]
	if !ok {
		return model.ErrBarNotFound
	}
	b.Derived = b.Derived.Overlay(upd)
	s.put(b)
	s.mutations++
	return nil
}

func (s *Store) UpsertBar(ctx context.Context, bar model.PriceBar) error {
	if err := s.check(ctx, "UpsertBar", bar.Key()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bars[bar.Symbol][bar.TradedDate]; ok {
		bar.Derived = existing.Derived
	} else {
		bar.Derived = model.Derived{}
	}
	s.put(bar)
	s.mutations++
	return nil
}

func (s *Store) Touch(ctx context.Context, at time.Time) error {
	if err := s.check(ctx, "Touch", model.BarKey{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastMod = at
	s.mu.Unlock()
	return nil
}

func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	if err := s.check(ctx, "LastModified", model.BarKey{}); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMod, nil
}

func (s *Store) Close() error { return nil }
