package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradebot-signals/internal/model"
	"tradebot-signals/internal/store"
)

const selectBar = `SELECT symbol, traded_date, open, high, low, close, volume, ` + store.DerivedColumns + ` FROM price_bars`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBar(row rowScanner) (model.PriceBar, error) {
	var b model.PriceBar
	var sc store.DerivedScanner
	dest := append([]any{&b.Symbol, &b.TradedDate, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume}, sc.Dest()...)
	if err := row.Scan(dest...); err != nil {
		return model.PriceBar{}, err
	}
	b.Derived = sc.Derived()
	return b, nil
}

// ReadSeries reads every bar of symbol ordered by date ascending.
func (s *Store) ReadSeries(ctx context.Context, symbol string) (model.Series, error) {
	rows, err := s.db.QueryContext(ctx, selectBar+` WHERE symbol = ? ORDER BY traded_date ASC`, symbol)
	if err != nil {
		return nil, classify("read series", err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, classify("scan series", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read series", err)
	}
	return model.NewSeries(bars), nil
}

// ReadBar reads one bar.
func (s *Store) ReadBar(ctx context.Context, key model.BarKey) (model.PriceBar, error) {
	b, err := scanBar(s.db.QueryRowContext(ctx,
		selectBar+` WHERE symbol = ? AND traded_date = ?`, key.Symbol, key.TradedDate))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PriceBar{}, model.ErrBarNotFound
	}
	if err != nil {
		return model.PriceBar{}, classify("read bar", err)
	}
	return b, nil
}

// ListSymbols returns the distinct symbols, sorted.
func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM price_bars ORDER BY symbol`)
	if err != nil {
		return nil, classify("list symbols", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, classify("scan symbol", err)
		}
		out = append(out, sym)
	}
	return out, classify("list symbols", rows.Err())
}

// LastModified returns the time recorded by Touch, zero if never set.
func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, metaLastModified).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, classify("last modified", err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, classify("parse last modified", err)
	}
	return t, nil
}
