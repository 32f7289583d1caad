// Package postgres implements the price store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradebot-signals/internal/model"
	"tradebot-signals/internal/store"
)

const metaLastModified = "db_last_modified"

const selectBar = `SELECT symbol, traded_date, open, high, low, close, volume, ` + store.DerivedColumns + ` FROM price_bars`

// Store implements model.SeriesStore with PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ model.SeriesStore = (*Store)(nil)

// New wraps an open pool. Call RunMigrations first.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func scanBar(row pgx.Row) (model.PriceBar, error) {
	var b model.PriceBar
	var sc store.DerivedScanner
	dest := append([]any{&b.Symbol, &b.TradedDate, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume}, sc.Dest()...)
	if err := row.Scan(dest...); err != nil {
		return model.PriceBar{}, err
	}
	b.Derived = sc.Derived()
	return b, nil
}

func (s *Store) ReadSeries(ctx context.Context, symbol string) (model.Series, error) {
	rows, err := s.pool.Query(ctx, selectBar+` WHERE symbol = $1 ORDER BY traded_date ASC`, symbol)
	if err != nil {
		return nil, classify("reading series", err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, classify("scanning bar", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating series", err)
	}
	return model.NewSeries(bars), nil
}

func (s *Store) ReadBar(ctx context.Context, key model.BarKey) (model.PriceBar, error) {
	b, err := scanBar(s.pool.QueryRow(ctx,
		selectBar+` WHERE symbol = $1 AND traded_date = $2`, key.Symbol, key.TradedDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PriceBar{}, model.ErrBarNotFound
		}
		return model.PriceBar{}, classify("reading bar", err)
	}
	return b, nil
}

func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM price_bars ORDER BY symbol`)
	if err != nil {
		return nil, classify("listing symbols", err)
	}
	syms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("listing symbols", err)
	}
	return syms, nil
}

// SetIfAbsent locks the row, fills the absent fields and returns them.
func (s *Store) SetIfAbsent(ctx context.Context, key model.BarKey, upd model.Derived) ([]model.Field, error) {
	if upd.Empty() {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	var sc store.DerivedScanner
	err = tx.QueryRow(ctx,
		`SELECT `+store.DerivedColumns+` FROM price_bars WHERE symbol = $1 AND traded_date = $2 FOR UPDATE`,
		key.Symbol, key.TradedDate,
	).Scan(sc.Dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBarNotFound
		}
		return nil, classify("locking bar", err)
	}

	fields := store.Absent(sc.Derived(), upd)
	if len(fields) == 0 {
		return nil, nil
	}

	query, args := updateSQL(key, upd, fields)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, classify("setting derived fields", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("committing", err)
	}
	return fields, nil
}

func (s *Store) Overwrite(ctx context.Context, key model.BarKey, upd model.Derived) error {
	fields := upd.Fields()
	if len(fields) == 0 {
		return nil
	}
	query, args := updateSQL(key, upd, fields)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify("overwriting derived fields", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrBarNotFound
	}
	return nil
}

// updateSQL builds an UPDATE setting fields from upd. Rows are locked or
// the write is unconditional, so plain assignment is enough.
func updateSQL(key model.BarKey, upd model.Derived, fields []model.Field) (string, []any) {
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		args = append(args, store.FieldArg(upd, f))
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Column(), len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, key.Symbol, key.TradedDate)
	return fmt.Sprintf(`UPDATE price_bars SET %s WHERE symbol = $%d AND traded_date = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args)), args
}

func (s *Store) UpsertBar(ctx context.Context, bar model.PriceBar) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_bars (symbol, traded_date, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (symbol, traded_date) DO UPDATE SET
		   open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		   close = EXCLUDED.close, volume = EXCLUDED.volume, updated_at = NOW()`,
		bar.Symbol, bar.TradedDate, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	return classify("upserting bar", err)
}

func (s *Store) Touch(ctx context.Context, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO store_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		metaLastModified, at.UTC().Format(time.RFC3339Nano))
	return classify("touching meta", err)
}

func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM store_meta WHERE key = $1`, metaLastModified).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, classify("reading meta", err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last modified: %w", err)
	}
	return t, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// classify marks connection loss, timeouts, lock conflicts and server
// overload as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return model.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "53300", pgErr.Code == "57P03": // too many connections, cannot connect now
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
