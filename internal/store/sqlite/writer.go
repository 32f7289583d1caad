package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tradebot-signals/internal/model"
	"tradebot-signals/internal/store"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const metaLastModified = "db_last_modified"

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/prices.db"
}

// Store is the SQLite price store. One connection serialises writers;
// WAL keeps readers of other processes unblocked.
type Store struct {
	db *sql.DB
}

var _ model.SeriesStore = (*Store)(nil)

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	dsn := cfg.DBPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			symbol      TEXT NOT NULL,
			traded_date TEXT NOT NULL,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			ma20        REAL,
			ma50        REAL,
			ma200       REAL,
			rsi14       REAL,
			macd        REAL,
			macd_signal REAL,
			macd_hist   REAL,
			atr14       REAL,
			signal      TEXT,
			confidence  TEXT,
			updated_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (symbol, traded_date)
		);

		CREATE TABLE IF NOT EXISTS store_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// UpsertBar inserts a bar or replaces its OHLCV. INSERT OR REPLACE would
// drop the derived columns, so this uses ON CONFLICT DO UPDATE instead.
func (s *Store) UpsertBar(ctx context.Context, bar model.PriceBar) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		bar.Symbol, bar.TradedDate, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, time.Now().Unix())
	return classify("upsert bar", err)
}

const upsertSQL = `
	INSERT INTO price_bars (symbol, traded_date, open, high, low, close, volume, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, traded_date) DO UPDATE SET
		open = excluded.open, high = excluded.high, low = excluded.low,
		close = excluded.close, volume = excluded.volume, updated_at = excluded.updated_at
`

// UpsertBars writes bars in a single transaction. Used by bulk ingest.
func (s *Store) UpsertBars(ctx context.Context, bars []model.PriceBar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		tx.Rollback()
		return classify("prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.TradedDate, b.Open, b.High, b.Low, b.Close, b.Volume, now); err != nil {
			tx.Rollback()
			return classify("upsert bars", err)
		}
	}
	return classify("commit", tx.Commit())
}

// SetIfAbsent fills the absent derived columns of one row inside an
// immediate transaction. COALESCE keeps the update a no-op for any column
// another writer filled in the meantime.
func (s *Store) SetIfAbsent(ctx context.Context, key model.BarKey, upd model.Derived) ([]model.Field, error) {
	if upd.Empty() {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	defer tx.Rollback()

	var sc store.DerivedScanner
	err = tx.QueryRowContext(ctx,
		`SELECT `+store.DerivedColumns+` FROM price_bars WHERE symbol = ? AND traded_date = ?`,
		key.Symbol, key.TradedDate,
	).Scan(sc.Dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrBarNotFound
	}
	if err != nil {
		return nil, classify("read derived", err)
	}

	fields := store.Absent(sc.Derived(), upd)
	if len(fields) == 0 {
		return nil, nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+3)
	for _, f := range fields {
		sets = append(sets, fmt.Sprintf("%[1]s = COALESCE(%[1]s, ?)", f.Column()))
		args = append(args, store.FieldArg(upd, f))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix(), key.Symbol, key.TradedDate)

	_, err = tx.ExecContext(ctx,
		`UPDATE price_bars SET `+strings.Join(sets, ", ")+` WHERE symbol = ? AND traded_date = ?`, args...)
	if err != nil {
		return nil, classify("set if absent", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit", err)
	}
	return fields, nil
}

// Overwrite sets every non-nil field of upd regardless of stored content.
func (s *Store) Overwrite(ctx context.Context, key model.BarKey, upd model.Derived) error {
	fields := upd.Fields()
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+3)
	for _, f := range fields {
		sets = append(sets, f.Column()+" = ?")
		args = append(args, store.FieldArg(upd, f))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix(), key.Symbol, key.TradedDate)

	res, err := s.db.ExecContext(ctx,
		`UPDATE price_bars SET `+strings.Join(sets, ", ")+` WHERE symbol = ? AND traded_date = ?`, args...)
	if err != nil {
		return classify("overwrite", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrBarNotFound
	}
	return nil
}

// Touch records the last productive write time.
func (s *Store) Touch(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, metaLastModified, at.UTC().Format(time.RFC3339Nano))
	return classify("touch", err)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify marks lock contention and connection loss as transient so the
// caller's redelivery retries them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return model.Transient(op, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return model.Transient(op, err)
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}
