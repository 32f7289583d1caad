package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used for TradedDate.
const DateLayout = "2006-01-02"

// BarKey identifies one PriceBar: one trading day for one instrument.
type BarKey struct {
	Symbol     string `json:"symbol"`
	TradedDate string `json:"tradedDate"`
}

// String returns "SYMBOL:YYYY-MM-DD".
func (k BarKey) String() string {
	return k.Symbol + ":" + k.TradedDate
}

// PriceBar is one day of OHLCV for one instrument plus any derived
// indicator fields already stored on the row.
type PriceBar struct {
	Symbol     string  `json:"symbol"`
	TradedDate string  `json:"tradedDate"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`

	Derived
}

// Key returns the bar's (symbol, tradedDate) key.
func (b *PriceBar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, TradedDate: b.TradedDate}
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *PriceBar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// ValidateOHLCV checks the raw fields of a bar before ingest.
func (b *PriceBar) ValidateOHLCV() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar: empty symbol")
	}
	if _, err := ParseTradedDate(b.TradedDate); err != nil {
		return fmt.Errorf("bar %s: %w", b.Symbol, err)
	}
	for name, v := range map[string]float64{
		"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("bar %s: %s must be a non-negative finite number, got %v", b.Key(), name, v)
		}
	}
	return nil
}

// ParseTradedDate parses a YYYY-MM-DD calendar date.
func ParseTradedDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid traded date %q: %w", s, err)
	}
	return t, nil
}

// FormatTradedDate formats t as a calendar date in t's location.
func FormatTradedDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Series is the ascending, date-ordered sequence of bars for one symbol.
type Series []PriceBar

// NewSeries sorts bars by TradedDate and drops duplicate dates,
// keeping the last occurrence of each.
func NewSeries(bars []PriceBar) Series {
	s := make(Series, len(bars))
	copy(s, bars)
	sort.SliceStable(s, func(i, j int) bool { return s[i].TradedDate < s[j].TradedDate })

	out := s[:0]
	for i := range s {
		if len(out) > 0 && out[len(out)-1].TradedDate == s[i].TradedDate {
			out[len(out)-1] = s[i]
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// PrefixThrough returns the bars dated on or before date.
// ISO dates order lexicographically, so a string comparison is enough.
func (s Series) PrefixThrough(date string) Series {
	n := sort.Search(len(s), func(i int) bool { return s[i].TradedDate > date })
	return s[:n]
}

// Index returns the position of the bar dated date, or -1.
func (s Series) Index(date string) int {
	i := sort.Search(len(s), func(i int) bool { return s[i].TradedDate >= date })
	if i < len(s) && s[i].TradedDate == date {
		return i
	}
	return -1
}

// Last returns the most recent bar. ok is false for an empty series.
func (s Series) Last() (PriceBar, bool) {
	if len(s) == 0 {
		return PriceBar{}, false
	}
	return s[len(s)-1], true
}

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Highs returns the high prices in order.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].High
	}
	return out
}

// Lows returns the low prices in order.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Low
	}
	return out
}
