package indicator

import (
	"math"
	"math/rand"
	"testing"

	"tradebot-signals/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func ramp(from, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func seriesFromCloses(closes []float64) model.Series {
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = model.PriceBar{
			Symbol:     "TEST",
			TradedDate: model.FormatTradedDate(day0.AddDate(0, 0, i)),
			Open:       c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		}
	}
	return model.Series(bars)
}

// ────────────────────────────────────────────────────────────
// MA
// ────────────────────────────────────────────────────────────

func TestMA_Basic(t *testing.T) {
	v, ok := MA([]float64{1, 2, 3, 4, 5}, 5)
	if !ok {
		t.Fatal("MA([1..5],5) should be defined")
	}
	assertClose(t, "MA(5)", v, 3.0, 1e-12)

	if _, ok := MA([]float64{1, 2, 3, 4}, 5); ok {
		t.Error("MA([1..4],5) should be undefined")
	}
}

func TestMA_UsesLastPeriodValues(t *testing.T) {
	// Prices: 10, 11, 12, 13, 14, 15, 16
	// MA(5) over the last five: (12+13+14+15+16)/5 = 14.0
	v, ok := MA(ramp(10, 1, 7), 5)
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "MA(5)", v, 14.0, 1e-12)
}

func TestMA_DefinedIffEnoughValues(t *testing.T) {
	for n := 0; n <= 25; n++ {
		_, ok := MA(ramp(1, 1, n), 20)
		if ok != (n >= 20) {
			t.Errorf("len=%d: defined=%v, want %v", n, ok, n >= 20)
		}
	}
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): k = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Seed after 3 values: (100+102+104)/3 = 102.0
	// Value 4: (103-102.0)*0.5 + 102.0 = 102.5
	// Value 5: (105-102.5)*0.5 + 102.5 = 103.75
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}

	for i := range prices {
		v, ok := EMA(prices[:i+1], 3)
		if ok != (i >= 2) {
			t.Fatalf("len=%d: defined=%v", i+1, ok)
		}
		if ok {
			assertClose(t, "EMA(3)", v, expected[i], 1e-9)
		}
	}
}

func TestEMAState_MatchesBatch(t *testing.T) {
	prices := ramp(50, 0.7, 40)
	e := NewEMAState(12)
	for i, p := range prices {
		e.Update(p)
		got, ok := e.Value()
		want, wok := EMA(prices[:i+1], 12)
		if ok != wok {
			t.Fatalf("i=%d: ready mismatch %v vs %v", i, ok, wok)
		}
		if ok {
			assertClose(t, "streaming vs batch", got, want, 1e-9)
		}
	}

	e.Reset()
	if e.Ready() {
		t.Error("Reset should clear readiness")
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Closes: 44.00, 44.34, 44.09, 43.61, 44.33, 44.83
	// Deltas: +0.34, -0.25, -0.48, +0.72, +0.50
	// avgGain = (0.34+0.72+0.50)/5 = 0.312
	// avgLoss = (0.25+0.48)/5      = 0.146
	// RS  = 0.312/0.146 = 2.136986
	// RSI = 100 - 100/(1+2.136986) = 68.12227
	v, ok := RSI([]float64{44.00, 44.34, 44.09, 43.61, 44.33, 44.83}, 5)
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "RSI(5)", v, 68.12227, 0.0001)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	// 10, 11, ..., 24 (15 points)
	v, ok := RSI(ramp(10, 1, 15), 14)
	if !ok {
		t.Fatal("expected defined with 15 points")
	}
	assertClose(t, "RSI rising", v, 100.0, 1e-12)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	// 24, 23, ..., 10 (15 points)
	v, ok := RSI(ramp(24, -1, 15), 14)
	if !ok {
		t.Fatal("expected defined with 15 points")
	}
	assertClose(t, "RSI falling", v, 0.0, 1e-12)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// No losses at all, so the avgLoss == 0 branch applies.
	v, ok := RSI(ramp(50, 0, 20), 14)
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "RSI flat", v, 100.0, 1e-12)
}

func TestRSI_UndefinedBelowPeriodPlusOne(t *testing.T) {
	if _, ok := RSI(ramp(10, 1, 14), 14); ok {
		t.Error("14 points should be undefined for RSI14")
	}
}

func TestRSI_AlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 15 + r.Intn(50)
		prices := make([]float64, n)
		p := 100.0
		for i := range prices {
			p += r.NormFloat64() * 2
			prices[i] = math.Abs(p)
		}
		v, ok := RSI(prices, 14)
		if !ok {
			t.Fatalf("trial %d: expected defined", trial)
		}
		if v < 0 || v > 100 {
			t.Fatalf("trial %d: RSI out of range: %f", trial, v)
		}
	}
}

// ────────────────────────────────────────────────────────────
// ATR
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period2(t *testing.T) {
	// Day 1: max(11-10, |11-9.5|, |10-9.5|)  = 1.5
	// Day 2: max(12-10, |12-10.5|, |10-10.5|) = 2.0
	// ATR(2) = (1.5+2.0)/2 = 1.75
	highs := []float64{10, 11, 12}
	lows := []float64{9, 10, 10}
	closes := []float64{9.5, 10.5, 11}

	v, ok := ATR(highs, lows, closes, 2)
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "ATR(2)", v, 1.75, 1e-12)

	if _, ok := ATR(highs[:2], lows[:2], closes[:2], 2); ok {
		t.Error("2 bars should be undefined for ATR(2)")
	}
	if _, ok := ATR(highs, lows[:2], closes, 2); ok {
		t.Error("mismatched lengths should be undefined")
	}
}

func TestATR_GapUsesPreviousClose(t *testing.T) {
	// Gap up: range 1 but distance from previous close 6.
	v, ok := ATR([]float64{10, 16}, []float64{9, 15}, []float64{10, 15.5}, 1)
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "ATR gap", v, 6.0, 1e-12)
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_NeedsNineLineValues(t *testing.T) {
	// EMA26 is first defined at 26 values; nine line values need 34.
	if _, ok := MACD(ramp(100, 1, 33)); ok {
		t.Error("33 values should be undefined")
	}
	if _, ok := MACD(ramp(100, 1, 34)); !ok {
		t.Error("34 values should be defined")
	}
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	m, ok := MACD(ramp(100, 0, 60))
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "line", m.Line, 0, 1e-12)
	assertClose(t, "signal", m.Signal, 0, 1e-12)
	assertClose(t, "hist", m.Hist, 0, 1e-12)
}

func TestMACD_MatchesPrefixRecompute(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	prices := make([]float64, 80)
	p := 200.0
	for i := range prices {
		p += r.NormFloat64()
		prices[i] = p
	}

	// Reference: rebuild the MACD-line series from every prefix.
	var lineSeries []float64
	for i := range prices {
		f, fok := EMA(prices[:i+1], MACDFast)
		s, sok := EMA(prices[:i+1], MACDSlow)
		if fok && sok {
			lineSeries = append(lineSeries, f-s)
		}
	}
	wantSignal, ok := EMA(lineSeries, MACDSignal)
	if !ok {
		t.Fatal("reference signal undefined")
	}
	wantLine := lineSeries[len(lineSeries)-1]

	got, ok := MACD(prices)
	if !ok {
		t.Fatal("expected defined")
	}
	assertClose(t, "line", got.Line, wantLine, 1e-9)
	assertClose(t, "signal", got.Signal, wantSignal, 1e-9)
	assertClose(t, "hist", got.Hist, wantLine-wantSignal, 1e-9)
}

func TestMACD_TrendingUpIsPositive(t *testing.T) {
	m, ok := MACD(ramp(100, 2, 60))
	if !ok {
		t.Fatal("expected defined")
	}
	if m.Line <= 0 {
		t.Errorf("uptrend MACD line should be positive, got %f", m.Line)
	}
}

// ────────────────────────────────────────────────────────────
// Non-finite input
// ────────────────────────────────────────────────────────────

func TestNonFiniteInputIsUndefined(t *testing.T) {
	vals := ramp(1, 1, 25)
	vals[24] = math.NaN()
	if _, ok := MA(vals, 20); ok {
		t.Error("NaN input should make MA undefined")
	}
	vals[24] = math.Inf(1)
	if _, ok := EMA(vals, 20); ok {
		t.Error("Inf input should make EMA undefined")
	}
}
