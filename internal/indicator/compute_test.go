package indicator

import (
	"testing"
	"time"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCompute_ShortHistory(t *testing.T) {
	in := Compute(seriesFromCloses(ramp(100, 1, 19)))

	if in.MA20.OK || in.MA50.OK || in.MA200.OK {
		t.Error("moving averages should be undefined with 19 bars")
	}
	if in.MACD.OK || in.MACDSignal.OK || in.MACDHist.OK {
		t.Error("MACD should be undefined with 19 bars")
	}
	if !in.RSI14.OK || !in.ATR14.OK {
		t.Error("RSI14 and ATR14 should be defined with 19 bars")
	}
	if !in.AnyDefined() {
		t.Error("AnyDefined should be true")
	}
}

func TestCompute_EmptySeries(t *testing.T) {
	in := Compute(nil)
	if in.AnyDefined() {
		t.Error("empty series should define nothing")
	}
}

func TestCompute_FullHistory(t *testing.T) {
	in := Compute(seriesFromCloses(ramp(100, 0.5, 220)))

	for name, v := range map[string]bool{
		"MA20": in.MA20.OK, "MA50": in.MA50.OK, "MA200": in.MA200.OK, "RSI14": in.RSI14.OK,
		"MACD": in.MACD.OK, "MACDSignal": in.MACDSignal.OK, "MACDHist": in.MACDHist.OK, "ATR14": in.ATR14.OK,
	} {
		if !v {
			t.Errorf("%s should be defined with 220 bars", name)
		}
	}

	// Uptrend: shorter averages sit above longer ones.
	if !(in.MA20.V > in.MA50.V && in.MA50.V > in.MA200.V) {
		t.Errorf("expected MA20 > MA50 > MA200, got %f %f %f", in.MA20.V, in.MA50.V, in.MA200.V)
	}
	// High-low is 2 on every bar and the ramp never gaps beyond it.
	assertClose(t, "ATR14", in.ATR14.V, 2.0, 1e-9)
	assertClose(t, "RSI14", in.RSI14.V, 100.0, 1e-9)
}

func TestCompute_NoLookahead(t *testing.T) {
	closes := ramp(100, 1, 120)
	full := seriesFromCloses(closes)

	alt := append([]float64{}, closes...)
	for i := 80; i < len(alt); i++ {
		alt[i] = 1 // wildly different future
	}
	altered := seriesFromCloses(alt)

	date := full[79].TradedDate
	a := Compute(full.PrefixThrough(date))
	b := Compute(altered.PrefixThrough(date))
	if a != b {
		t.Errorf("prefix result depends on later bars:\n%+v\n%+v", a, b)
	}
}
