package indicator

// MACDResult is the MACD triple for the last value of a series.
type MACDResult struct {
	Line   float64
	Signal float64
	Hist   float64
}

// MACD returns line = EMA12 - EMA26, signal = EMA9 of the MACD-line
// series, and hist = line - signal.
//
// The MACD-line series holds EMA12(prefix) - EMA26(prefix) for every
// prefix of values where both EMAs are defined. Streaming both EMAs once
// over values produces exactly those prefix values in O(n).
// All three components are undefined unless at least MACDSignal line
// values exist.
func MACD(values []float64) (MACDResult, bool) {
	if len(values) < MACDSlow+MACDSignal-1 {
		return MACDResult{}, false
	}

	fast := NewEMAState(MACDFast)
	slow := NewEMAState(MACDSlow)
	signal := NewEMAState(MACDSignal)

	var line float64
	for _, v := range values {
		fast.Update(v)
		slow.Update(v)
		f, fok := fast.Value()
		s, sok := slow.Value()
		if !fok || !sok {
			continue
		}
		line = f - s
		signal.Update(line)
	}

	sig, ok := signal.Value()
	if !ok {
		return MACDResult{}, false
	}
	l, lok := finite(line, true)
	sg, sok := finite(sig, true)
	if !lok || !sok {
		return MACDResult{}, false
	}
	return MACDResult{Line: l, Signal: sg, Hist: l - sg}, true
}
