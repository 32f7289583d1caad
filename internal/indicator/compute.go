package indicator

import "tradebot-signals/internal/model"

// Compute evaluates every indicator over series, treating its last bar as
// the bar being derived. Callers pass the prefix ending at that bar so no
// later data is observed.
func Compute(series model.Series) model.Indicators {
	closes := series.Closes()

	var out model.Indicators
	out.MA20 = value(MA(closes, PeriodMA20))
	out.MA50 = value(MA(closes, PeriodMA50))
	out.MA200 = value(MA(closes, PeriodMA200))
	out.RSI14 = value(RSI(closes, PeriodRSI))
	out.ATR14 = value(ATR(series.Highs(), series.Lows(), closes, PeriodATR))

	if m, ok := MACD(closes); ok {
		out.MACD = model.Some(m.Line)
		out.MACDSignal = model.Some(m.Signal)
		out.MACDHist = model.Some(m.Hist)
	}
	return out
}

func value(v float64, ok bool) model.Value {
	if !ok {
		return model.None
	}
	return model.Some(v)
}
