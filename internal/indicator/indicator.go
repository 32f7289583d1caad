// Package indicator provides the technical indicators derived for each
// daily price bar: moving averages, RSI, MACD and ATR.
//
// Every function takes an ascending-ordered series and returns a value
// together with a definedness flag. A series too short for the period
// yields an undefined result, never an error, so callers can tell a
// missing value apart from a zero value.
package indicator

import "math"

// Standard periods used by Compute.
const (
	PeriodMA20  = 20
	PeriodMA50  = 50
	PeriodMA200 = 200
	PeriodRSI   = 14
	PeriodATR   = 14

	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// finite drops non-finite results so a NaN or Inf input never
// reaches the store as a number.
func finite(v float64, ok bool) (float64, bool) {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
