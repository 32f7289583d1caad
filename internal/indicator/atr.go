package indicator

import "math"

// ATR returns the Average True Range: the simple mean of the last period
// true ranges, where the true range of day i (i >= 1) is
// max(high-low, |high-prevClose|, |low-prevClose|).
// Undefined if fewer than period+1 bars exist or the inputs differ in length.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	sum := 0.0
	for i := n - period; i < n; i++ {
		sum += trueRange(highs[i], lows[i], closes[i-1])
	}
	return finite(sum/float64(period), true)
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}
