package indicator

// RSI returns the Relative Strength Index over the last period deltas
// using simple (not Wilder-smoothed) averages of gains and losses.
// An average loss of zero yields 100, including a flat window.
// Undefined if fewer than period+1 values exist.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}

	gains, losses := 0.0, 0.0
	for i := len(values) - period; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0, true
	}
	rs := avgGain / avgLoss
	return finite(100.0-(100.0/(1.0+rs)), true)
}
