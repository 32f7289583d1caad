package indicator

// MA returns the simple mean of the last period values.
// Undefined if len(values) < period.
func MA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return finite(sum/float64(period), true)
}
