package indicator

// EMAState is a streaming Exponential Moving Average.
// O(1) per update: the first period values seed an SMA, then each
// value moves the average by (value - ema) * k with k = 2/(period+1).
type EMAState struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMAState creates an EMA accumulator with the given period.
func NewEMAState(period int) *EMAState {
	return &EMAState{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds the next value of the series.
func (e *EMAState) Update(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (v-e.current)*e.multiplier + e.current
}

// Value returns the current EMA; ok is false until period values were fed.
func (e *EMAState) Value() (float64, bool) {
	return e.current, e.Ready()
}

// Ready returns true when enough values have been accumulated.
func (e *EMAState) Ready() bool { return e.period > 0 && e.count >= e.period }

// Reset clears the state for reuse.
func (e *EMAState) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// EMA returns the exponential moving average of values.
// Undefined if len(values) < period.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	e := NewEMAState(period)
	for _, v := range values {
		e.Update(v)
	}
	return finite(e.Value())
}
