package store

import (
	"tradebot-signals/internal/model"
)

// DerivedColumns is the comma-separated derived column list in
// model.AllFields order.
const DerivedColumns = "ma20, ma50, ma200, rsi14, macd, macd_signal, macd_hist, atr14, signal, confidence"

// DerivedScanner receives the derived columns of one row. NULL columns
// scan to nil pointers, which map to absent fields.
type DerivedScanner struct {
	nums       [8]*float64
	signal     *string
	confidence *string
}

// Dest returns scan destinations in DerivedColumns order.
func (s *DerivedScanner) Dest() []any {
	dest := make([]any, 0, len(model.AllFields))
	for i := range s.nums {
		dest = append(dest, &s.nums[i])
	}
	return append(dest, &s.signal, &s.confidence)
}

// Derived converts the scanned columns.
func (s *DerivedScanner) Derived() model.Derived {
	var d model.Derived
	for i, f := range model.NumericFields {
		if s.nums[i] != nil {
			d.SetNumber(f, *s.nums[i])
		}
	}
	if s.signal != nil {
		sig := model.Signal(*s.signal)
		d.Signal = &sig
	}
	if s.confidence != nil {
		c := model.Confidence(*s.confidence)
		d.Confidence = &c
	}
	return d
}

// FieldArg returns the SQL argument for field f of upd.
func FieldArg(upd model.Derived, f model.Field) any {
	switch f {
	case model.FieldSignal:
		return string(*upd.Signal)
	case model.FieldConfidence:
		return string(*upd.Confidence)
	}
	v, _ := upd.Number(f)
	return v
}

// Absent returns the fields of upd that are missing on current.
func Absent(current, upd model.Derived) []model.Field {
	var out []model.Field
	for _, f := range upd.Fields() {
		if !current.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
