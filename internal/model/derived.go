package model

import "strconv"

// Signal is the trading action classified from a bar's indicators.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Valid reports whether s is one of BUY, SELL, HOLD.
func (s Signal) Valid() bool {
	return s == SignalBuy || s == SignalSell || s == SignalHold
}

// Confidence is a coarse strength label attached to a Signal.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Valid reports whether c is one of LOW, MEDIUM, HIGH.
func (c Confidence) Valid() bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// Field names one derived column of a PriceBar.
type Field string

const (
	FieldMA20       Field = "MA20"
	FieldMA50       Field = "MA50"
	FieldMA200      Field = "MA200"
	FieldRSI14      Field = "RSI14"
	FieldMACD       Field = "MACD"
	FieldMACDSignal Field = "MACDSignal"
	FieldMACDHist   Field = "MACDHist"
	FieldATR14      Field = "ATR14"
	FieldSignal     Field = "Signal"
	FieldConfidence Field = "Confidence"
)

// NumericFields lists the indicator fields in canonical order.
var NumericFields = []Field{
	FieldMA20, FieldMA50, FieldMA200, FieldRSI14,
	FieldMACD, FieldMACDSignal, FieldMACDHist, FieldATR14,
}

// AllFields lists every derived field in canonical order.
var AllFields = append(append([]Field{}, NumericFields...), FieldSignal, FieldConfidence)

// Column returns the snake_case storage column for f.
func (f Field) Column() string {
	switch f {
	case FieldMA20:
		return "ma20"
	case FieldMA50:
		return "ma50"
	case FieldMA200:
		return "ma200"
	case FieldRSI14:
		return "rsi14"
	case FieldMACD:
		return "macd"
	case FieldMACDSignal:
		return "macd_signal"
	case FieldMACDHist:
		return "macd_hist"
	case FieldATR14:
		return "atr14"
	case FieldSignal:
		return "signal"
	case FieldConfidence:
		return "confidence"
	default:
		return ""
	}
}

// Derived holds the optional computed fields of a PriceBar.
// A nil pointer means the field is absent on the row.
//
// The same struct doubles as a partial update: only the non-nil
// fields are written.
type Derived struct {
	MA20       *float64    `json:"MA20,omitempty"`
	MA50       *float64    `json:"MA50,omitempty"`
	MA200      *float64    `json:"MA200,omitempty"`
	RSI14      *float64    `json:"RSI14,omitempty"`
	MACD       *float64    `json:"MACD,omitempty"`
	MACDSignal *float64    `json:"MACDSignal,omitempty"`
	MACDHist   *float64    `json:"MACDHist,omitempty"`
	ATR14      *float64    `json:"ATR14,omitempty"`
	Signal     *Signal     `json:"Signal,omitempty"`
	Confidence *Confidence `json:"Confidence,omitempty"`
}

func (d *Derived) numberPtr(f Field) **float64 {
	switch f {
	case FieldMA20:
		return &d.MA20
	case FieldMA50:
		return &d.MA50
	case FieldMA200:
		return &d.MA200
	case FieldRSI14:
		return &d.RSI14
	case FieldMACD:
		return &d.MACD
	case FieldMACDSignal:
		return &d.MACDSignal
	case FieldMACDHist:
		return &d.MACDHist
	case FieldATR14:
		return &d.ATR14
	}
	return nil
}

// Has reports whether field f is present.
func (d Derived) Has(f Field) bool {
	switch f {
	case FieldSignal:
		return d.Signal != nil
	case FieldConfidence:
		return d.Confidence != nil
	}
	if p := d.numberPtr(f); p != nil {
		return *p != nil
	}
	return false
}

// Number returns the value of a numeric field.
func (d Derived) Number(f Field) (float64, bool) {
	p := d.numberPtr(f)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// SetNumber sets a numeric field. Non-numeric fields are ignored.
func (d *Derived) SetNumber(f Field, v float64) {
	if p := d.numberPtr(f); p != nil {
		*p = &v
	}
}

// SetSignal sets the Signal/Confidence pair.
func (d *Derived) SetSignal(s Signal, c Confidence) {
	d.Signal = &s
	d.Confidence = &c
}

// Text returns the field value as stored text; numbers use the
// shortest float representation.
func (d Derived) Text(f Field) (string, bool) {
	switch f {
	case FieldSignal:
		if d.Signal == nil {
			return "", false
		}
		return string(*d.Signal), true
	case FieldConfidence:
		if d.Confidence == nil {
			return "", false
		}
		return string(*d.Confidence), true
	}
	v, ok := d.Number(f)
	if !ok {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

// Fields returns the present fields in canonical order.
func (d Derived) Fields() []Field {
	var out []Field
	for _, f := range AllFields {
		if d.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Missing returns the absent fields in canonical order.
func (d Derived) Missing() []Field {
	var out []Field
	for _, f := range AllFields {
		if !d.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Empty reports whether no field is present.
func (d Derived) Empty() bool {
	return len(d.Fields()) == 0
}

// Only returns a copy of d restricted to fields.
func (d Derived) Only(fields []Field) Derived {
	var out Derived
	for _, f := range fields {
		out.copyField(d, f)
	}
	return out
}

// FillAbsent returns d with every field absent on d taken from upd.
// Fields already present on d are left untouched.
func (d Derived) FillAbsent(upd Derived) Derived {
	out := d
	for _, f := range upd.Fields() {
		if !out.Has(f) {
			out.copyField(upd, f)
		}
	}
	return out
}

// Overlay returns d with every field present on upd replaced.
func (d Derived) Overlay(upd Derived) Derived {
	out := d
	for _, f := range upd.Fields() {
		out.copyField(upd, f)
	}
	return out
}

func (d *Derived) copyField(src Derived, f Field) {
	switch f {
	case FieldSignal:
		if src.Signal != nil {
			s := *src.Signal
			d.Signal = &s
		}
	case FieldConfidence:
		if src.Confidence != nil {
			c := *src.Confidence
			d.Confidence = &c
		}
	default:
		if v, ok := src.Number(f); ok {
			d.SetNumber(f, v)
		}
	}
}

// Value is an indicator result that may be undefined because the
// input series was too short. A zero Value is undefined.
type Value struct {
	V  float64
	OK bool
}

// Some wraps a defined value.
func Some(v float64) Value { return Value{V: v, OK: true} }

// None is the undefined value.
var None = Value{}

// Indicators is the snapshot of every indicator for one bar, computed
// over the series prefix ending at that bar.
type Indicators struct {
	MA20       Value
	MA50       Value
	MA200      Value
	RSI14      Value
	MACD       Value
	MACDSignal Value
	MACDHist   Value
	ATR14      Value
}

// Get returns the indicator backing numeric field f.
func (in Indicators) Get(f Field) Value {
	switch f {
	case FieldMA20:
		return in.MA20
	case FieldMA50:
		return in.MA50
	case FieldMA200:
		return in.MA200
	case FieldRSI14:
		return in.RSI14
	case FieldMACD:
		return in.MACD
	case FieldMACDSignal:
		return in.MACDSignal
	case FieldMACDHist:
		return in.MACDHist
	case FieldATR14:
		return in.ATR14
	}
	return None
}

// AnyDefined reports whether at least one indicator has a value.
func (in Indicators) AnyDefined() bool {
	for _, f := range NumericFields {
		if in.Get(f).OK {
			return true
		}
	}
	return false
}
