// Package strategy maps a bar's indicator triple to a trading signal.
package strategy

import "tradebot-signals/internal/model"

// RSI thresholds of the decision table.
const (
	Overbought    = 70.0
	BuyHighBelow  = 60.0
	SellHighAbove = 80.0
)

// Classify returns the Signal/Confidence pair for a MACD line, MACD signal
// line and RSI. Any undefined input yields (HOLD, LOW).
//
//	line > signal && rsi < 70  -> BUY,  HIGH if rsi < 60 else MEDIUM
//	line < signal && rsi > 70  -> SELL, HIGH if rsi > 80 else MEDIUM
//	otherwise                  -> HOLD, LOW
func Classify(line, signal, rsi model.Value) (model.Signal, model.Confidence) {
	if !line.OK || !signal.OK || !rsi.OK {
		return model.SignalHold, model.ConfidenceLow
	}

	switch {
	case line.V > signal.V && rsi.V < Overbought:
		if rsi.V < BuyHighBelow {
			return model.SignalBuy, model.ConfidenceHigh
		}
		return model.SignalBuy, model.ConfidenceMedium

	case line.V < signal.V && rsi.V > Overbought:
		if rsi.V > SellHighAbove {
			return model.SignalSell, model.ConfidenceHigh
		}
		return model.SignalSell, model.ConfidenceMedium
	}
	return model.SignalHold, model.ConfidenceLow
}

// ClassifyIndicators applies Classify to a computed snapshot.
func ClassifyIndicators(in model.Indicators) (model.Signal, model.Confidence) {
	return Classify(in.MACD, in.MACDSignal, in.RSI14)
}
