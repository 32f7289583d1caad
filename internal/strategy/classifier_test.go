package strategy

import (
	"testing"

	"tradebot-signals/internal/model"
)

func TestClassify_DecisionTable(t *testing.T) {
	some := model.Some
	none := model.None

	tests := []struct {
		name       string
		line, sig  model.Value
		rsi        model.Value
		wantSignal model.Signal
		wantConf   model.Confidence
	}{
		{"buy high", some(2), some(1), some(55), model.SignalBuy, model.ConfidenceHigh},
		{"buy medium", some(2), some(1), some(65), model.SignalBuy, model.ConfidenceMedium},
		{"buy at 60 is medium", some(2), some(1), some(60), model.SignalBuy, model.ConfidenceMedium},
		{"bullish but overbought", some(2), some(1), some(70), model.SignalHold, model.ConfidenceLow},
		{"sell medium", some(1), some(2), some(75), model.SignalSell, model.ConfidenceMedium},
		{"sell high", some(1), some(2), some(85), model.SignalSell, model.ConfidenceHigh},
		{"sell at 80 is medium", some(1), some(2), some(80), model.SignalSell, model.ConfidenceMedium},
		{"bearish not overbought", some(1), some(2), some(50), model.SignalHold, model.ConfidenceLow},
		{"equal lines", some(1), some(1), some(50), model.SignalHold, model.ConfidenceLow},
		{"undefined line", none, some(1), some(50), model.SignalHold, model.ConfidenceLow},
		{"undefined signal", some(1), none, some(50), model.SignalHold, model.ConfidenceLow},
		{"undefined rsi", some(2), some(1), none, model.SignalHold, model.ConfidenceLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := Classify(tt.line, tt.sig, tt.rsi)
			if s != tt.wantSignal || c != tt.wantConf {
				t.Errorf("Classify(%v,%v,%v) = (%s,%s), want (%s,%s)",
					tt.line, tt.sig, tt.rsi, s, c, tt.wantSignal, tt.wantConf)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		s, c := Classify(model.Some(2), model.Some(1), model.Some(55))
		if s != model.SignalBuy || c != model.ConfidenceHigh {
			t.Fatalf("iteration %d: got (%s,%s)", i, s, c)
		}
	}
}

func TestClassifyIndicators(t *testing.T) {
	in := model.Indicators{MACD: model.Some(-1), MACDSignal: model.Some(0), RSI14: model.Some(90)}
	s, c := ClassifyIndicators(in)
	if s != model.SignalSell || c != model.ConfidenceHigh {
		t.Errorf("got (%s,%s), want (SELL,HIGH)", s, c)
	}
}
