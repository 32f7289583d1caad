package notification

import (
	"fmt"
	"strings"

	"tradebot-signals/internal/model"
)

// RenderReport formats the analysis report for a bar. Undefined values
// render as n/a.
func RenderReport(bar model.PriceBar) Alert {
	text := func(f model.Field) string {
		if v, ok := bar.Number(f); ok {
			return fmt.Sprintf("%.2f", v)
		}
		if v, ok := bar.Text(f); ok {
			return v
		}
		return "n/a"
	}

	parts := make([]string, 0, 5)
	for _, f := range []model.Field{model.FieldSignal, model.FieldConfidence, model.FieldMA20, model.FieldMA50, model.FieldRSI14} {
		parts = append(parts, string(f)+"="+text(f))
	}

	level := AlertInfo
	if bar.Signal != nil && *bar.Signal != model.SignalHold {
		level = AlertWarning
	}

	return Alert{
		Level:      level,
		Title:      fmt.Sprintf("%s %s", bar.Symbol, text(model.FieldSignal)),
		Message:    fmt.Sprintf("Analysis report for %s %s: %s", bar.Symbol, bar.TradedDate, strings.Join(parts, ", ")),
		Symbol:     bar.Symbol,
		TradedDate: bar.TradedDate,
	}
}
