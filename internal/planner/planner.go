// Package planner decides which derived fields a write should carry.
//
// The stream path only ever fills fields that are absent on the row.
// Its own write produces a new change event for the same row, and when
// that event is handled every field the engine can compute is already
// present, so the plan is empty and the feed goes quiet after exactly
// one productive write per row.
package planner

import (
	"github.com/shopspring/decimal"

	"tradebot-signals/internal/model"
	"tradebot-signals/internal/strategy"
)

// Places is the number of decimal places derived values are stored with.
const Places = 2

// Round rounds v half away from zero to Places decimals.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(Places).InexactFloat64()
}

// PlanStream returns the fields to set-if-absent on a row whose stored
// derived fields are current. Only fields absent on current and defined
// in computed are included. When no indicator is defined at all the plan
// is empty, Signal and Confidence included, so a later event can retry.
func PlanStream(current model.Derived, computed model.Indicators) model.Derived {
	var plan model.Derived
	if !computed.AnyDefined() {
		return plan
	}

	for _, f := range model.NumericFields {
		if current.Has(f) {
			continue
		}
		if v := computed.Get(f); v.OK {
			plan.SetNumber(f, Round(v.V))
		}
	}

	sig, conf := strategy.ClassifyIndicators(computed)
	if !current.Has(model.FieldSignal) {
		plan.Signal = &sig
	}
	if !current.Has(model.FieldConfidence) {
		plan.Confidence = &conf
	}
	return plan
}

// PlanOverwrite returns every defined indicator plus the Signal/Confidence
// pair, for an unconditional backfill write.
func PlanOverwrite(computed model.Indicators) model.Derived {
	var plan model.Derived
	for _, f := range model.NumericFields {
		if v := computed.Get(f); v.OK {
			plan.SetNumber(f, Round(v.V))
		}
	}
	plan.SetSignal(strategy.ClassifyIndicators(computed))
	return plan
}
