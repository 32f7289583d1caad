package model

import (
	"encoding/json"
	"strings"
)

// EventKind is the mutation type carried by a ChangeEvent.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventModify EventKind = "MODIFY"
	EventRemove EventKind = "REMOVE"
)

// ChangeEvent notifies that one PriceBar was inserted, updated or removed.
// Image, when present, is the row's field set after the change; the handler
// re-reads the bar when it is missing.
type ChangeEvent struct {
	EventID    string    `json:"eventId,omitempty"`
	Kind       EventKind `json:"kind,omitempty"`
	Symbol     string    `json:"symbol"`
	TradedDate string    `json:"tradedDate"`
	Image      *PriceBar `json:"image,omitempty"`
}

// Key returns the key of the bar the event refers to.
func (e *ChangeEvent) Key() BarKey {
	return BarKey{Symbol: e.Symbol, TradedDate: e.TradedDate}
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *ChangeEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// NormalizeSymbol returns the canonical, upper-case form of a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Normalize rewrites the event's symbols in canonical form.
func (e *ChangeEvent) Normalize() {
	e.Symbol = NormalizeSymbol(e.Symbol)
	if e.Image != nil && e.Image.Symbol != "" {
		img := *e.Image
		img.Symbol = NormalizeSymbol(img.Symbol)
		e.Image = &img
	}
}

// Validate checks the key fields and returns a *MalformedEventError when
// the event cannot be processed. An empty Kind is read as MODIFY.
func (e *ChangeEvent) Validate() error {
	switch e.Kind {
	case "", EventInsert, EventModify, EventRemove:
	default:
		return &MalformedEventError{EventID: e.EventID, Reason: "unknown kind " + string(e.Kind)}
	}
	if e.Symbol == "" {
		return &MalformedEventError{EventID: e.EventID, Reason: "missing symbol"}
	}
	if e.TradedDate == "" {
		return &MalformedEventError{EventID: e.EventID, Reason: "missing tradedDate"}
	}
	if _, err := ParseTradedDate(e.TradedDate); err != nil {
		return &MalformedEventError{EventID: e.EventID, Reason: err.Error()}
	}
	if e.Image != nil {
		if (e.Image.Symbol != "" && e.Image.Symbol != e.Symbol) ||
			(e.Image.TradedDate != "" && e.Image.TradedDate != e.TradedDate) {
			return &MalformedEventError{EventID: e.EventID, Reason: "image key does not match event key"}
		}
	}
	return nil
}

// BatchResult is the outcome of one stream batch.
type BatchResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	// Written counts rows that received at least one derived field.
	Written int `json:"written"`
}
