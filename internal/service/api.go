package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tradebot-signals/internal/backfill"
	"tradebot-signals/internal/model"
	"tradebot-signals/internal/notification"
)

// backfillRequest is the POST /backfill body. All ignores Symbol and
// rewrites every configured (or stored) symbol.
type backfillRequest struct {
	backfill.Request
	All bool `json:"all,omitempty"`
}

func (svc *Service) registerRoutes() {
	svc.server.Handle("/backfill", http.HandlerFunc(svc.handleBackfill))
	svc.server.Handle("/events", http.HandlerFunc(svc.handleEvents))
	svc.server.Handle("/notify/test", http.HandlerFunc(svc.handleNotifyTest))
	if svc.hub != nil {
		svc.server.Handle("/ws", svc.hub)
	}
	if svc.publisher != nil {
		svc.server.Handle("/signals/latest", http.HandlerFunc(svc.handleLatestSignal))
	}
}

// handleBackfill handles POST /backfill {"symbol","days","dryRun"}.
func (svc *Service) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Days < 1 {
		http.Error(w, "validation: days must be at least 1", http.StatusBadRequest)
		return
	}

	if req.All {
		results, err := svc.backfill.RunMany(r.Context(), svc.cfg.Backfill.Symbols, req.Days, req.DryRun)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		total := 0
		for _, res := range results {
			total += res.UpdatedCount
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"updatedCount": total,
			"results":      results,
		})
		return
	}

	if model.NormalizeSymbol(req.Symbol) == "" {
		http.Error(w, "validation: symbol is required", http.StatusBadRequest)
		return
	}
	res, err := svc.backfill.Run(r.Context(), req.Request)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEvents handles POST /events with a JSON array of change events and
// runs them through the stream handler as one batch.
func (svc *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch []model.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := svc.handler.HandleBatch(r.Context(), batch)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	svc.health.SetLastBatch(time.Now())
	writeJSON(w, http.StatusOK, res)
}

// handleNotifyTest handles POST /notify/test: a synchronous test alert on
// every configured channel.
func (svc *Service) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	alert := notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Test notification",
		Message: "Signal engine notification channels are working.",
	}
	results := svc.dispatcher.SendAll(r.Context(), alert)

	out := make(map[string]string, len(results))
	code := http.StatusOK
	for channel, err := range results {
		out[channel] = "ok"
		if err != nil {
			out[channel] = err.Error()
			code = http.StatusBadGateway
		}
	}
	writeJSON(w, code, map[string]interface{}{"channels": out})
}

// handleLatestSignal handles GET /signals/latest?symbol=SYM from the
// Redis latest-signal cache.
func (svc *Service) handleLatestSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	symbol := model.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	data, ok, err := svc.publisher.LatestSignal(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "no signal for "+symbol, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(data))
}

func statusFor(err error) int {
	switch {
	case model.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}
