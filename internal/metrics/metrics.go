package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Stream handler
	EventsTotal   *prometheus.CounterVec // labels: outcome=processed|skipped|malformed|not_found|removed
	BatchesTotal  *prometheus.CounterVec // labels: result=ok|aborted
	RowsWritten   prometheus.Counter
	FieldsWritten *prometheus.CounterVec // labels: field
	ComputeDur    prometheus.Histogram
	BatchDur      prometheus.Histogram

	// Backfill
	BackfillRuns prometheus.Counter
	BackfillRows *prometheus.CounterVec // labels: outcome=updated|failed

	// Notifications
	NotificationsTotal *prometheus.CounterVec // labels: channel, result=ok|error

	// Feed consumer
	PELMessagesReclaimed prometheus.Counter

	// Store circuit breaker
	StoreBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	StoreBreakerTrips prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_events_total",
			Help: "Change events handled, by outcome",
		}, []string{"outcome"}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_batches_total",
			Help: "Change feed batches, by result",
		}, []string{"result"}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_rows_written_total",
			Help: "Bars that received at least one derived field",
		}),
		FieldsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_fields_written_total",
			Help: "Derived fields written, by field",
		}, []string{"field"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_compute_duration_seconds",
			Help:    "Indicator computation latency per event",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		BatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_batch_duration_seconds",
			Help:    "End-to-end latency per change feed batch",
			Buckets: prometheus.DefBuckets,
		}),

		BackfillRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_backfill_runs_total",
			Help: "Backfill runs per symbol",
		}),
		BackfillRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_backfill_rows_total",
			Help: "Backfill rows, by outcome",
		}, []string{"outcome"}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_notifications_total",
			Help: "Notification deliveries, by channel and result",
		}, []string{"channel", "result"}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_pel_messages_reclaimed_total",
			Help: "Change events reclaimed from dead consumers via XCLAIM",
		}),

		StoreBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_store_circuit_breaker_state",
			Help: "Store circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		StoreBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_store_circuit_breaker_trips_total",
			Help: "Times the store circuit breaker opened",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.BatchesTotal,
		m.RowsWritten,
		m.FieldsWritten,
		m.ComputeDur,
		m.BatchDur,
		m.BackfillRuns,
		m.BackfillRows,
		m.NotificationsTotal,
		m.PELMessagesReclaimed,
		m.StoreBreakerState,
		m.StoreBreakerTrips,
	)

	return m
}

// ObserveNotification counts one delivery.
func (m *Metrics) ObserveNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.NotificationsTotal.WithLabelValues(channel, result).Inc()
}

// HealthStatus tracks liveness of the engine's dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected  bool      `json:"redis_connected"`
	StoreOK         bool      `json:"store_ok"`
	BreakerState    string    `json:"breaker_state"`
	ConsumerRunning bool      `json:"consumer_running"`
	LastBatchAt     time.Time `json:"last_batch_at"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`

	// requireRedis is false when the engine runs without a change feed.
	requireRedis bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(requireRedis bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:    time.Now(),
		BreakerState: "closed",
		requireRedis: requireRedis,
	}
}

func (h *HealthStatus) SetConsumerRunning(v bool) {
	h.mu.Lock()
	h.ConsumerRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBatch(t time.Time) {
	h.mu.Lock()
	h.LastBatchAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetBreakerState(s string) {
	h.mu.Lock()
	h.BreakerState = s
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckStore runs ping against the price store and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, ping func(ctx context.Context) error) {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs the dependency checks immediately and then
// every interval until ctx is cancelled. Either probe may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, storePing func(ctx context.Context) error, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if storePing != nil {
			h.CheckStore(probeCtx, storePing)
		}
	}

	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisOK := h.RedisConnected || !h.requireRedis
	if !redisOK || !h.StoreOK || h.BreakerState == "open" {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !redisOK && !h.StoreOK {
		overallStatus = "unhealthy"
	}

	lastBatch := ""
	if !h.LastBatchAt.IsZero() {
		lastBatch = h.LastBatchAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		StoreOK         bool    `json:"store_ok"`
		StoreLatencyMs  float64 `json:"store_latency_ms"`
		BreakerState    string  `json:"breaker_state"`
		ConsumerRunning bool    `json:"consumer_running"`
		LastBatchAt     string  `json:"last_batch_at"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		StoreOK:         h.StoreOK,
		StoreLatencyMs:  h.StoreLatencyMs,
		BreakerState:    h.BreakerState,
		ConsumerRunning: h.ConsumerRunning,
		LastBatchAt:     lastBatch,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any routes
// added with Handle.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates the server. gatherer nil means the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle registers an extra route. Call before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[http] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[http] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
