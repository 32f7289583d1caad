package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-signals/config"
	"tradebot-signals/internal/model"
	"tradebot-signals/internal/store"
	"tradebot-signals/internal/store/memstore"
	redisstore "tradebot-signals/internal/store/redis"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Redis.Enabled = false
	cfg.Backfill.Cron = ""
	cfg.Backfill.Symbols = nil
	cfg.Notify.Log = false
	cfg.Notify.WebSocket = false
	cfg.Notify.Telegram.BotToken = ""
	cfg.Notify.WebhookURL = ""
	cfg.Notify.Email.Host = ""
	return cfg
}

// seed stores n daily bars for sym, the last one dated today.
func seed(mem *memstore.Store, sym string, n int) {
	today := time.Now().UTC()
	for i := 0; i < n; i++ {
		c := 100 + float64(i)*0.5
		if i%3 == 0 {
			c -= 1.25
		}
		mem.Seed(model.PriceBar{
			Symbol:     sym,
			TradedDate: model.FormatTradedDate(today.AddDate(0, 0, i-(n-1))),
			Open:       c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		})
	}
}

func today() string { return model.FormatTradedDate(time.Now().UTC()) }

func newTestService(t *testing.T, cfg *config.Config, mem *memstore.Store) *Service {
	t.Helper()
	svc, err := newService(cfg, mem, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { svc.closeFeed() })
	return svc
}

func do(t *testing.T, svc *Service, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBackfillEndpoint(t *testing.T) {
	mem := memstore.New()
	seed(mem, "AAPL", 60)
	svc := newTestService(t, testConfig(t), mem)

	rec := do(t, svc, http.MethodPost, "/backfill", map[string]interface{}{"symbol": "aapl", "days": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		UpdatedCount int `json:"updatedCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.UpdatedCount)

	bar, err := mem.ReadBar(context.Background(), model.BarKey{Symbol: "AAPL", TradedDate: today()})
	require.NoError(t, err)
	assert.True(t, bar.Has(model.FieldMA50))
	assert.True(t, bar.Has(model.FieldSignal))
}

func TestBackfillEndpoint_All(t *testing.T) {
	mem := memstore.New()
	seed(mem, "AAPL", 30)
	seed(mem, "MSFT", 30)
	svc := newTestService(t, testConfig(t), mem)

	rec := do(t, svc, http.MethodPost, "/backfill", map[string]interface{}{"all": true, "days": 2, "dryRun": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		UpdatedCount int               `json:"updatedCount"`
		Results      []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 4, res.UpdatedCount)
	assert.Len(t, res.Results, 2)
	assert.Zero(t, mem.Mutations(), "dry run writes nothing")
}

func TestBackfillEndpoint_Validation(t *testing.T) {
	svc := newTestService(t, testConfig(t), memstore.New())

	tests := []struct {
		name   string
		method string
		body   interface{}
		want   int
	}{
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"zero days", http.MethodPost, map[string]interface{}{"symbol": "AAPL", "days": 0}, http.StatusBadRequest},
		{"no symbol", http.MethodPost, map[string]interface{}{"days": 2}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, svc, tt.method, "/backfill", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestEventsEndpoint(t *testing.T) {
	mem := memstore.New()
	seed(mem, "AAPL", 60)
	svc := newTestService(t, testConfig(t), mem)

	batch := []model.ChangeEvent{
		{Kind: model.EventModify, Symbol: "AAPL", TradedDate: today()},
		{Kind: model.EventModify, Symbol: "AAPL"},
	}
	rec := do(t, svc, http.MethodPost, "/events", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, model.BatchResult{Processed: 1, Skipped: 1, Written: 1}, res)
	assert.False(t, svc.health.LastBatchAt.IsZero())
}

func TestEventsEndpoint_LowercaseSymbol(t *testing.T) {
	mem := memstore.New()
	seed(mem, "AAPL", 60)
	svc := newTestService(t, testConfig(t), mem)

	rec := do(t, svc, http.MethodPost, "/events", []model.ChangeEvent{{Symbol: "aapl", TradedDate: today()}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bar, err := mem.ReadBar(context.Background(), model.BarKey{Symbol: "AAPL", TradedDate: today()})
	require.NoError(t, err)
	assert.True(t, bar.Has(model.FieldSignal))
}

func TestEventsEndpoint_TransientIs503(t *testing.T) {
	mem := memstore.New()
	seed(mem, "AAPL", 30)
	mem.Fail = func(string, model.BarKey) error {
		return model.Transient("read", errors.New("connection refused"))
	}
	svc := newTestService(t, testConfig(t), mem)

	rec := do(t, svc, http.MethodPost, "/events", []model.ChangeEvent{{Symbol: "AAPL", TradedDate: today()}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotifyTestEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Log = true
	svc := newTestService(t, cfg, memstore.New())

	rec := do(t, svc, http.MethodPost, "/notify/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Channels map[string]string `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, map[string]string{"log": "ok"}, res.Channels)
}

func TestRedisFeedWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	mem := memstore.New()
	seed(mem, "AAPL", 60)
	svc := newTestService(t, cfg, mem)

	rec := do(t, svc, http.MethodPost, "/events", []model.ChangeEvent{{Symbol: "AAPL", TradedDate: today()}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entries, err := mr.Stream(cfg.Redis.Stream)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the productive write is published once")

	rec = do(t, svc, http.MethodGet, "/signals/latest?symbol=aapl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Signal"`)

	rec = do(t, svc, http.MethodGet, "/signals/latest?symbol=MSFT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_ConsumesChangeFeed(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.ReclaimInterval = 50 * time.Millisecond
	cfg.HTTP.Addr = "127.0.0.1:0"

	mem := memstore.New()
	seed(mem, "AAPL", 60)
	svc := newTestService(t, cfg, mem)

	pub, err := redisstore.NewPublisher(redisstore.PublisherConfig{
		Config: redisstore.Config{Addr: mr.Addr()},
		Stream: cfg.Redis.Stream,
	})
	require.NoError(t, err)
	defer pub.Close()
	ev := model.ChangeEvent{Kind: model.EventInsert, Symbol: "AAPL", TradedDate: today()}
	require.NoError(t, pub.PublishChange(context.Background(), ev))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	key := model.BarKey{Symbol: "AAPL", TradedDate: today()}
	require.Eventually(t, func() bool {
		bar, err := mem.ReadBar(context.Background(), key)
		return err == nil && bar.Has(model.FieldSignal) && bar.Has(model.FieldMA50)
	}, 5*time.Second, 20*time.Millisecond, "feed event is handled while Run is up")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBreakerStateIsReported(t *testing.T) {
	svc := newTestService(t, testConfig(t), memstore.New())

	svc.onBreakerChange(store.StateClosed, store.StateOpen)
	assert.Equal(t, "open", svc.health.BreakerState)

	rec := do(t, svc, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScheduler(t *testing.T) {
	mem := memstore.New()
	seed(mem, "AAPL", 30)
	cfg := testConfig(t)
	cfg.Backfill.Cron = "0 30 18 * * 1-5"
	cfg.Backfill.Days = 2
	svc := newTestService(t, cfg, mem)

	assert.Len(t, svc.scheduler.Cron.Entries(), 1)

	results := svc.scheduler.RunNow()
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].UpdatedCount)

	cfg = testConfig(t)
	cfg.Backfill.Cron = "every now and then"
	_, err := newService(cfg, memstore.New(), prometheus.NewRegistry())
	assert.Error(t, err)
}
