package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradebot-signals/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 24 * time.Hour

// setLatest overwrites KEYS[1] with ARGV[2] unless the cached bar is dated
// after ARGV[1]. Returns 1 when the value was written.
var setLatest = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, doc = pcall(cjson.decode, cur)
	if ok and type(doc) == "table" and type(doc.tradedDate) == "string" and doc.tradedDate > ARGV[1] then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// PublisherConfig configures the change feed publisher.
type PublisherConfig struct {
	Config
	Stream    string        // stream key; "" = DefaultStream
	LatestTTL time.Duration // TTL of signal:latest:<SYMBOL>; 0 = 24h
}

// Publisher appends change events to a Redis Stream and keeps the latest
// classified signal of each symbol under signal:latest:<SYMBOL>.
type Publisher struct {
	client    *goredis.Client
	stream    string
	latestTTL time.Duration
}

var _ model.ChangePublisher = (*Publisher)(nil)

// NewPublisher connects to Redis.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client, err := Dial(cfg.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	return &Publisher{client: client, stream: cfg.Stream, latestTTL: cfg.LatestTTL}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Stream returns the stream key events are appended to.
func (p *Publisher) Stream() string { return p.stream }

// PublishChange pipelines XADD of the event and, when the image carries a
// signal, an update of the latest-signal cache plus a PUBLISH for live
// listeners. The cache never moves back to an older trading day.
func (p *Publisher) PublishChange(ctx context.Context, ev model.ChangeEvent) error {
	jsonData := string(ev.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})

	if ev.Image != nil && ev.Image.Signal != nil {
		imageJSON := string(ev.Image.JSON())
		setLatest.Eval(ctx, pipe, []string{LatestSignalKey(ev.Symbol)},
			ev.Image.TradedDate, imageJSON, p.latestTTL.Milliseconds())
		pipe.Publish(ctx, SignalChannel(ev.Symbol), imageJSON)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] publish pipeline error for %s: %v", ev.Key(), err)
		return fmt.Errorf("redis publish %s: %w", ev.Key(), err)
	}
	return nil
}

// LatestSignal returns the cached latest signal bar of symbol.
// ok is false when nothing is cached.
func (p *Publisher) LatestSignal(ctx context.Context, symbol string) (string, bool, error) {
	data, err := p.client.Get(ctx, LatestSignalKey(symbol)).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get latest %s: %w", symbol, err)
	}
	return data, true, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// LatestSignalKey is the cache key of a symbol's most recent signal bar.
func LatestSignalKey(symbol string) string { return "signal:latest:" + symbol }

// SignalChannel is the Pub/Sub channel a symbol's signal bars go to.
func SignalChannel(symbol string) string { return "pub:signal:" + symbol }
