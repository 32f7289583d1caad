package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tradebot-signals/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ConsumerConfig configures the change feed consumer.
type ConsumerConfig struct {
	Config
	Stream    string        // "" = DefaultStream
	Group     string        // consumer group, e.g. "signalengine"
	Consumer  string        // unique consumer name, e.g. hostname
	BatchSize int64         // max events per batch; 0 = 100
	Block     time.Duration // XREADGROUP block; 0 = 2s, negative = do not block
	Retry     time.Duration // pause before redelivering a rejected batch; 0 = 1s
}

// Handler processes one batch of change events. Returning nil acknowledges
// the whole batch; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, batch []model.ChangeEvent) error

// Consumer reads change events from a Redis Stream via a consumer group.
type Consumer struct {
	client   *goredis.Client
	stream   string
	group    string
	consumer string
	count    int64
	block    time.Duration
	retry    time.Duration
}

var _ model.ChangeConsumer = (*Consumer)(nil)

// NewConsumer connects to Redis.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	client, err := Dial(cfg.Config)
	if err != nil {
		return nil, err
	}

	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = "signalengine"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Block == 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = time.Second
	}

	log.Printf("[redis-consumer] stream=%s group=%s consumer=%s", cfg.Stream, cfg.Group, cfg.Consumer)
	return &Consumer{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		count:    cfg.BatchSize,
		block:    cfg.Block,
		retry:    cfg.Retry,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (c *Consumer) Client() *goredis.Client { return c.client }

// EnsureGroup creates the consumer group if it does not exist. A fresh
// group starts at the beginning of the stream so events appended before
// the first start are still processed.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", c.stream, err)
	}
	return nil
}

// Consume reads new events with XREADGROUP and hands each batch to handle.
// A batch is acknowledged only when handle returns nil. After a rejected
// batch the consumer re-reads its own pending entries (ID "0") until they
// are all acknowledged, then resumes with new events. Returns when ctx is
// cancelled.
func (c *Consumer) Consume(ctx context.Context, handle func(ctx context.Context, batch []model.ChangeEvent) error) error {
	cursor := ">"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		args := &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, cursor},
			Count:    c.count,
			Block:    c.block,
		}
		if cursor != ">" {
			args.Block = -1
		}
		results, err := c.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != goredis.Nil {
				log.Printf("[redis-consumer] xreadgroup error: %v", err)
				pause(ctx, 500*time.Millisecond)
			} else if cursor != ">" {
				cursor = ">"
			} else if c.block < 0 {
				pause(ctx, 50*time.Millisecond)
			}
			continue
		}

		delivered, failed := 0, false
		for _, stream := range results {
			delivered += len(stream.Messages)
			if err := c.process(ctx, stream.Messages, handle); err != nil {
				log.Printf("[redis-consumer] batch of %d left pending: %v", len(stream.Messages), err)
				failed = true
			}
		}

		switch {
		case failed:
			cursor = "0"
			pause(ctx, c.retry)
		case cursor != ">" && delivered == 0:
			log.Printf("[redis-consumer] pending entries drained, resuming new events on %s", c.stream)
			cursor = ">"
		}
	}
}

// RecoverPending replays this consumer's unacknowledged events left over
// from a previous run. It stops at the first batch handle rejects.
func (c *Consumer) RecoverPending(ctx context.Context, handle Handler) (int, error) {
	recovered := 0
	start := "-"
	for {
		pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream:   c.stream,
			Group:    c.group,
			Start:    start,
			End:      "+",
			Count:    c.count,
			Consumer: c.consumer,
		}).Result()
		if err != nil {
			return recovered, fmt.Errorf("xpending %s: %w", c.stream, err)
		}
		if len(pending) == 0 {
			return recovered, nil
		}

		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}

		claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  0,
			Messages: ids,
		}).Result()
		if err != nil {
			return recovered, fmt.Errorf("xclaim %s: %w", c.stream, err)
		}
		if err := c.process(ctx, claimed, handle); err != nil {
			return recovered, err
		}
		recovered += len(claimed)

		if int64(len(pending)) < c.count {
			return recovered, nil
		}
		start = "(" + ids[len(ids)-1]
	}
}

// ReclaimStale claims entries idle longer than minIdle from other
// consumers in the group, e.g. a crashed replica, and processes them.
func (c *Consumer) ReclaimStale(ctx context.Context, minIdle time.Duration, handle Handler) (int, error) {
	pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  c.count,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != c.consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xclaim %s: %w", c.stream, err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	log.Printf("[redis-consumer] reclaimed %d stale PEL entries from %s", len(claimed), c.stream)
	if err := c.process(ctx, claimed, handle); err != nil {
		return 0, err
	}
	return len(claimed), nil
}

// StartPELReclaimer runs ReclaimStale every interval until ctx is cancelled.
func (c *Consumer) StartPELReclaimer(ctx context.Context, interval, minIdle time.Duration, handle Handler, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.ReclaimStale(ctx, minIdle, handle)
			if err != nil {
				log.Printf("[redis-consumer] PEL reclaim error on %s: %v", c.stream, err)
				continue
			}
			if n > 0 && onReclaim != nil {
				onReclaim(n)
			}
		}
	}
}

// PendingCount returns the number of unacknowledged events in the group.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	p, err := c.client.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}

// Close closes the Redis client.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// process decodes msgs, hands the decodable ones to handle as one batch and
// acks everything on success. Undecodable messages are acked straight away
// so they cannot block the group.
func (c *Consumer) process(ctx context.Context, msgs []goredis.XMessage, handle Handler) error {
	if len(msgs) == 0 {
		return nil
	}

	// Acks outlive a shutdown that arrives after the batch was handled.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	batch := make([]model.ChangeEvent, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := decode(msg)
		if err != nil {
			log.Printf("[redis-consumer] dropping %s: %v", msg.ID, err)
			c.client.XAck(ackCtx, c.stream, c.group, msg.ID)
			continue
		}
		batch = append(batch, ev)
		ids = append(ids, msg.ID)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := handle(ctx, batch); err != nil {
		return err
	}
	if err := c.client.XAck(ackCtx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", c.stream, err)
	}
	return nil
}

func decode(msg goredis.XMessage) (model.ChangeEvent, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return model.ChangeEvent{}, fmt.Errorf("missing data field")
	}
	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("unmarshal change event: %w", err)
	}
	if ev.EventID == "" {
		ev.EventID = msg.ID
	}
	return ev, nil
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
