// Package service wires the signal engine together: price store, change
// feed, stream handler, backfill orchestrator, notifications, metrics and
// the HTTP API. It owns the process lifecycle.
package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"tradebot-signals/config"
	"tradebot-signals/internal/backfill"
	"tradebot-signals/internal/metrics"
	"tradebot-signals/internal/model"
	"tradebot-signals/internal/notification"
	"tradebot-signals/internal/store"
	"tradebot-signals/internal/store/postgres"
	redisstore "tradebot-signals/internal/store/redis"
	"tradebot-signals/internal/store/sqlite"
	"tradebot-signals/internal/stream"
)

const livenessInterval = 15 * time.Second

// Service is the top-level orchestrator for the signal engine.
type Service struct {
	cfg *config.Config

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	raw     model.SeriesStore // concrete sqlite or postgres adapter
	guarded *store.Guarded
	store   model.SeriesStore // top of the decorator chain

	publisher *redisstore.Publisher
	consumer  *redisstore.Consumer

	hub        *notification.WSHub
	dispatcher *notification.Dispatcher
	handler    *stream.Handler
	backfill   *backfill.Orchestrator
	scheduler  *Scheduler
	server     *metrics.Server
}

// OpenStore opens the price store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (model.SeriesStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err := sqlite.New(sqlite.Config{DBPath: cfg.Store.SQLitePath})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// New opens the configured store and connects to Redis when enabled.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	raw, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := newService(cfg, raw, prometheus.NewRegistry())
	if err != nil {
		raw.Close()
		return nil, err
	}
	return svc, nil
}

// newService builds the service around an already open store.
func newService(cfg *config.Config, raw model.SeriesStore, reg *prometheus.Registry) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		registry: reg,
		prom:     metrics.NewMetrics(reg),
		health:   metrics.NewHealthStatus(cfg.Redis.Enabled),
		raw:      raw,
	}

	svc.guarded = store.NewGuarded(raw, store.GuardConfig{
		Timeout:          cfg.Store.Timeout,
		BreakerFailures:  cfg.Store.BreakerFailures,
		BreakerResetTime: cfg.Store.BreakerResetTime,
		OnStateChange:    svc.onBreakerChange,
	})
	svc.store = svc.guarded

	if cfg.Redis.Enabled {
		conn := redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

		var err error
		svc.publisher, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Config:    conn,
			Stream:    cfg.Redis.Stream,
			LatestTTL: cfg.Redis.LatestTTL,
		})
		if err != nil {
			return nil, err
		}
		svc.consumer, err = redisstore.NewConsumer(redisstore.ConsumerConfig{
			Config:    conn,
			Stream:    cfg.Redis.Stream,
			Group:     cfg.Redis.Group,
			Consumer:  cfg.Redis.Consumer,
			BatchSize: cfg.Redis.BatchSize,
		})
		if err != nil {
			svc.publisher.Close()
			return nil, err
		}
		svc.store = store.NewChangeFeed(svc.guarded, svc.publisher)
	}

	svc.dispatcher = svc.buildDispatcher()
	svc.handler = stream.NewHandler(svc.store, stream.Options{
		Workers:    cfg.Engine.Workers,
		Dispatcher: svc.dispatcher,
		Metrics:    svc.prom,
	})
	svc.backfill = backfill.New(svc.store, backfill.Options{
		Workers: cfg.Backfill.Workers,
		Metrics: svc.prom,
	})
	svc.scheduler = NewScheduler(svc.backfill, cfg.Backfill.Symbols, cfg.Backfill.Days)
	if cfg.Backfill.Cron != "" {
		if err := svc.scheduler.Register(cfg.Backfill.Cron); err != nil {
			svc.closeFeed()
			return nil, err
		}
	}

	svc.server = metrics.NewServer(cfg.HTTP.Addr, svc.health, reg)
	svc.registerRoutes()
	return svc, nil
}

func (svc *Service) buildDispatcher() *notification.Dispatcher {
	n := svc.cfg.Notify
	var notifiers []notification.Notifier
	if n.Log {
		notifiers = append(notifiers, notification.NewLogNotifier())
	}
	if n.Telegram.BotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(n.Telegram.BotToken, n.Telegram.ChatID))
	}
	if n.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(n.WebhookURL))
	}
	if n.Email.Host != "" {
		notifiers = append(notifiers, notification.NewEmailNotifier(notification.EmailConfig{
			Host:     n.Email.Host,
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			To:       n.Email.To,
		}))
	}
	if n.WebSocket {
		svc.hub = notification.NewWSHub()
		notifiers = append(notifiers, svc.hub)
	}

	d := notification.NewDispatcher(n.Timeout, notifiers...)
	d.OnResult = svc.prom.ObserveNotification
	return d
}

func (svc *Service) onBreakerChange(_, to store.State) {
	svc.prom.StoreBreakerState.Set(float64(to))
	if to == store.StateOpen {
		svc.prom.StoreBreakerTrips.Inc()
	}
	svc.health.SetBreakerState(to.String())
}

// Store returns the store every component writes through.
func (svc *Service) Store() model.SeriesStore { return svc.store }

// RawStore returns the concrete adapter under the guard and change feed.
func (svc *Service) RawStore() model.SeriesStore { return svc.raw }

// Handler returns the stream update handler.
func (svc *Service) Handler() *stream.Handler { return svc.handler }

// Backfill returns the backfill orchestrator.
func (svc *Service) Backfill() *backfill.Orchestrator { return svc.backfill }

// Dispatcher returns the notification dispatcher.
func (svc *Service) Dispatcher() *notification.Dispatcher { return svc.dispatcher }

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[signalengine] starting signal engine...")

	storePing := func(ctx context.Context) error {
		_, err := svc.guarded.LastModified(ctx)
		return err
	}
	var rdb *goredis.Client
	if svc.consumer != nil {
		rdb = svc.consumer.Client()
	}
	svc.health.StartLivenessChecker(ctx, rdb, storePing, livenessInterval)

	if svc.consumer != nil {
		if err := svc.consumer.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("ensure consumer group: %w", err)
		}
		n, err := svc.consumer.RecoverPending(ctx, svc.handleBatch)
		if err != nil {
			log.Printf("[signalengine] pending recovery error: %v", err)
		} else if n > 0 {
			log.Printf("[signalengine] recovered %d pending events", n)
		}
		go svc.consumer.StartPELReclaimer(ctx, cfg.Redis.ReclaimInterval, cfg.Redis.ReclaimMinIdle, svc.handleBatch,
			func(count int) { svc.prom.PELMessagesReclaimed.Add(float64(count)) })
	}

	svc.scheduler.Start(ctx)
	svc.server.Start()

	consumeDone := make(chan struct{})
	if svc.consumer != nil {
		go func() {
			defer close(consumeDone)
			svc.health.SetConsumerRunning(true)
			defer svc.health.SetConsumerRunning(false)
			if err := svc.consumer.Consume(ctx, svc.handleBatch); err != nil && ctx.Err() == nil {
				log.Printf("[signalengine] consumer stopped: %v", err)
			}
		}()
	} else {
		close(consumeDone)
	}

	log.Printf("[signalengine] store=%s redis=%v stream=%s workers=%d http=%s",
		cfg.Store.Driver, cfg.Redis.Enabled, cfg.Redis.Stream, cfg.Engine.Workers, cfg.HTTP.Addr)
	log.Printf("[signalengine] notification channels: %v", svc.dispatcher.Channels())
	if cfg.Backfill.Cron != "" {
		log.Printf("[signalengine] scheduled backfill %q over %d days", cfg.Backfill.Cron, cfg.Backfill.Days)
	}
	log.Println("[signalengine] all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()
	<-consumeDone

	svc.shutdown()
	return nil
}

// handleBatch adapts the stream handler to the consumer callback. A
// returned error leaves the batch unacknowledged for redelivery.
func (svc *Service) handleBatch(ctx context.Context, batch []model.ChangeEvent) error {
	_, err := svc.handler.HandleBatch(ctx, batch)
	if err == nil {
		svc.health.SetLastBatch(time.Now())
	}
	return err
}

// shutdown stops background work and closes connections.
func (svc *Service) shutdown() {
	log.Println("[signalengine] shutdown signal received")

	svc.scheduler.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.server.Stop(shutCtx)

	svc.dispatcher.Wait()
	svc.Close()
	log.Println("[signalengine] shutdown complete.")
}

// Close releases the store and Redis connections.
func (svc *Service) Close() error {
	svc.closeFeed()
	return svc.raw.Close()
}

func (svc *Service) closeFeed() {
	if svc.consumer != nil {
		svc.consumer.Close()
		svc.consumer = nil
	}
	if svc.publisher != nil {
		svc.publisher.Close()
		svc.publisher = nil
	}
}
