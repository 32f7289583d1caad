package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"tradebot-signals/internal/backfill"
)

// Scheduler runs the periodic backfill on a cron spec (six fields,
// seconds first).
type Scheduler struct {
	Cron    *cron.Cron
	orch    *backfill.Orchestrator
	symbols []string
	days    int

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler creates a Scheduler. An empty symbols list backfills every
// symbol in the store.
func NewScheduler(orch *backfill.Orchestrator, symbols []string, days int) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		orch:    orch,
		symbols: symbols,
		days:    days,
		ctx:     context.Background(),
	}
}

// Register adds the backfill task under spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.backfillTask); err != nil {
		return fmt.Errorf("register backfill task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler. Runs started after ctx is cancelled
// return immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.Cron.Start()
	if len(s.Cron.Entries()) > 0 {
		log.Println("[scheduler] started")
	}
}

// Stop stops the scheduler and waits for a running backfill to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
}

// RunNow executes the backfill task immediately.
func (s *Scheduler) RunNow() []backfill.Result {
	return s.run()
}

func (s *Scheduler) backfillTask() {
	s.run()
}

func (s *Scheduler) run() []backfill.Result {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log.Printf("[scheduler] running backfill over %d days", s.days)
	results, err := s.orch.RunMany(ctx, s.symbols, s.days, false)
	if err != nil {
		log.Printf("[scheduler] backfill aborted: %v", err)
		return results
	}

	updated, failed := 0, 0
	for _, r := range results {
		updated += r.UpdatedCount
		failed += r.Failed
		if r.Error != "" {
			failed++
		}
	}
	log.Printf("[scheduler] backfill done: symbols=%d updated=%d failed=%d", len(results), updated, failed)
	return results
}
