// CLAUDE:SUMMARY Poll loop: reloads its plan each cycle, ranks accounts, polls them in bounded batches with pauses, sleeps a jittered interval.
// Package scheduler runs the periodic poll cycle and keeps per-account
// health and priority.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/postwatch/postwatch/internal/store"
)

// Plan is the cycle configuration, reloaded before every cycle.
type Plan struct {
	Interval    time.Duration
	Concurrency int
	BatchPause  time.Duration
	MinJitter   float64
	MaxJitter   float64
}

func (p *Plan) normalize() {
	if p.Interval <= 0 {
		p.Interval = 10 * time.Minute
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 1
	}
	if p.BatchPause < 0 {
		p.BatchPause = 0
	}
	if p.MinJitter <= 0 {
		p.MinJitter = 1
	}
	if p.MaxJitter < p.MinJitter {
		p.MaxJitter = p.MinJitter
	}
}

// Next returns the delay before the next cycle: Interval scaled by a
// uniform factor in [MinJitter, MaxJitter].
func (p Plan) Next() time.Duration {
	p.normalize()
	f := p.MinJitter
	if p.MaxJitter > p.MinJitter {
		f += rand.Float64() * (p.MaxJitter - p.MinJitter)
	}
	return time.Duration(float64(p.Interval) * f)
}

// AccountLister returns every tracked account.
type AccountLister func(ctx context.Context) ([]*store.Account, error)

// PlanLoader returns the current cycle plan.
type PlanLoader func(ctx context.Context) (Plan, error)

// Poller polls one account. Its context is never cancelled by the loop.
type Poller func(ctx context.Context, handle string) error

// Config configures the scheduler.
type Config struct {
	// InitialDelay is waited before the first cycle. Default: 10s.
	InitialDelay time.Duration
	Weights      Weights
	Now          func() time.Time
	// AfterCycle, if set, runs after every cycle (housekeeping).
	AfterCycle func(ctx context.Context)
}

func (c *Config) defaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 10 * time.Second
	}
	c.Weights.defaults()
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Scheduler drives the poll cycle.
type Scheduler struct {
	list   AccountLister
	plan   PlanLoader
	poll   Poller
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(list AccountLister, plan PlanLoader, poll Poller, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		list:   list,
		plan:   plan,
		poll:   poll,
		config: cfg,
		logger: logger,
	}
}

// Run loops cycles until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if !sleep(ctx, s.config.InitialDelay) {
		return
	}
	for {
		plan, err := s.plan(ctx)
		if err != nil {
			s.logger.Error("scheduler: load plan", "error", err)
			plan = Plan{}
		}
		plan.normalize()

		start := time.Now()
		n := s.RunCycle(ctx, plan)
		next := plan.Next()
		s.logger.Info("scheduler: cycle done", "polled", n, "duration", time.Since(start), "next_in", next)
		if s.config.AfterCycle != nil && ctx.Err() == nil {
			s.config.AfterCycle(ctx)
		}

		if !sleep(ctx, next) {
			return
		}
	}
}

// RunCycle polls every eligible account once, in batches of
// plan.Concurrency. Cancellation is observed between batches only; polls
// already started run to completion. Returns the number of polls started.
func (s *Scheduler) RunCycle(ctx context.Context, plan Plan) int {
	plan.normalize()
	accounts, err := s.list(ctx)
	if err != nil {
		s.logger.Error("scheduler: list accounts", "error", err)
		return 0
	}
	ordered := s.config.Weights.Order(accounts, s.config.Now())
	if len(ordered) == 0 {
		return 0
	}

	pollCtx := context.WithoutCancel(ctx)
	started := 0
	for i := 0; i < len(ordered); i += plan.Concurrency {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && !sleep(ctx, plan.BatchPause) {
			break
		}
		end := min(i+plan.Concurrency, len(ordered))

		var wg sync.WaitGroup
		for _, a := range ordered[i:end] {
			wg.Add(1)
			started++
			go func(handle string) {
				defer wg.Done()
				if err := s.poll(pollCtx, handle); err != nil {
					s.logger.Warn("scheduler: poll", "handle", handle, "error", err)
				}
			}(a.Handle)
		}
		wg.Wait()
	}
	return started
}

// sleep waits d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
