package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/agentworld/core/internal/config"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// SweeperConfig holds the dependencies and cadence for the maintenance loop.
type SweeperConfig struct {
	Queue  Queue
	Logger *slog.Logger

	// Schedule is an optional cron expression. When set it gates sweeps so
	// they fire at most once per matching minute; otherwise every tick
	// sweeps. Interval defaults to 30s if zero.
	Schedule string
	Interval time.Duration

	// CleanupAfter prunes terminal messages older than this on each sweep.
	// Zero disables cleanup.
	CleanupAfter time.Duration
}

// Sweeper periodically runs stuck-message detection and optional terminal
// cleanup against a queue. It is the only supervisor the queue needs: a
// worker that dies mid-task is recovered here via heartbeat timeout.
type Sweeper struct {
	queue        Queue
	logger       *slog.Logger
	interval     time.Duration
	cleanupAfter time.Duration
	next         cronlib.Schedule // nil means sweep every tick

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper from the config. An invalid cron schedule is
// an error; an empty one means fixed-interval sweeps.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		queue:        cfg.Queue,
		logger:       logger,
		interval:     interval,
		cleanupAfter: cfg.CleanupAfter,
	}
	if cfg.Schedule != "" {
		sched, err := cronParser.Parse(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		s.next = sched
	}
	return s, nil
}

// SweeperFromConfig builds a sweeper for q from the sweep section of the
// storage configuration.
func SweeperFromConfig(q Queue, logger *slog.Logger, cfg config.SweepConfig) (*Sweeper, error) {
	return NewSweeper(SweeperConfig{
		Queue:        q,
		Logger:       logger,
		Schedule:     cfg.Schedule,
		Interval:     time.Duration(cfg.IntervalSeconds) * time.Second,
		CleanupAfter: time.Duration(cfg.CleanupAfterHours) * time.Hour,
	})
}

// Start begins the sweep loop in a background goroutine. The loop exits when
// the context is canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("queue sweeper started", "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("queue sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastDue := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.next != nil {
				due := s.next.Next(lastDue)
				if due.After(now) {
					continue
				}
				lastDue = now
			}
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one detection + cleanup pass synchronously. Exposed so callers
// can force a pass without waiting for the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	result, err := s.queue.DetectStuckMessages(ctx)
	if err != nil {
		s.logger.Error("stuck message sweep failed", "error", err)
	} else if result.Requeued > 0 || result.Failed > 0 {
		s.logger.Info("recovered stuck messages",
			"requeued", result.Requeued, "failed", result.Failed)
	}

	if s.cleanupAfter > 0 {
		removed, err := s.queue.Cleanup(ctx, s.cleanupAfter)
		if err != nil {
			s.logger.Error("queue cleanup failed", "error", err)
		} else if removed > 0 {
			s.logger.Info("cleaned up terminal messages", "removed", removed)
		}
	}
}
