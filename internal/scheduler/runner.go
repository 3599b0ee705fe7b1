package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner drives the scheduler on a timer: every poll interval it drains
// pending attempts and due retries, and on a slower cadence sweeps old
// terminal attempts.
type Runner struct {
	scheduler *Scheduler
	logger    *zap.Logger

	pollInterval    time.Duration
	cleanupInterval time.Duration
	cleanupMaxAge   time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewRunner(s *Scheduler, pollInterval, cleanupInterval, cleanupMaxAge time.Duration, logger *zap.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Runner{
		scheduler:       s,
		logger:          logger,
		pollInterval:    pollInterval,
		cleanupInterval: cleanupInterval,
		cleanupMaxAge:   cleanupMaxAge,
		stop:            make(chan struct{}),
	}
}

// Start launches the poll and cleanup loops.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("Scheduler started",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Duration("cleanup_interval", r.cleanupInterval),
	)

	r.wg.Add(1)
	go r.pollLoop(ctx)

	if r.cleanupInterval > 0 {
		r.wg.Add(1)
		go r.cleanupLoop(ctx)
	}
}

// Stop shuts both loops down and waits for in-flight work to finish.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
	r.logger.Info("Scheduler stopped")
}

func (r *Runner) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.scheduler.ProcessPending(ctx); err != nil {
				r.logger.Error("Failed to process pending attempts", zap.Error(err))
			} else if n > 0 {
				r.logger.Debug("Processed pending attempts", zap.Int("count", n))
			}

			if n, err := r.scheduler.ProcessDueRetries(ctx); err != nil {
				r.logger.Error("Failed to process due retries", zap.Error(err))
			} else if n > 0 {
				r.logger.Debug("Processed due retries", zap.Int("count", n))
			}
		}
	}
}

func (r *Runner) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			olderThan := time.Now().UTC().Add(-r.cleanupMaxAge)
			if _, err := r.scheduler.CleanupOldAttempts(ctx, olderThan, true); err != nil {
				r.logger.Error("Failed to clean up old attempts", zap.Error(err))
			}
		}
	}
}
