// Package scheduler arms the in-process refresh timer used when no external
// scheduler is configured to call the trigger endpoint.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"credsync/internal/common/logging"
	"credsync/internal/refresh"
)

// BatchRunner is the subset of the coordinator the scheduler invokes.
type BatchRunner interface {
	Run(ctx context.Context, mode refresh.Mode) (*refresh.Summary, error)
}

// Scheduler owns the self-arming refresh timer. It is an explicitly owned,
// started-once handle tied to the application lifetime rather than a hidden
// process global.
type Scheduler struct {
	runner  BatchRunner
	cadence time.Duration
	logger  logging.Logger

	cron *cron.Cron

	mu      sync.Mutex
	started bool
}

// New creates a scheduler that runs a due-mode batch every cadence.
func New(runner BatchRunner, cadence time.Duration, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if cadence <= 0 {
		cadence = 20 * time.Hour
	}
	return &Scheduler{
		runner:  runner,
		cadence: cadence,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start arms the timer. Calling Start on an already started scheduler is an
// error; the timer must exist at most once per process.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return stderrors.New("scheduler already started")
	}

	spec := fmt.Sprintf("@every %s", s.cadence)
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return fmt.Errorf("failed to schedule refresh timer: %w", err)
	}

	s.cron.Start()
	s.started = true

	s.logger.Info("Refresh timer armed",
		logging.Field{Key: "cadence", Value: s.cadence.String()},
	)
	return nil
}

// Stop disarms the timer and waits for an in-flight run to finish or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fire runs one due-mode batch. Another instance already running the batch
// is normal under the shared run lock and is not an error.
func (s *Scheduler) fire() {
	s.logger.Info("Refresh timer fired")

	summary, err := s.runner.Run(context.Background(), refresh.ModeDue)
	if err != nil {
		if stderrors.Is(err, refresh.ErrBatchInProgress) {
			s.logger.Debug("Skipping timer run, batch already in progress")
			return
		}
		s.logger.Error("Scheduled refresh batch failed", err)
		return
	}

	s.logger.Info("Scheduled refresh batch finished",
		logging.Field{Key: "total", Value: summary.Total},
		logging.Field{Key: "succeeded", Value: summary.Succeeded},
		logging.Field{Key: "failed", Value: summary.Failed},
	)
}
