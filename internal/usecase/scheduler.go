package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

// Scheduler wires the interval driver with the pipeline use case. Every tick
// is an ordinary guarded invocation.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		outcome, err := s.pipeline.Run(ctx)
		if s.logger == nil {
			return
		}
		switch {
		case errors.Is(err, domain.ErrLockContention):
			s.logger.Info("tick skipped", "trigger", trigger, "reason", err)
		case err != nil:
			s.logger.Error("tick failed", "trigger", trigger, "error", err)
		default:
			s.logger.Debug("tick done", "trigger", trigger, "outcome", outcome)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
