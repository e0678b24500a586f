// Package worker runs periodic maintenance jobs on a cron schedule.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/chatquota/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Worker schedules job handlers and records the outcome of every run.
type Worker struct {
	cron   *cron.Cron
	config Config
	logger *slog.Logger

	// ctx is canceled by Stop so in-flight runs see shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Schedule registers handler to run on the given cron spec.
// Call this before Start().
func (w *Worker) Schedule(spec string, handler JobHandler) error {
	_, err := w.cron.AddFunc(spec, func() {
		_ = w.Run(w.ctx, handler)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", handler.Type(), err)
	}
	w.logger.Debug("Scheduled job", "job_type", handler.Type(), "schedule", spec)
	return nil
}

// Start begins running scheduled jobs in the background.
func (w *Worker) Start() {
	w.cron.Start()
	w.logger.Info("Worker started", "jobs", len(w.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs to finish, up to the
// configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	done := w.cron.Stop()

	select {
	case <-done.Done():
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some jobs may still be running")
	}
	w.cancel()
}

// Run executes handler once with the job timeout and records the outcome.
func (w *Worker) Run(ctx context.Context, handler JobHandler) error {
	logger := w.logger.With("job_type", handler.Type())

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := handler.Handle(jobCtx); err != nil {
		metrics.JobFailed(handler.Type())
		logger.Error("Job failed", "error", err)
		return err
	}

	duration := time.Since(start)
	metrics.JobCompleted(handler.Type(), duration)
	logger.Info("Job completed", "duration_ms", duration.Milliseconds())
	return nil
}
