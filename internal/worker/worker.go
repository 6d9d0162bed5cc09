package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jimdaga/plan-adjust/internal/adjustments"
	"github.com/jimdaga/plan-adjust/internal/config"
)

const defaultConcurrency = 5

// Sweeper is the part of the engine the worker drives.
type Sweeper interface {
	Sweep(ctx context.Context) (adjustments.SweepResult, error)
	AutoApply(ctx context.Context, id uuid.UUID) (bool, error)
}

// asynqLoggerAdapter routes asynq's own logging through slog.
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.With("component", "asynq")}
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Run starts the Asynq worker server and blocks until shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, sweeper Sweeper, logger *slog.Logger) error {
	srv, mux, err := newServer(cfg, sweeper, logger)
	if err != nil {
		return err
	}

	// Note: Scheduler is started separately in main.go worker mode
	// and deferred there for shutdown coordination.
	// Run blocks and handles its own signal interception
	return srv.Run(mux)
}

// Start starts the Asynq worker in non-blocking mode and returns a stop function.
// Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, sweeper Sweeper, logger *slog.Logger) (stop func(), err error) {
	srv, mux, err := newServer(cfg, sweeper, logger)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, sweeper Sweeper, logger *slog.Logger) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     concurrency,
			ShutdownTimeout: 2*cfg.ApplyTimeout + 5*time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          newAsynqLogger(logger),
		},
	)

	logger.Info("Worker starting", "concurrency", concurrency, "sweep_schedule", cfg.SweepSchedule)
	return srv, newMux(logger, sweeper), nil
}

func newMux(logger *slog.Logger, sweeper Sweeper) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSweep, handleSweep(logger, sweeper))
	mux.HandleFunc(TaskAutoApply, handleAutoApply(logger, sweeper))
	return mux
}

// handleSweep runs one grace-period sweep. Failures are not retried; the
// next scheduled sweep covers them.
func handleSweep(logger *slog.Logger, sweeper Sweeper) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		result, err := sweeper.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed after %d applied: %w", result.Applied, err)
		}
		logger.Debug("Sweep task finished", "due", result.Due, "applied", result.Applied, "failed", result.Failed)
		return nil
	}
}

// handleAutoApply commits one candidate at its deadline.
func handleAutoApply(logger *slog.Logger, sweeper Sweeper) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload autoApplyPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			// Invalid payload - don't retry
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}
		id, err := uuid.Parse(payload.CandidateID)
		if err != nil {
			return fmt.Errorf("invalid candidate id %q: %w", payload.CandidateID, asynq.SkipRetry)
		}

		applied, err := sweeper.AutoApply(ctx, id)
		switch {
		case err == nil && applied:
			logger.Info("Auto-apply task applied candidate", "candidate_id", id, "attempt", payload.Attempt)
			return nil
		case err == nil:
			// Deadline moved; a later task or the sweep handles it
			logger.Debug("Auto-apply task ran early", "candidate_id", id)
			return nil
		case errors.Is(err, adjustments.ErrAlreadyDecided):
			logger.Debug("Auto-apply task lost race", "candidate_id", id)
			return nil
		case errors.Is(err, adjustments.ErrExternalApplyFailed):
			// Already rescheduled with backoff
			return nil
		case errors.Is(err, adjustments.ErrNotFound):
			logger.Error("Candidate not found", "candidate_id", id)
			return fmt.Errorf("candidate not found: %w", asynq.SkipRetry)
		default:
			// Database error - retryable
			return fmt.Errorf("auto-apply failed: %w", err)
		}
	}
}

// makeErrorHandler logs failed tasks. Auto-apply failures carry the
// candidate id; a failed sweep is never retried because the next scheduled
// sweep picks up the same due candidates.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		attrs := []any{
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		}

		switch task.Type() {
		case TaskSweep:
			logger.Warn("Sweep task failed, next scheduled sweep will cover it", attrs...)
			return
		case TaskAutoApply:
			var payload autoApplyPayload
			if json.Unmarshal(task.Payload(), &payload) == nil {
				attrs = append(attrs, "candidate_id", payload.CandidateID, "attempt", payload.Attempt)
			}
		}

		if retried >= maxRetry {
			logger.Error("Task retries exhausted, sweep remains the fallback", attrs...)
			return
		}
		logger.Error("Task execution failed", attrs...)
	}
}
