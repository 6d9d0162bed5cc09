package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/plan-adjust/internal/config"
)

// StartScheduler creates and starts an Asynq Scheduler that enqueues the
// grace-period sweep on cfg.SweepSchedule.
// Returns a stop function for graceful shutdown.
func StartScheduler(cfg *config.Config, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			// Deadlines are stored in UTC
			Location:        time.UTC,
			LogLevel:        asynq.InfoLevel,
			Logger:          newAsynqLogger(logger),
			PostEnqueueFunc: logSweepEnqueue(logger),
		},
	)

	entryID, err := scheduler.Register(cfg.SweepSchedule, newSweepTask())
	if err != nil {
		return nil, fmt.Errorf("failed to register sweep schedule: %w", err)
	}

	// Start scheduler (non-blocking)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info(
		"Scheduler started",
		"schedule", cfg.SweepSchedule,
		"entry_id", entryID,
	)

	return func() { scheduler.Shutdown() }, nil
}

// logSweepEnqueue reports enqueue failures. A sweep still held by the
// uniqueness lock means the previous one is running, so it is skipped.
func logSweepEnqueue(logger *slog.Logger) func(*asynq.TaskInfo, error) {
	return func(info *asynq.TaskInfo, err error) {
		switch {
		case err == nil:
			logger.Debug("Sweep enqueued", "task_id", info.ID, "queue", info.Queue)
		case errors.Is(err, asynq.ErrDuplicateTask):
			logger.Debug("Previous sweep still pending, skipping")
		default:
			logger.Error("Failed to enqueue sweep", "error", err)
		}
	}
}
