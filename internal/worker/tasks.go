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
)

// Task type constants
const (
	TaskSweep     = "adjustments:sweep"
	TaskAutoApply = "adjustments:auto_apply"
)

type autoApplyPayload struct {
	CandidateID string `json:"candidate_id"`
	Attempt     int    `json:"attempt"`
}

// Client enqueues adjustment tasks. It satisfies the engine's
// AutoApplyScheduler.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewClient connects an Asynq client for task enqueueing.
func NewClient(redisURL string, logger *slog.Logger) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: asynq.NewClient(opt), logger: logger}, nil
}

// Close closes the Asynq client connection gracefully.
func (c *Client) Close() error {
	return c.client.Close()
}

// ScheduleAutoApply enqueues an auto-apply task to run at the candidate's
// deadline. Scheduling the same candidate and attempt twice is a no-op.
func (c *Client) ScheduleAutoApply(ctx context.Context, candidateID uuid.UUID, at time.Time, attempt int) error {
	task, err := newAutoApplyTask(candidateID, attempt)
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task, asynq.ProcessAt(at))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue auto-apply: %w", err)
	}

	c.logger.Debug("Auto-apply scheduled", "candidate_id", candidateID, "process_at", at, "task_id", info.ID)
	return nil
}

// newAutoApplyTask builds the per-candidate task. The task id pins one task
// per candidate and attempt across every engine instance.
func newAutoApplyTask(candidateID uuid.UUID, attempt int) (*asynq.Task, error) {
	payload, err := json.Marshal(autoApplyPayload{
		CandidateID: candidateID.String(),
		Attempt:     attempt,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskAutoApply,
		payload,
		asynq.TaskID(autoApplyTaskID(candidateID, attempt)),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	), nil
}

func autoApplyTaskID(candidateID uuid.UUID, attempt int) string {
	return fmt.Sprintf("auto_apply:%s:%d", candidateID, attempt)
}

// newSweepTask builds the periodic sweep task. Unique keeps a backlog of
// sweeps from piling up when a run is slow.
func newSweepTask() *asynq.Task {
	return asynq.NewTask(
		TaskSweep,
		nil, // Empty payload - handler sweeps every due candidate
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	)
}
