package adjustments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/plan-adjust/internal/metrics"
	"github.com/jimdaga/plan-adjust/internal/models"
	"github.com/jimdaga/plan-adjust/internal/notifications"
	"github.com/jimdaga/plan-adjust/internal/planstore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultBatchSize    = 200
	defaultRetryBackoff = 5 * time.Minute
	defaultConcurrency  = 4
	maxErrorLength      = 500
)

// SweeperOptions tunes a Sweeper.
type SweeperOptions struct {
	BatchSize    int
	RetryBackoff time.Duration
	// Concurrency bounds how many plan-store applies one sweep runs at once.
	Concurrency int
	// PendingTTL rejects ask_me candidates left pending this long. Zero
	// keeps them pending until superseded.
	PendingTTL time.Duration
}

// Sweeper commits auto_apply candidates whose grace period has run out.
type Sweeper struct {
	engine       *Engine
	batchSize    int
	retryBackoff time.Duration
	concurrency  int
	pendingTTL   time.Duration
	logger       *slog.Logger
}

// NewSweeper creates a Sweeper acting through engine.
func NewSweeper(engine *Engine, opts SweeperOptions) *Sweeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Sweeper{
		engine:       engine,
		batchSize:    opts.BatchSize,
		retryBackoff: opts.RetryBackoff,
		concurrency:  opts.Concurrency,
		pendingTTL:   opts.PendingTTL,
		logger:       engine.logger,
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Due     int `json:"due"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Expired int `json:"expired"`
}

// Sweep auto-applies every due candidate in one batch and, when a pending
// TTL is configured, expires stale ask_me candidates. Several sweeps may run
// at once; each candidate is applied by at most one of them.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var result SweepResult

	now := s.engine.now()
	ids, err := s.engine.repo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return result, err
	}
	result.Due = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			applied, err := s.AutoApply(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && applied:
				result.Applied++
			case err == nil, errors.Is(err, ErrAlreadyDecided):
				result.Skipped++
			case errors.Is(err, ErrExternalApplyFailed):
				result.Failed++
			default:
				result.Failed++
				s.logger.Error("Auto-apply errored", "candidate_id", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	if s.pendingTTL > 0 {
		expired, err := s.expireStale(ctx, now)
		result.Expired = expired
		if err != nil {
			return result, err
		}
	}

	metrics.ObserveSweep(time.Since(start), result.Applied)
	if result.Due > 0 || result.Expired > 0 {
		s.logger.Info("Sweep completed",
			"due", result.Due,
			"applied", result.Applied,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"expired", result.Expired,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return result, nil
}

// AutoApply commits one candidate if it is still pending and due. It
// reports false with a nil error when the deadline has not passed yet, and
// ErrAlreadyDecided when another actor got there first. An apply failure
// leaves the candidate pending with its deadline pushed back.
func (s *Sweeper) AutoApply(ctx context.Context, id uuid.UUID) (bool, error) {
	e := s.engine
	pending := []string{models.CandidateStatusPending}

	now := e.now()
	token, err := e.repo.Claim(ctx, id, pending, now, e.lease, true)
	if err != nil {
		return false, err
	}
	if token == "" {
		c, err := e.repo.Get(ctx, id)
		if err != nil {
			return false, err
		}
		switch {
		case c.Status != models.CandidateStatusPending:
			return false, ErrAlreadyDecided
		case claimLive(c, now):
			return false, ErrCandidateBusy
		default:
			return false, nil
		}
	}

	c, err := e.repo.Get(ctx, id)
	if err != nil {
		e.release(ctx, id, token, nil)
		return false, err
	}

	if err := e.callPlanStore(ctx, planstore.OperationApply, c); err != nil {
		next := e.now().Add(s.retryBackoff)
		e.release(ctx, id, token, map[string]interface{}{
			"grace_deadline":   next,
			"apply_attempts":   gorm.Expr("apply_attempts + ?", 1),
			"last_apply_error": truncate(err.Error(), maxErrorLength),
		})
		metrics.ObserveCallbackFailure(metrics.OperationApply)
		s.logger.Warn("Auto-apply failed, will retry",
			"candidate_id", id,
			"attempt", c.ApplyAttempts+1,
			"next_attempt", next,
			"error", err,
		)
		if e.scheduler != nil {
			if err := e.scheduler.ScheduleAutoApply(ctx, id, next, c.ApplyAttempts+1); err != nil {
				s.logger.Warn("Failed to reschedule auto-apply", "candidate_id", id, "error", err)
			}
		}
		return false, fmt.Errorf("%w: %w", ErrExternalApplyFailed, err)
	}

	now = e.now()
	won, err := e.repo.Transition(ctx, id, pending, token, now, map[string]interface{}{
		"status":           models.CandidateStatusAutoApplied,
		"applied_at":       now,
		"last_apply_error": "",
	}, nil)
	if err != nil {
		e.release(ctx, id, token, nil)
		return false, err
	}
	if !won {
		return false, ErrAlreadyDecided
	}

	applied, err := e.repo.Get(ctx, id)
	if err != nil {
		return true, err
	}
	if _, err := e.notifier.Notify(ctx, applied, models.NotificationAdjustmentAutoApplied, notifications.PriorityFor(applied)); err != nil {
		s.logger.Error("Failed to notify auto-applied candidate", "candidate_id", id, "error", err)
	}

	metrics.ObserveTransition(models.CandidateStatusAutoApplied)
	s.logger.Info("Candidate auto-applied", "candidate_id", id, "user_id", applied.UserID, "domain", applied.Domain)
	return true, nil
}

// expireStale rejects ask_me candidates older than the pending TTL. Expiry
// is not a user decision, so no feedback is written.
func (s *Sweeper) expireStale(ctx context.Context, now time.Time) (int, error) {
	e := s.engine
	ids, err := e.repo.ListStale(ctx, now.Add(-s.pendingTTL), s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		won, err := e.repo.Transition(ctx, id, []string{models.CandidateStatusPending}, "", now, map[string]interface{}{
			"status":          models.CandidateStatusRejected,
			"rejected_at":     now,
			"override_reason": models.OverrideReasonExpired,
		}, nil)
		if err != nil {
			return expired, err
		}
		if !won {
			continue
		}
		expired++
		metrics.ObserveTransition(models.CandidateStatusRejected)
		e.markNotification(ctx, id, models.ActionRejected)
	}
	return expired, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
