// Package adjustments owns the lifecycle of adjustment candidates: creation
// under the user's policy, user decisions, timed auto-apply and undo.
package adjustments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/plan-adjust/internal/metrics"
	"github.com/jimdaga/plan-adjust/internal/models"
	"github.com/jimdaga/plan-adjust/internal/notifications"
	"github.com/jimdaga/plan-adjust/internal/planstore"
	"github.com/jimdaga/plan-adjust/internal/preferences"
	"gorm.io/gorm"
)

// Decision actions accepted by Decide
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

const defaultApplyTimeout = 10 * time.Second

// PlanStore applies and reverts deltas in the external plan.
type PlanStore interface {
	ApplyDelta(ctx context.Context, delta planstore.Delta) error
	RevertDelta(ctx context.Context, delta planstore.Delta) error
}

// Notifier records user-facing notifications for candidates.
type Notifier interface {
	Notify(ctx context.Context, candidate *models.AdjustmentCandidate, notificationType, priority string) (*models.Notification, error)
	MarkActionTaken(ctx context.Context, candidateID uuid.UUID, action string) error
}

// PreferenceSource looks up a user's stored preferences. A nil result means
// the user has none and the defaults apply.
type PreferenceSource interface {
	Get(ctx context.Context, userID uint) (*models.AdjustmentPreferences, error)
}

// PayloadValidator checks a delta against its domain's schema.
type PayloadValidator interface {
	Validate(domain string, payload []byte) error
}

// AutoApplyScheduler arranges for AutoApply to run for a candidate at a
// given time. attempt distinguishes retries of the same candidate.
type AutoApplyScheduler interface {
	ScheduleAutoApply(ctx context.Context, candidateID uuid.UUID, at time.Time, attempt int) error
}

// Options tunes an Engine. Zero values pick sensible defaults.
type Options struct {
	ApplyTimeout time.Duration
	Validator    PayloadValidator
	Scheduler    AutoApplyScheduler
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine is the candidate lifecycle manager.
type Engine struct {
	repo         *Repository
	feedback     *FeedbackRecorder
	resolver     *preferences.Resolver
	prefs        PreferenceSource
	plans        PlanStore
	notifier     Notifier
	validator    PayloadValidator
	scheduler    AutoApplyScheduler
	logger       *slog.Logger
	now          func() time.Time
	applyTimeout time.Duration
	lease        time.Duration
}

// NewEngine wires an Engine over db.
func NewEngine(db *gorm.DB, resolver *preferences.Resolver, prefs PreferenceSource, plans PlanStore, notifier Notifier, opts Options) *Engine {
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = defaultApplyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now
	return &Engine{
		repo:         NewRepository(db),
		feedback:     NewFeedbackRecorder(db),
		resolver:     resolver,
		prefs:        prefs,
		plans:        plans,
		notifier:     notifier,
		validator:    opts.Validator,
		scheduler:    opts.Scheduler,
		logger:       opts.Logger,
		now:          func() time.Time { return now().UTC() },
		applyTimeout: opts.ApplyTimeout,
		// A claim outlives the callback it guards so a crashed holder is
		// eventually replaced
		lease: 2 * opts.ApplyTimeout,
	}
}

// Feedback returns the engine's feedback recorder.
func (e *Engine) Feedback() *FeedbackRecorder {
	return e.feedback
}

// SubmitRequest is a suggested adjustment from upstream analytics.
// A non-empty SubmissionID makes redelivery of the same suggestion a no-op.
type SubmitRequest struct {
	SubmissionID string          `json:"submission_id"`
	UserID       uint            `json:"user_id"`
	Day          string          `json:"day"`
	Domain       string          `json:"domain"`
	TriggerType  string          `json:"trigger_type"`
	Confidence   float64         `json:"confidence"`
	Payload      json.RawMessage `json:"payload"`
}

// SubmitResult reports what Submit did. A suppressed submission stores
// nothing and Candidate is nil. A duplicate carries the candidate stored
// for the earlier delivery, whatever its status now.
type SubmitResult struct {
	Suppressed bool                        `json:"suppressed"`
	Duplicate  bool                        `json:"duplicate,omitempty"`
	Policy     string                      `json:"policy"`
	Candidate  *models.AdjustmentCandidate `json:"candidate,omitempty"`
	Superseded []uuid.UUID                 `json:"superseded,omitempty"`
}

// Submit resolves the user's policy for the suggestion and, unless it is
// disabled, stores a pending candidate that replaces any pending one for
// the same day and domain.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := e.validateSubmission(req); err != nil {
		metrics.ObserveSubmission(metrics.OutcomeInvalid)
		return SubmitResult{}, err
	}

	if dup, ok, err := e.existingSubmission(ctx, req.SubmissionID); err != nil {
		metrics.ObserveSubmission(metrics.OutcomeError)
		return SubmitResult{}, err
	} else if ok {
		return dup, nil
	}

	prefs, err := e.prefs.Get(ctx, req.UserID)
	if err != nil {
		metrics.ObserveSubmission(metrics.OutcomeError)
		return SubmitResult{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	policy := e.resolver.Resolve(prefs, req.TriggerType, req.Domain)
	if policy == models.PolicyDisable {
		metrics.ObserveSubmission(metrics.OutcomeSuppressed)
		e.logger.Debug("Candidate suppressed by policy",
			"user_id", req.UserID,
			"trigger_type", req.TriggerType,
			"domain", req.Domain,
		)
		return SubmitResult{Suppressed: true, Policy: policy}, nil
	}

	now := e.now()
	c := &models.AdjustmentCandidate{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Day:           req.Day,
		Domain:        req.Domain,
		TriggerType:   req.TriggerType,
		Payload:       []byte(req.Payload),
		Confidence:    req.Confidence,
		Status:        models.CandidateStatusPending,
		PolicyApplied: policy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.SubmissionID != "" {
		c.SubmissionID = &req.SubmissionID
	}
	if policy == models.PolicyAutoApply {
		deadline := now.Add(time.Duration(e.resolver.GracePeriodMinutes(prefs)) * time.Minute)
		c.GraceDeadline = &deadline
	}

	superseded, err := e.repo.SupersedeAndInsert(ctx, c, now)
	if err != nil {
		// The insert may have lost to a concurrent delivery of the same submission
		if errors.Is(err, ErrPendingSlotTaken) {
			if dup, ok, lookupErr := e.existingSubmission(ctx, req.SubmissionID); lookupErr == nil && ok {
				return dup, nil
			}
		}
		metrics.ObserveSubmission(metrics.OutcomeError)
		return SubmitResult{}, err
	}
	for _, id := range superseded {
		metrics.ObserveTransition(models.CandidateStatusRejected)
		e.markNotification(ctx, id, models.ActionRejected)
	}

	if _, err := e.notifier.Notify(ctx, c, models.NotificationAdjustmentPending, notifications.PriorityFor(c)); err != nil {
		e.logger.Error("Failed to notify pending candidate", "candidate_id", c.ID, "error", err)
	}

	if c.GraceDeadline != nil && e.scheduler != nil {
		if err := e.scheduler.ScheduleAutoApply(ctx, c.ID, *c.GraceDeadline, 0); err != nil {
			// The sweep still finds it
			e.logger.Warn("Failed to schedule auto-apply", "candidate_id", c.ID, "error", err)
		}
	}

	if policy == models.PolicyAutoApply {
		metrics.ObserveSubmission(metrics.OutcomeAutoApply)
	} else {
		metrics.ObserveSubmission(metrics.OutcomeAskMe)
	}
	e.logger.Info("Candidate created",
		"candidate_id", c.ID,
		"user_id", c.UserID,
		"day", c.Day,
		"domain", c.Domain,
		"trigger_type", c.TriggerType,
		"policy", policy,
		"superseded", len(superseded),
	)

	return SubmitResult{Policy: policy, Candidate: c, Superseded: superseded}, nil
}

// existingSubmission returns the result of an earlier delivery of
// submissionID, if one stored a candidate.
func (e *Engine) existingSubmission(ctx context.Context, submissionID string) (SubmitResult, bool, error) {
	if submissionID == "" {
		return SubmitResult{}, false, nil
	}
	c, err := e.repo.GetBySubmission(ctx, submissionID)
	if errors.Is(err, ErrNotFound) {
		return SubmitResult{}, false, nil
	}
	if err != nil {
		return SubmitResult{}, false, err
	}

	metrics.ObserveSubmission(metrics.OutcomeDuplicate)
	e.logger.Info("Duplicate submission ignored",
		"submission_id", submissionID,
		"candidate_id", c.ID,
		"status", c.Status,
	)
	return SubmitResult{Duplicate: true, Policy: c.PolicyApplied, Candidate: c}, true, nil
}

func (e *Engine) validateSubmission(req SubmitRequest) error {
	if req.UserID == 0 {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if _, err := time.Parse(models.DayLayout, req.Day); err != nil {
		return fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalidInput)
	}
	if !models.IsValidDomain(req.Domain) {
		return fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, req.Domain)
	}
	if !models.IsValidTrigger(req.TriggerType) {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidInput, req.TriggerType)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidInput)
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidInput)
	}
	if e.validator != nil {
		if err := e.validator.Validate(req.Domain, req.Payload); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return nil
}

// DecideRequest is a user's approve or reject of a pending candidate.
type DecideRequest struct {
	CandidateID uuid.UUID
	UserID      uint
	Action      string
	Reason      string
	Signals     json.RawMessage
}

// Decide resolves a pending candidate on the user's behalf. Approval only
// takes effect once the plan store has applied the delta; on failure the
// candidate stays pending and ErrExternalApplyFailed is returned.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (*models.AdjustmentCandidate, error) {
	if req.Action != ActionApprove && req.Action != ActionReject {
		return nil, fmt.Errorf("%w: action must be %q or %q", ErrInvalidInput, ActionApprove, ActionReject)
	}

	c, err := e.repo.GetForUser(ctx, req.UserID, req.CandidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CandidateStatusPending {
		return nil, ErrAlreadyDecided
	}

	if req.Action == ActionReject {
		return e.reject(ctx, c, req)
	}
	return e.approve(ctx, c, req)
}

func (e *Engine) approve(ctx context.Context, c *models.AdjustmentCandidate, req DecideRequest) (*models.AdjustmentCandidate, error) {
	pending := []string{models.CandidateStatusPending}

	token, err := e.repo.Claim(ctx, c.ID, pending, e.now(), e.lease, false)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, e.lostDecision(ctx, c.ID)
	}

	if err := e.callPlanStore(ctx, planstore.OperationApply, c); err != nil {
		e.release(ctx, c.ID, token, nil)
		metrics.ObserveCallbackFailure(metrics.OperationApply)
		e.logger.Warn("Plan store apply failed", "candidate_id", c.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrExternalApplyFailed, err)
	}

	now := e.now()
	updates := e.overrideUpdates(c, req.Reason)
	updates["status"] = models.CandidateStatusApproved
	updates["approved_at"] = now
	updates["applied_at"] = now
	updates["last_apply_error"] = ""

	latency := now.Sub(c.CreatedAt)
	won, err := e.repo.Transition(ctx, c.ID, pending, token, now, updates, func(tx *gorm.DB) error {
		_, err := e.feedback.record(tx, FeedbackEntry{
			Candidate: c,
			Action:    FeedbackApproved,
			Signals:   req.Signals,
			Latency:   latency,
			At:        now,
		})
		return err
	})
	if err != nil {
		e.release(ctx, c.ID, token, nil)
		return nil, err
	}
	if !won {
		// Lease ran out during the callback and another actor resolved it
		return nil, ErrAlreadyDecided
	}

	metrics.ObserveTransition(models.CandidateStatusApproved)
	metrics.ObserveDecisionLatency(latency)
	e.markNotification(ctx, c.ID, models.ActionApproved)
	e.logger.Info("Candidate approved", "candidate_id", c.ID, "user_id", c.UserID, "latency_seconds", int64(latency.Seconds()))

	return e.repo.Get(ctx, c.ID)
}

func (e *Engine) reject(ctx context.Context, c *models.AdjustmentCandidate, req DecideRequest) (*models.AdjustmentCandidate, error) {
	now := e.now()
	updates := e.overrideUpdates(c, req.Reason)
	updates["status"] = models.CandidateStatusRejected
	updates["rejected_at"] = now

	latency := now.Sub(c.CreatedAt)
	won, err := e.repo.Transition(ctx, c.ID, []string{models.CandidateStatusPending}, "", now, updates, func(tx *gorm.DB) error {
		_, err := e.feedback.record(tx, FeedbackEntry{
			Candidate: c,
			Action:    FeedbackRejected,
			Signals:   req.Signals,
			Latency:   latency,
			At:        now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, e.lostDecision(ctx, c.ID)
	}

	metrics.ObserveTransition(models.CandidateStatusRejected)
	metrics.ObserveDecisionLatency(latency)
	e.markNotification(ctx, c.ID, models.ActionRejected)
	e.logger.Info("Candidate rejected", "candidate_id", c.ID, "user_id", c.UserID, "overridden", c.PolicyApplied == models.PolicyAutoApply)

	return e.repo.Get(ctx, c.ID)
}

// UndoRequest asks to revert an applied candidate.
type UndoRequest struct {
	CandidateID uuid.UUID
	UserID      uint
	Signals     json.RawMessage
}

// Undo reverts an approved or auto-applied candidate within the user's undo
// window. The candidate is only marked undone after the plan store has
// reverted the delta.
func (e *Engine) Undo(ctx context.Context, req UndoRequest) (*models.AdjustmentCandidate, error) {
	c, err := e.repo.GetForUser(ctx, req.UserID, req.CandidateID)
	if err != nil {
		return nil, err
	}
	if !c.IsApplied() {
		return nil, fmt.Errorf("%w: cannot undo a %s candidate", ErrInvalidStateTransition, c.Status)
	}

	prefs, err := e.prefs.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	window := time.Duration(e.resolver.UndoWindowHours(prefs)) * time.Hour
	appliedAt := appliedTime(c)

	now := e.now()
	if now.Sub(appliedAt) > window {
		return nil, ErrUndoWindowExpired
	}

	applied := []string{models.CandidateStatusApproved, models.CandidateStatusAutoApplied}
	token, err := e.repo.Claim(ctx, c.ID, applied, now, e.lease, false)
	if err != nil {
		return nil, err
	}
	if token == "" {
		current, err := e.repo.Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !current.IsApplied() {
			return nil, fmt.Errorf("%w: cannot undo a %s candidate", ErrInvalidStateTransition, current.Status)
		}
		return nil, ErrCandidateBusy
	}

	if err := e.callPlanStore(ctx, planstore.OperationRevert, c); err != nil {
		e.release(ctx, c.ID, token, nil)
		metrics.ObserveCallbackFailure(metrics.OperationRevert)
		e.logger.Warn("Plan store revert failed", "candidate_id", c.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrExternalRevertFailed, err)
	}

	now = e.now()
	updates := map[string]interface{}{
		"status":      models.CandidateStatusUndone,
		"undone_at":   now,
		"approved_at": nil,
	}
	latency := now.Sub(c.CreatedAt)
	won, err := e.repo.Transition(ctx, c.ID, applied, token, now, updates, func(tx *gorm.DB) error {
		_, err := e.feedback.record(tx, FeedbackEntry{
			Candidate: c,
			Action:    FeedbackUndone,
			Signals:   req.Signals,
			Latency:   latency,
			At:        now,
		})
		return err
	})
	if err != nil {
		e.release(ctx, c.ID, token, nil)
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyDecided
	}

	metrics.ObserveTransition(models.CandidateStatusUndone)
	e.markNotification(ctx, c.ID, models.ActionUndone)
	e.logger.Info("Candidate undone", "candidate_id", c.ID, "user_id", c.UserID, "previous_status", c.Status)

	return e.repo.Get(ctx, c.ID)
}

// ListPending returns the user's pending candidates.
func (e *Engine) ListPending(ctx context.Context, userID uint) ([]models.AdjustmentCandidate, error) {
	return e.repo.ListPending(ctx, userID)
}

// Get returns one of the user's candidates.
func (e *Engine) Get(ctx context.Context, userID uint, id uuid.UUID) (*models.AdjustmentCandidate, error) {
	return e.repo.GetForUser(ctx, userID, id)
}

// History returns every candidate the user had for day.
func (e *Engine) History(ctx context.Context, userID uint, day string) ([]models.AdjustmentCandidate, error) {
	if _, err := time.Parse(models.DayLayout, day); err != nil {
		return nil, fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalidInput)
	}
	return e.repo.History(ctx, userID, day)
}

func (e *Engine) overrideUpdates(c *models.AdjustmentCandidate, reason string) map[string]interface{} {
	updates := map[string]interface{}{}
	if c.PolicyApplied == models.PolicyAutoApply {
		updates["user_overridden"] = true
	}
	if reason != "" {
		updates["override_reason"] = reason
	}
	return updates
}

// lostDecision explains why a pending candidate could not be decided.
func (e *Engine) lostDecision(ctx context.Context, id uuid.UUID) error {
	current, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == models.CandidateStatusPending && claimLive(current, e.now()) {
		return ErrCandidateBusy
	}
	return ErrAlreadyDecided
}

func (e *Engine) callPlanStore(ctx context.Context, operation string, c *models.AdjustmentCandidate) error {
	ctx, cancel := context.WithTimeout(ctx, e.applyTimeout)
	defer cancel()

	delta := planstore.Delta{
		CandidateID: c.ID.String(),
		UserID:      c.UserID,
		Day:         c.Day,
		Domain:      c.Domain,
		Payload:     json.RawMessage(c.Payload),
	}
	if operation == planstore.OperationRevert {
		return e.plans.RevertDelta(ctx, delta)
	}
	return e.plans.ApplyDelta(ctx, delta)
}

func (e *Engine) release(ctx context.Context, id uuid.UUID, token string, extra map[string]interface{}) {
	// The request may already be cancelled; the claim must still go
	ctx = context.WithoutCancel(ctx)
	if err := e.repo.Release(ctx, id, token, e.now(), extra); err != nil {
		e.logger.Error("Failed to release claim", "candidate_id", id, "error", err)
	}
}

func (e *Engine) markNotification(ctx context.Context, id uuid.UUID, action string) {
	if err := e.notifier.MarkActionTaken(ctx, id, action); err != nil {
		e.logger.Warn("Failed to mark notification action", "candidate_id", id, "action", action, "error", err)
	}
}

func claimLive(c *models.AdjustmentCandidate, now time.Time) bool {
	return c.ClaimToken != "" && c.ClaimedUntil != nil && !c.ClaimedUntil.Before(now)
}

// appliedTime is when the candidate's delta went into the plan.
func appliedTime(c *models.AdjustmentCandidate) time.Time {
	switch {
	case c.AppliedAt != nil:
		return *c.AppliedAt
	case c.ApprovedAt != nil:
		return *c.ApprovedAt
	default:
		return c.UpdatedAt
	}
}
