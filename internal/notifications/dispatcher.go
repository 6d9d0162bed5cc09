// Package notifications decides that, and what, a user must be told about
// adjustment candidates. Delivery happens downstream of the event stream.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/plan-adjust/internal/models"
	"github.com/jimdaga/plan-adjust/internal/streams"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// EventPublisher forwards newly created notifications to a delivery service.
type EventPublisher interface {
	PublishNotification(ctx context.Context, event streams.NotificationEvent) (string, error)
}

// Dispatcher creates and tracks Notification rows.
type Dispatcher struct {
	db        *gorm.DB
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. publisher may be nil, in which case
// notifications are only stored.
func NewDispatcher(db *gorm.DB, publisher EventPublisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		db:        db,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the dispatcher's time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Notify records a notification for the candidate. It is idempotent on
// (candidate, type): a repeated call returns the existing row and publishes
// nothing.
func (d *Dispatcher) Notify(ctx context.Context, candidate *models.AdjustmentCandidate, notificationType, priority string) (*models.Notification, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate is required")
	}
	if priority == "" {
		priority = models.PriorityNormal
	}

	n := &models.Notification{
		UserID:      candidate.UserID,
		CandidateID: candidate.ID,
		Type:        notificationType,
		Priority:    priority,
	}
	n.Title, n.Body = render(candidate, notificationType)
	if notificationType == models.NotificationAdjustmentPending && candidate.GraceDeadline != nil {
		// Past the deadline the question is moot; the auto-applied notice replaces it
		expires := *candidate.GraceDeadline
		n.ExpiresAt = &expires
	}

	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create notification: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var existing models.Notification
		if err := d.db.WithContext(ctx).
			Where("candidate_id = ? AND type = ?", candidate.ID, notificationType).
			First(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to load existing notification: %w", err)
		}
		return &existing, nil
	}

	d.publish(ctx, n)
	return n, nil
}

func (d *Dispatcher) publish(ctx context.Context, n *models.Notification) {
	if d.publisher == nil {
		return
	}
	event := streams.NotificationEvent{
		NotificationID: n.ID,
		CandidateID:    n.CandidateID.String(),
		UserID:         n.UserID,
		Type:           n.Type,
		Priority:       n.Priority,
		Title:          n.Title,
		Body:           n.Body,
	}
	if n.ExpiresAt != nil {
		event.ExpiresAt = n.ExpiresAt.Unix()
	}
	msgID, err := d.publisher.PublishNotification(ctx, event)
	if err != nil {
		// The stored row is authoritative; delivery can catch up from the table
		d.logger.Warn("Failed to publish notification event",
			"notification_id", n.ID,
			"candidate_id", n.CandidateID,
			"error", err,
		)
		return
	}
	d.logger.Debug("Notification event published", "notification_id", n.ID, "stream_msg_id", msgID)
}

// MarkActionTaken mirrors a candidate's resolution onto its notifications.
// Best-effort: a candidate without notifications is not an error.
func (d *Dispatcher) MarkActionTaken(ctx context.Context, candidateID uuid.UUID, action string) error {
	result := d.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("candidate_id = ?", candidateID).
		Update("action_taken", action)
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification action: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		d.logger.Debug("No notification to mark", "candidate_id", candidateID, "action", action)
	}
	return nil
}

// List returns the user's live notifications, newest first. Dismissed and
// expired notifications are left out.
func (d *Dispatcher) List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := d.db.WithContext(ctx).
		Where("user_id = ? AND dismissed_at IS NULL", userID).
		Where("expires_at IS NULL OR expires_at > ?", d.now())
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}

	var out []models.Notification
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// MarkRead sets read_at and records a "viewed" action unless the candidate
// was already resolved.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID uint) (*models.Notification, error) {
	n, err := d.get(ctx, userID, notificationID)
	if err != nil {
		return nil, err
	}
	if n.ReadAt != nil {
		return n, nil
	}

	now := d.now()
	updates := map[string]interface{}{"read_at": now}
	if n.ActionTaken == "" {
		updates["action_taken"] = models.ActionViewed
	}
	if err := d.db.WithContext(ctx).Model(n).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n.ReadAt = &now
	if n.ActionTaken == "" {
		n.ActionTaken = models.ActionViewed
	}
	return n, nil
}

// Dismiss hides the notification. The underlying candidate is unaffected.
func (d *Dispatcher) Dismiss(ctx context.Context, userID, notificationID uint) (*models.Notification, error) {
	n, err := d.get(ctx, userID, notificationID)
	if err != nil {
		return nil, err
	}
	if n.DismissedAt != nil {
		return n, nil
	}

	now := d.now()
	updates := map[string]interface{}{"dismissed_at": now}
	if n.ActionTaken == "" || n.ActionTaken == models.ActionViewed {
		updates["action_taken"] = models.ActionDismissed
	}
	if err := d.db.WithContext(ctx).Model(n).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to dismiss notification: %w", err)
	}
	n.DismissedAt = &now
	if action, ok := updates["action_taken"].(string); ok {
		n.ActionTaken = action
	}
	return n, nil
}

func (d *Dispatcher) get(ctx context.Context, userID, notificationID uint) (*models.Notification, error) {
	var n models.Notification
	err := d.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	return &n, nil
}
