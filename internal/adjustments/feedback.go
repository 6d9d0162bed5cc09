package adjustments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jimdaga/plan-adjust/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Feedback actions
const (
	FeedbackApproved = "approved"
	FeedbackRejected = "rejected"
	FeedbackUndone   = "undone"
)

// FeedbackEntry describes one user decision to record.
type FeedbackEntry struct {
	Candidate *models.AdjustmentCandidate
	Action    string
	Signals   json.RawMessage
	Latency   time.Duration
	At        time.Time
}

// FeedbackRecorder appends decision records. Rows are never updated or
// deleted; offline tuning jobs read them through ListForUser.
type FeedbackRecorder struct {
	db *gorm.DB
}

// NewFeedbackRecorder creates a recorder writing through db.
func NewFeedbackRecorder(db *gorm.DB) *FeedbackRecorder {
	return &FeedbackRecorder{db: db}
}

// Record appends one row.
func (f *FeedbackRecorder) Record(ctx context.Context, entry FeedbackEntry) (*models.AdjustmentFeedback, error) {
	return f.record(f.db.WithContext(ctx), entry)
}

func (f *FeedbackRecorder) record(tx *gorm.DB, entry FeedbackEntry) (*models.AdjustmentFeedback, error) {
	c := entry.Candidate
	if c == nil {
		return nil, fmt.Errorf("%w: feedback needs a candidate", ErrInvalidInput)
	}

	signals := entry.Signals
	if len(signals) == 0 || !json.Valid(signals) {
		signals = json.RawMessage(`{}`)
	}
	latency := int64(entry.Latency / time.Second)
	if latency < 0 {
		latency = 0
	}

	row := &models.AdjustmentFeedback{
		CandidateID:            c.ID,
		UserID:                 c.UserID,
		Action:                 entry.Action,
		TriggerType:            c.TriggerType,
		Domain:                 c.Domain,
		PolicyApplied:          c.PolicyApplied,
		Confidence:             c.Confidence,
		ContextSignals:         datatypes.JSON(signals),
		Payload:                c.Payload,
		DecisionLatencySeconds: latency,
		CreatedAt:              entry.At,
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}
	return row, nil
}

// ListForUser returns the user's most recent feedback rows, newest first.
func (f *FeedbackRecorder) ListForUser(ctx context.Context, userID uint, limit int) ([]models.AdjustmentFeedback, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.AdjustmentFeedback
	if err := f.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return out, nil
}
