package adjustments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/plan-adjust/internal/models"
	"gorm.io/gorm"
)

// Repository persists adjustment candidates. Every status change is a
// conditional update whose affected-row count decides the winner.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a candidate repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get loads a candidate by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.AdjustmentCandidate, error) {
	var c models.AdjustmentCandidate
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate: %w", err)
	}
	return &c, nil
}

// GetBySubmission loads the candidate stored for an upstream submission id.
func (r *Repository) GetBySubmission(ctx context.Context, submissionID string) (*models.AdjustmentCandidate, error) {
	var c models.AdjustmentCandidate
	err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate by submission: %w", err)
	}
	return &c, nil
}

// GetForUser loads a candidate owned by userID. Candidates of other users
// are reported as not found.
func (r *Repository) GetForUser(ctx context.Context, userID uint, id uuid.UUID) (*models.AdjustmentCandidate, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

// ListPending returns the user's pending candidates, oldest day first.
func (r *Repository) ListPending(ctx context.Context, userID uint) ([]models.AdjustmentCandidate, error) {
	var out []models.AdjustmentCandidate
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.CandidateStatusPending).
		Order("day ASC").Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending candidates: %w", err)
	}
	return out, nil
}

// History returns every candidate for the user's day in creation order,
// including superseded and undone ones.
func (r *Repository) History(ctx context.Context, userID uint, day string) ([]models.AdjustmentCandidate, error) {
	var out []models.AdjustmentCandidate
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Order("created_at ASC").Order("domain ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list candidate history: %w", err)
	}
	return out, nil
}

// ListDue returns ids of pending candidates whose grace deadline has passed.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.AdjustmentCandidate{}).
		Where("status = ? AND grace_deadline IS NOT NULL AND grace_deadline <= ?", models.CandidateStatusPending, now).
		Order("grace_deadline ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list due candidates: %w", err)
	}
	return ids, nil
}

// ListStale returns ids of pending ask_me candidates created before cutoff.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.AdjustmentCandidate{}).
		Where("status = ? AND grace_deadline IS NULL AND created_at <= ?", models.CandidateStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale candidates: %w", err)
	}
	return ids, nil
}

// SupersedeAndInsert rejects any pending candidate for c's user, day and
// domain and inserts c in the same transaction. It returns the ids it
// superseded. A pending candidate under a live claim cannot be replaced and
// yields ErrCandidateBusy; losing the insert to a concurrent submission yields
// ErrPendingSlotTaken.
func (r *Repository) SupersedeAndInsert(ctx context.Context, c *models.AdjustmentCandidate, now time.Time) ([]uuid.UUID, error) {
	var superseded []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.AdjustmentCandidate
		if err := tx.Where("user_id = ? AND day = ? AND domain = ? AND status = ?",
			c.UserID, c.Day, c.Domain, models.CandidateStatusPending).
			Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to find pending candidates: %w", err)
		}

		for _, old := range existing {
			res := tx.Model(&models.AdjustmentCandidate{}).
				Where("id = ? AND status = ?", old.ID, models.CandidateStatusPending).
				Where("claim_token = '' OR claimed_until IS NULL OR claimed_until < ?", now).
				Updates(map[string]interface{}{
					"status":          models.CandidateStatusRejected,
					"rejected_at":     now,
					"override_reason": models.OverrideReasonSuperseded,
					"superseded_by":   c.ID,
					"updated_at":      now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to supersede candidate %s: %w", old.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrCandidateBusy
			}
			superseded = append(superseded, old.ID)
		}

		if err := tx.Create(c).Error; err != nil {
			// Either the pending slot or the submission id was taken concurrently
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrPendingSlotTaken
			}
			return fmt.Errorf("failed to insert candidate: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// Claim takes a short lease on the candidate so that only the caller talks
// to the plan store for it. It returns an empty token when the candidate is
// not in one of the given statuses, is claimed by someone else, or (with
// dueOnly) its grace deadline has not passed.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, statuses []string, now time.Time, lease time.Duration, dueOnly bool) (string, error) {
	token := uuid.NewString()
	q := r.db.WithContext(ctx).
		Model(&models.AdjustmentCandidate{}).
		Where("id = ? AND status IN ?", id, statuses).
		Where("claim_token = '' OR claimed_until IS NULL OR claimed_until < ?", now)
	if dueOnly {
		q = q.Where("grace_deadline IS NOT NULL AND grace_deadline <= ?", now)
	}
	res := q.Updates(map[string]interface{}{
		"claim_token":   token,
		"claimed_until": now.Add(lease),
		"updated_at":    now,
	})
	if res.Error != nil {
		return "", fmt.Errorf("failed to claim candidate: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", nil
	}
	return token, nil
}

// Release drops the caller's claim without changing status. extra carries
// any bookkeeping to write alongside, such as a pushed deadline.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, token string, now time.Time, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"claim_token":   "",
		"claimed_until": nil,
		"updated_at":    now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.AdjustmentCandidate{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to release claim: %w", res.Error)
	}
	return nil
}

// Transition moves a candidate from one of the statuses in from, applying
// updates and clearing any claim. With a token the caller must still hold
// that claim; without one, no live claim may exist. within runs in the
// same transaction after the update succeeds. It reports false when the
// conditional update matched no row.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from []string, token string, now time.Time, updates map[string]interface{}, within func(tx *gorm.DB) error) (bool, error) {
	set := map[string]interface{}{
		"claim_token":   "",
		"claimed_until": nil,
		"updated_at":    now,
	}
	for k, v := range updates {
		set[k] = v
	}

	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.AdjustmentCandidate{}).Where("id = ? AND status IN ?", id, from)
		if token != "" {
			q = q.Where("claim_token = ?", token)
		} else {
			q = q.Where("claim_token = '' OR claimed_until IS NULL OR claimed_until < ?", now)
		}
		res := q.Updates(set)
		if res.Error != nil {
			return fmt.Errorf("failed to update candidate: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		if within != nil {
			return within(tx)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}
