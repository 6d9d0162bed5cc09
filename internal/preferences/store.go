package preferences

import (
	"context"
	"errors"
	"fmt"

	"github.com/jimdaga/plan-adjust/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidPreferences is returned when an update carries values outside
// the accepted ranges.
var ErrInvalidPreferences = errors.New("invalid preferences")

// Update carries a partial change to a user's preferences. Nil fields are
// left untouched; Policies entries are merged into the stored overrides.
type Update struct {
	Enabled            *bool                        `json:"enabled"`
	GracePeriodMinutes *int                         `json:"grace_period_minutes"`
	UndoWindowHours    *int                         `json:"undo_window_hours"`
	Policies           map[string]map[string]string `json:"policies"`
}

// Store persists AdjustmentPreferences keyed by user id.
type Store struct {
	db       *gorm.DB
	defaults Defaults
}

// NewStore creates a preference store. New rows are seeded from defaults.
func NewStore(db *gorm.DB, defaults Defaults) *Store {
	return &Store{db: db, defaults: defaults}
}

// Get returns the user's row, or nil when the user never saved preferences.
func (s *Store) Get(ctx context.Context, userID uint) (*models.AdjustmentPreferences, error) {
	var prefs models.AdjustmentPreferences
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return &prefs, nil
}

// GetOrCreate returns the user's row, creating it from the defaults on first use.
func (s *Store) GetOrCreate(ctx context.Context, userID uint) (*models.AdjustmentPreferences, error) {
	prefs, err := s.Get(ctx, userID)
	if err != nil || prefs != nil {
		return prefs, err
	}

	prefs = s.newRow(userID)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(prefs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create preferences: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost a race with a concurrent create
		return s.Get(ctx, userID)
	}
	return prefs, nil
}

// Apply validates and merges u into the user's preferences.
func (s *Store) Apply(ctx context.Context, userID uint, u Update) (*models.AdjustmentPreferences, error) {
	if err := validateUpdate(u); err != nil {
		return nil, err
	}

	prefs, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.Enabled != nil {
		prefs.Enabled = *u.Enabled
	}
	if u.GracePeriodMinutes != nil {
		prefs.GracePeriodMinutes = *u.GracePeriodMinutes
	}
	if u.UndoWindowHours != nil {
		prefs.UndoWindowHours = *u.UndoWindowHours
	}
	if len(u.Policies) > 0 {
		policies := prefs.PolicyMap()
		for domain, byTrigger := range u.Policies {
			for trigger, policy := range byTrigger {
				policies[models.PolicyKey(trigger, domain)] = policy
			}
		}
		if err := prefs.SetPolicyMap(policies); err != nil {
			return nil, fmt.Errorf("failed to encode policies: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).Model(prefs).Updates(map[string]interface{}{
		"enabled":              prefs.Enabled,
		"grace_period_minutes": prefs.GracePeriodMinutes,
		"undo_window_hours":    prefs.UndoWindowHours,
		"policies":             prefs.Policies,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update preferences: %w", err)
	}

	return prefs, nil
}

func (s *Store) newRow(userID uint) *models.AdjustmentPreferences {
	prefs := &models.AdjustmentPreferences{
		UserID:             userID,
		Enabled:            s.defaults.Enabled,
		GracePeriodMinutes: s.defaults.GracePeriodMinutes,
		UndoWindowHours:    s.defaults.UndoWindowHours,
	}
	// Overrides start empty so later changes to the defaults still reach the user
	_ = prefs.SetPolicyMap(nil)
	return prefs
}

func validateUpdate(u Update) error {
	if u.GracePeriodMinutes != nil && (*u.GracePeriodMinutes < 1 || *u.GracePeriodMinutes > 24*60) {
		return fmt.Errorf("%w: grace_period_minutes must be between 1 and 1440", ErrInvalidPreferences)
	}
	if u.UndoWindowHours != nil && (*u.UndoWindowHours < 1 || *u.UndoWindowHours > 24*7) {
		return fmt.Errorf("%w: undo_window_hours must be between 1 and 168", ErrInvalidPreferences)
	}
	for domain, byTrigger := range u.Policies {
		if !models.IsValidDomain(domain) {
			return fmt.Errorf("%w: unknown domain %q", ErrInvalidPreferences, domain)
		}
		for trigger, policy := range byTrigger {
			if !models.IsValidTrigger(trigger) {
				return fmt.Errorf("%w: unknown trigger %q", ErrInvalidPreferences, trigger)
			}
			if !models.IsValidPolicy(policy) {
				return fmt.Errorf("%w: invalid policy %q", ErrInvalidPreferences, policy)
			}
		}
	}
	return nil
}
