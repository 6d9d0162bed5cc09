package database

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/plan-adjust/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DevUserID is the user id the development seed data belongs to.
const DevUserID uint = 1

// SeedDevData populates the database with development test data.
// Everything is written in one transaction, so a failed seed leaves nothing
// behind and the next start retries it. Skips if data already exists.
func SeedDevData(db *gorm.DB) error {
	seeded := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.AdjustmentPreferences{}).Where("user_id = ?", DevUserID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		prefs := models.AdjustmentPreferences{
			UserID:             DevUserID,
			Enabled:            true,
			GracePeriodMinutes: 60,
			UndoWindowHours:    24,
			Policies: datatypes.JSON([]byte(`{
				"poor_sleep:training": "auto_apply",
				"low_adherence:nutrition": "disable"
			}`)),
		}
		if err := tx.Create(&prefs).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		today := now.Format(models.DayLayout)
		yesterday := now.Add(-24 * time.Hour).Format(models.DayLayout)

		// One open question for the user and one already-applied change they can undo
		pending := models.AdjustmentCandidate{
			ID:            uuid.New(),
			UserID:        DevUserID,
			Day:           today,
			Domain:        models.DomainNutrition,
			TriggerType:   models.TriggerHighStress,
			Payload:       datatypes.JSON([]byte(`{"calories_delta": 150, "reason": "elevated stress"}`)),
			Confidence:    0.72,
			Status:        models.CandidateStatusPending,
			PolicyApplied: models.PolicyAskMe,
			CreatedAt:     now,
		}
		if err := tx.Create(&pending).Error; err != nil {
			return err
		}

		appliedAt := now.Add(-2 * time.Hour)
		applied := models.AdjustmentCandidate{
			ID:            uuid.New(),
			UserID:        DevUserID,
			Day:           yesterday,
			Domain:        models.DomainTraining,
			TriggerType:   models.TriggerPoorSleep,
			Payload:       datatypes.JSON([]byte(`{"volume_multiplier": 0.8, "intensity_cap_rpe": 7}`)),
			Confidence:    0.85,
			Status:        models.CandidateStatusAutoApplied,
			PolicyApplied: models.PolicyAutoApply,
			GraceDeadline: &appliedAt,
			AppliedAt:     &appliedAt,
			CreatedAt:     appliedAt.Add(-60 * time.Minute),
		}
		if err := tx.Create(&applied).Error; err != nil {
			return err
		}

		notes := []models.Notification{
			{
				UserID:      DevUserID,
				CandidateID: pending.ID,
				Type:        models.NotificationAdjustmentPending,
				Title:       "Suggested change to your nutrition plan for " + today,
				Body:        "Because your stress is elevated, we suggest adjusting your nutrition plan. Approve or reject it.",
				Priority:    models.PriorityNormal,
			},
			{
				UserID:      DevUserID,
				CandidateID: applied.ID,
				Type:        models.NotificationAdjustmentAutoApplied,
				Title:       "Your training plan for " + yesterday + " was adjusted",
				Body:        "Because you slept poorly, we adjusted your training plan. You can undo this change.",
				Priority:    models.PriorityNormal,
			},
		}
		if err := tx.Create(&notes).Error; err != nil {
			return err
		}

		seeded = true
		return nil
	})
	if err != nil {
		return err
	}

	if !seeded {
		log.Println("Seed data already exists, skipping")
		return nil
	}
	log.Println("Seeded dev data: 1 preference set, 2 adjustment candidates, 2 notifications")
	return nil
}
