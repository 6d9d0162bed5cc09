package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AdjustmentFeedback is an append-only record of one user decision on a
// candidate, read by offline policy tuning jobs.
type AdjustmentFeedback struct {
	ID                     uint           `gorm:"primaryKey"`
	CandidateID            uuid.UUID      `gorm:"type:uuid;not null;index"`
	UserID                 uint           `gorm:"not null;index"`
	Action                 string         `gorm:"type:varchar(32);not null"`
	TriggerType            string         `gorm:"type:varchar(64);not null"`
	Domain                 string         `gorm:"type:varchar(32);not null"`
	PolicyApplied          string         `gorm:"type:varchar(32);not null"`
	Confidence             float64        `gorm:"not null;default:0"`
	ContextSignals         datatypes.JSON `gorm:"type:jsonb"`
	Payload                datatypes.JSON `gorm:"type:jsonb"`
	DecisionLatencySeconds int64          `gorm:"not null;default:0"`
	CreatedAt              time.Time
}

// TableName implements the GORM tabler interface.
func (AdjustmentFeedback) TableName() string { return "adjustment_feedback" }
