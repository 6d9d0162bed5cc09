package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification type constants
const (
	NotificationAdjustmentPending     = "adjustment_pending"
	NotificationAdjustmentAutoApplied = "adjustment_auto_applied"
)

// Notification action constants
const (
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionUndone    = "undone"
	ActionViewed    = "viewed"
	ActionDismissed = "dismissed"
)

// Notification priority constants
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification records that a user must be told about a candidate's state.
// At most one row exists per (candidate, type).
type Notification struct {
	gorm.Model
	UserID      uint       `gorm:"not null;index"`
	CandidateID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_adjustment_notifications_event"`
	Type        string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_adjustment_notifications_event"`
	Title       string     `gorm:"not null;default:''"`
	Body        string     `gorm:"type:text"`
	Priority    string     `gorm:"type:varchar(16);not null;default:'normal'"`
	ActionTaken string     `gorm:"type:varchar(32);not null;default:''"`
	ReadAt      *time.Time
	DismissedAt *time.Time
	ExpiresAt   *time.Time `gorm:"index"`
}

// TableName implements the GORM tabler interface.
func (Notification) TableName() string { return "adjustment_notifications" }
