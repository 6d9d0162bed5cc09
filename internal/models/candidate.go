package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Candidate status constants
const (
	CandidateStatusPending     = "pending"
	CandidateStatusApproved    = "approved"
	CandidateStatusRejected    = "rejected"
	CandidateStatusAutoApplied = "auto_applied"
	CandidateStatusUndone      = "undone"
)

// Domain constants
const (
	DomainTraining  = "training"
	DomainNutrition = "nutrition"
)

// Trigger type constants
const (
	TriggerPoorSleep     = "poor_sleep"
	TriggerHighStress    = "high_stress"
	TriggerHighSoreness  = "high_soreness"
	TriggerInjury        = "injury"
	TriggerMissedWorkout = "missed_workout"
	TriggerLowAdherence  = "low_adherence"
	TriggerHighAdherence = "high_adherence"
)

// DayLayout is the calendar day format used for AdjustmentCandidate.Day
const DayLayout = "2006-01-02"

// OverrideReasonSuperseded marks a pending candidate replaced by a newer one
// for the same user, day and domain.
const OverrideReasonSuperseded = "superseded"

// OverrideReasonExpired marks an ask_me candidate rejected by the pending TTL.
const OverrideReasonExpired = "expired"

// Domains lists every adjustable plan domain.
var Domains = []string{DomainTraining, DomainNutrition}

// TriggerTypes lists every trigger the engine accepts.
var TriggerTypes = []string{
	TriggerPoorSleep,
	TriggerHighStress,
	TriggerHighSoreness,
	TriggerInjury,
	TriggerMissedWorkout,
	TriggerLowAdherence,
	TriggerHighAdherence,
}

// AdjustmentCandidate is one proposed change to a user's plan for one day and
// one domain. Rows are never deleted; terminal states are kept for audit.
type AdjustmentCandidate struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SubmissionID   *string        `gorm:"type:varchar(128);uniqueIndex:idx_adjustment_candidates_submission"`
	UserID         uint           `gorm:"not null;index;uniqueIndex:idx_adjustment_candidates_pending_slot,where:status = 'pending'"`
	Day            string         `gorm:"type:varchar(10);not null;uniqueIndex:idx_adjustment_candidates_pending_slot,where:status = 'pending'"`
	Domain         string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_adjustment_candidates_pending_slot,where:status = 'pending'"`
	TriggerType    string         `gorm:"type:varchar(64);not null"`
	Payload        datatypes.JSON `gorm:"type:jsonb"`
	Confidence     float64        `gorm:"not null;default:0"`
	Status         string         `gorm:"type:varchar(32);not null;default:'pending';index"`
	PolicyApplied  string         `gorm:"type:varchar(32);not null"`
	GraceDeadline  *time.Time     `gorm:"index"`
	ApprovedAt     *time.Time
	RejectedAt     *time.Time
	UndoneAt       *time.Time
	AppliedAt      *time.Time
	UserOverridden bool       `gorm:"not null;default:false"`
	OverrideReason string     `gorm:"type:text"`
	SupersededBy   *uuid.UUID `gorm:"type:uuid"`
	ApplyAttempts  int        `gorm:"not null;default:0"`
	LastApplyError string     `gorm:"type:text"`
	ClaimToken     string     `gorm:"type:varchar(64);not null;default:''"`
	ClaimedUntil   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName implements the GORM tabler interface.
func (AdjustmentCandidate) TableName() string { return "adjustment_candidates" }

// IsApplied reports whether the candidate's delta is currently in the plan.
func (c *AdjustmentCandidate) IsApplied() bool {
	return c.Status == CandidateStatusApproved || c.Status == CandidateStatusAutoApplied
}

// IsValidDomain reports whether d names a known domain.
func IsValidDomain(d string) bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// IsValidTrigger reports whether t names a known trigger type.
func IsValidTrigger(t string) bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}
