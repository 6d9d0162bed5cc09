package api

import (
	"encoding/json"
	"time"

	"github.com/jimdaga/plan-adjust/internal/models"
)

type candidateView struct {
	ID             string          `json:"id"`
	Day            string          `json:"day"`
	Domain         string          `json:"domain"`
	TriggerType    string          `json:"trigger_type"`
	Confidence     float64         `json:"confidence"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	PolicyApplied  string          `json:"policy_applied"`
	GraceDeadline  *time.Time      `json:"grace_deadline,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	RejectedAt     *time.Time      `json:"rejected_at,omitempty"`
	UndoneAt       *time.Time      `json:"undone_at,omitempty"`
	AppliedAt      *time.Time      `json:"applied_at,omitempty"`
	UserOverridden bool            `json:"user_overridden"`
	OverrideReason string          `json:"override_reason,omitempty"`
	SupersededBy   string          `json:"superseded_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newCandidateView(c *models.AdjustmentCandidate) candidateView {
	v := candidateView{
		ID:             c.ID.String(),
		Day:            c.Day,
		Domain:         c.Domain,
		TriggerType:    c.TriggerType,
		Confidence:     c.Confidence,
		Payload:        json.RawMessage(c.Payload),
		Status:         c.Status,
		PolicyApplied:  c.PolicyApplied,
		GraceDeadline:  c.GraceDeadline,
		ApprovedAt:     c.ApprovedAt,
		RejectedAt:     c.RejectedAt,
		UndoneAt:       c.UndoneAt,
		AppliedAt:      c.AppliedAt,
		UserOverridden: c.UserOverridden,
		OverrideReason: c.OverrideReason,
		CreatedAt:      c.CreatedAt,
	}
	if c.SupersededBy != nil {
		v.SupersededBy = c.SupersededBy.String()
	}
	return v
}

func newCandidateViews(cs []models.AdjustmentCandidate) []candidateView {
	out := make([]candidateView, 0, len(cs))
	for i := range cs {
		out = append(out, newCandidateView(&cs[i]))
	}
	return out
}

type notificationView struct {
	ID          uint       `json:"id"`
	CandidateID string     `json:"candidate_id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Priority    string     `json:"priority"`
	ActionTaken string     `json:"action_taken,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newNotificationView(n *models.Notification) notificationView {
	return notificationView{
		ID:          n.ID,
		CandidateID: n.CandidateID.String(),
		Type:        n.Type,
		Title:       n.Title,
		Body:        n.Body,
		Priority:    n.Priority,
		ActionTaken: n.ActionTaken,
		ReadAt:      n.ReadAt,
		DismissedAt: n.DismissedAt,
		ExpiresAt:   n.ExpiresAt,
		CreatedAt:   n.CreatedAt,
	}
}
