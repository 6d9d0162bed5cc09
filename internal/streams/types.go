package streams

import "encoding/json"

// Stream name constants
const (
	StreamCandidateSubmissions = "adjustments:candidates"
	StreamNotificationEvents   = "adjustments:notifications"
)

// Consumer group constants
const (
	GroupAdjustmentEngine = "adjustment-engine" // consumes candidate submissions
	GroupNotifier         = "notifier"          // delivery service, outside this repo
)

// Schema version constant
const (
	SchemaVersionV1 = "v1"
)

// CandidateSubmission is a suggested adjustment published by the analytics
// component.
type CandidateSubmission struct {
	SubmissionID string          `json:"submission_id"`
	UserID       uint            `json:"user_id"`
	Day          string          `json:"day"`
	Domain       string          `json:"domain"`
	TriggerType  string          `json:"trigger_type"`
	Confidence   float64         `json:"confidence"`
	Payload      json.RawMessage `json:"payload"`
}

// NotificationEvent announces a newly created notification so a delivery
// service can push it to the user.
type NotificationEvent struct {
	NotificationID uint   `json:"notification_id"`
	CandidateID    string `json:"candidate_id"`
	UserID         uint   `json:"user_id"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}
