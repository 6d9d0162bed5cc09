// Package planstore applies and reverts adjustment deltas against the
// external plan-management service.
package planstore

import "encoding/json"

// Delta operation names, also used in the idempotency key
const (
	OperationApply  = "apply"
	OperationRevert = "revert"
)

// Delta identifies one change to one user's plan for one day and domain.
type Delta struct {
	CandidateID string          `json:"candidate_id"`
	UserID      uint            `json:"user_id"`
	Day         string          `json:"day"`
	Domain      string          `json:"domain"`
	Payload     json.RawMessage `json:"payload"`
}

// IdempotencyKey lets the plan store de-duplicate retries of the same operation.
func (d Delta) IdempotencyKey(operation string) string {
	return d.CandidateID + ":" + operation
}

// deltaResponse is the body the plan store answers with.
type deltaResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
