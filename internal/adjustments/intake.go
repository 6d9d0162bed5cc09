package adjustments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jimdaga/plan-adjust/internal/streams"
)

// SubmitCandidate feeds a stream submission through Submit. Validation
// failures are marked permanent so the consumer drops them instead of
// redelivering.
func (e *Engine) SubmitCandidate(ctx context.Context, sub streams.CandidateSubmission) error {
	result, err := e.Submit(ctx, SubmitRequest{
		SubmissionID: sub.SubmissionID,
		UserID:       sub.UserID,
		Day:          sub.Day,
		Domain:       sub.Domain,
		TriggerType:  sub.TriggerType,
		Confidence:   sub.Confidence,
		Payload:      sub.Payload,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return fmt.Errorf("%w: %w", streams.ErrPermanent, err)
		}
		return fmt.Errorf("submission %s: %w", sub.SubmissionID, err)
	}

	if result.Suppressed {
		e.logger.Debug("Stream submission suppressed", "submission_id", sub.SubmissionID)
		return nil
	}
	if result.Duplicate {
		return nil
	}
	e.logger.Debug("Stream submission stored", "submission_id", sub.SubmissionID, "candidate_id", result.Candidate.ID)
	return nil
}
