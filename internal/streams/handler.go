package streams

import (
	"context"
	"errors"
	"log/slog"
)

// ErrPermanent marks a submission that will never succeed on redelivery.
// Submitters wrap validation failures with it.
var ErrPermanent = errors.New("permanent submission failure")

// Submitter receives candidate submissions read from the stream.
type Submitter interface {
	SubmitCandidate(ctx context.Context, sub CandidateSubmission) error
}

// HandleCandidateSubmission returns a handler that forwards submissions to
// the submitter. Permanent failures are logged and acknowledged; any other
// error leaves the message pending for redelivery.
func HandleCandidateSubmission(submitter Submitter, logger *slog.Logger) func(context.Context, CandidateSubmission) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, sub CandidateSubmission) error {
		err := submitter.SubmitCandidate(ctx, sub)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			logger.Warn("Discarding submission",
				"submission_id", sub.SubmissionID,
				"user_id", sub.UserID,
				"trigger_type", sub.TriggerType,
				"error", err,
			)
			return nil
		}
		return err
	}
}
