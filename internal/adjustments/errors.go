package adjustments

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyDecided means a concurrent actor resolved the candidate first.
	ErrAlreadyDecided = errors.New("candidate already decided")
	// ErrInvalidStateTransition means the requested transition is not legal
	// from the candidate's current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrUndoWindowExpired means the applied change is older than the user's
	// undo window.
	ErrUndoWindowExpired = errors.New("undo window expired")
	// ErrExternalApplyFailed means the plan store did not apply the delta.
	ErrExternalApplyFailed = errors.New("plan store apply failed")
	// ErrExternalRevertFailed means the plan store did not revert the delta.
	ErrExternalRevertFailed = errors.New("plan store revert failed")
	// ErrNotFound means no candidate with that id belongs to the user.
	ErrNotFound = errors.New("candidate not found")
	// ErrInvalidInput means a submission or request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrCandidateBusy means another actor holds the candidate's claim while it
// calls the plan store. It is a lost race, so it also matches
// ErrAlreadyDecided; callers wanting to retry check for it first.
var ErrCandidateBusy = fmt.Errorf("%w: candidate is being applied", ErrAlreadyDecided)

// ErrPendingSlotTaken means a concurrent submission for the same user, day
// and domain inserted its pending candidate first.
var ErrPendingSlotTaken = fmt.Errorf("%w: another submission took the pending slot", ErrAlreadyDecided)
