package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/plan-adjust/internal/adjustments"
	"github.com/jimdaga/plan-adjust/internal/notifications"
	"github.com/jimdaga/plan-adjust/internal/preferences"
)

// writeError maps engine errors to a status and a message a user can act on.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, adjustments.ErrInvalidInput), errors.Is(err, preferences.ErrInvalidPreferences):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, adjustments.ErrNotFound), errors.Is(err, notifications.ErrNotFound):
		return http.StatusNotFound, "not found"
	// Busy and slot-taken must be checked before already-decided, which they wrap
	case errors.Is(err, adjustments.ErrCandidateBusy):
		return http.StatusConflict, "this adjustment is being applied right now, try again shortly"
	case errors.Is(err, adjustments.ErrPendingSlotTaken):
		return http.StatusConflict, "another suggestion for this day arrived at the same time, try again"
	case errors.Is(err, adjustments.ErrAlreadyDecided):
		return http.StatusConflict, "this was already decided"
	case errors.Is(err, adjustments.ErrInvalidStateTransition):
		return http.StatusConflict, "this adjustment can't be undone"
	case errors.Is(err, adjustments.ErrUndoWindowExpired):
		return http.StatusGone, "the undo window for this adjustment has passed"
	case errors.Is(err, adjustments.ErrExternalApplyFailed):
		return http.StatusBadGateway, "couldn't apply, try again"
	case errors.Is(err, adjustments.ErrExternalRevertFailed):
		return http.StatusBadGateway, "couldn't undo, try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
