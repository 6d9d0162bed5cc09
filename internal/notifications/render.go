package notifications

import (
	"fmt"
	"strings"

	"github.com/jimdaga/plan-adjust/internal/models"
)

var triggerPhrases = map[string]string{
	models.TriggerPoorSleep:     "you slept poorly",
	models.TriggerHighStress:    "your stress is elevated",
	models.TriggerHighSoreness:  "you're reporting high soreness",
	models.TriggerInjury:        "you reported an injury",
	models.TriggerMissedWorkout: "you missed a workout",
	models.TriggerLowAdherence:  "recent adherence has been low",
	models.TriggerHighAdherence: "you've been consistently on plan",
}

// PriorityFor picks a notification priority for a candidate.
func PriorityFor(candidate *models.AdjustmentCandidate) string {
	switch {
	case candidate.TriggerType == models.TriggerInjury:
		return models.PriorityHigh
	case candidate.GraceDeadline != nil:
		// The user only has until the deadline to step in
		return models.PriorityNormal
	case candidate.Confidence < 0.5:
		return models.PriorityLow
	default:
		return models.PriorityNormal
	}
}

func render(c *models.AdjustmentCandidate, notificationType string) (title, body string) {
	reason, ok := triggerPhrases[c.TriggerType]
	if !ok {
		reason = strings.ReplaceAll(c.TriggerType, "_", " ")
	}
	domain := c.Domain

	switch notificationType {
	case models.NotificationAdjustmentPending:
		if c.GraceDeadline != nil {
			return fmt.Sprintf("Adjusting your %s plan for %s", domain, c.Day),
				fmt.Sprintf("Because %s, we'll adjust your %s plan at %s UTC unless you say otherwise.",
					reason, domain, c.GraceDeadline.UTC().Format("15:04"))
		}
		return fmt.Sprintf("Suggested change to your %s plan for %s", domain, c.Day),
			fmt.Sprintf("Because %s, we suggest adjusting your %s plan. Approve or reject it.", reason, domain)
	case models.NotificationAdjustmentAutoApplied:
		return fmt.Sprintf("Your %s plan for %s was adjusted", domain, c.Day),
			fmt.Sprintf("Because %s, we adjusted your %s plan. You can undo this change.", reason, domain)
	default:
		return fmt.Sprintf("Update to your %s plan", domain), ""
	}
}
