package preferences

import "github.com/jimdaga/plan-adjust/internal/models"

// Resolver maps a proposed trigger/domain to a policy for one user.
type Resolver struct {
	defaults Defaults
}

// NewResolver creates a Resolver backed by the given defaults.
func NewResolver(defaults Defaults) *Resolver {
	return &Resolver{defaults: defaults}
}

// Resolve returns the policy for trigger/domain. A nil prefs means the user
// has no row yet. It never fails: unknown or malformed entries fall back to
// the defaults, and pairs missing from the defaults resolve to ask_me.
func (r *Resolver) Resolve(prefs *models.AdjustmentPreferences, trigger, domain string) string {
	enabled := r.defaults.Enabled
	if prefs != nil {
		enabled = prefs.Enabled
	}
	if !enabled {
		return models.PolicyDisable
	}

	key := models.PolicyKey(trigger, domain)
	if prefs != nil {
		if policy, ok := prefs.PolicyMap()[key]; ok && models.IsValidPolicy(policy) {
			return policy
		}
	}
	if policy, ok := r.defaults.Policies[key]; ok {
		return policy
	}
	return models.PolicyAskMe
}

// GracePeriodMinutes returns the user's grace period, or the default.
func (r *Resolver) GracePeriodMinutes(prefs *models.AdjustmentPreferences) int {
	if prefs != nil && prefs.GracePeriodMinutes > 0 {
		return prefs.GracePeriodMinutes
	}
	return r.defaults.GracePeriodMinutes
}

// UndoWindowHours returns the user's undo window, or the default.
func (r *Resolver) UndoWindowHours(prefs *models.AdjustmentPreferences) int {
	if prefs != nil && prefs.UndoWindowHours > 0 {
		return prefs.UndoWindowHours
	}
	return r.defaults.UndoWindowHours
}

// Effective expands prefs into a complete view with every pair filled in.
func (r *Resolver) Effective(prefs *models.AdjustmentPreferences) View {
	view := View{
		Enabled:            r.defaults.Enabled,
		GracePeriodMinutes: r.GracePeriodMinutes(prefs),
		UndoWindowHours:    r.UndoWindowHours(prefs),
		Policies:           make(map[string]map[string]string, len(models.Domains)),
	}
	if prefs != nil {
		view.Enabled = prefs.Enabled
	}
	overrides := prefs.PolicyMap()
	for _, domain := range models.Domains {
		view.Policies[domain] = make(map[string]string, len(models.TriggerTypes))
		for _, trigger := range models.TriggerTypes {
			key := models.PolicyKey(trigger, domain)
			policy, ok := overrides[key]
			if !ok || !models.IsValidPolicy(policy) {
				policy = r.defaults.Policies[key]
			}
			if policy == "" {
				policy = models.PolicyAskMe
			}
			view.Policies[domain][trigger] = policy
		}
	}
	return view
}

// View is the fully resolved preference set returned to the user surface.
type View struct {
	Enabled            bool                         `json:"enabled"`
	GracePeriodMinutes int                          `json:"grace_period_minutes"`
	UndoWindowHours    int                          `json:"undo_window_hours"`
	Policies           map[string]map[string]string `json:"policies"`
}
