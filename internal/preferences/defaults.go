package preferences

import (
	"bytes"
	"fmt"
	"os"

	"github.com/jimdaga/plan-adjust/internal/models"
	"gopkg.in/yaml.v3"
)

// Defaults is the system-wide policy applied to users without a preference
// row, and to pairs a user never set. Every trigger/domain pair has an entry.
type Defaults struct {
	Enabled            bool
	GracePeriodMinutes int
	UndoWindowHours    int
	Policies           map[string]string
}

// DefaultsFile is the YAML layout accepted by LoadDefaults.
//
//	grace_period_minutes: 90
//	undo_window_hours: 24
//	policies:
//	  training:
//	    poor_sleep: auto_apply
type DefaultsFile struct {
	Enabled            *bool                        `yaml:"enabled"`
	GracePeriodMinutes int                          `yaml:"grace_period_minutes"`
	UndoWindowHours    int                          `yaml:"undo_window_hours"`
	Policies           map[string]map[string]string `yaml:"policies"`
}

// SystemDefaults returns the built-in policy matrix. Recovery signals that
// only lower training load auto-apply; anything touching injuries or
// nutrition asks first.
func SystemDefaults() Defaults {
	d := Defaults{
		Enabled:            true,
		GracePeriodMinutes: 120,
		UndoWindowHours:    24,
		Policies:           make(map[string]string),
	}
	for _, trigger := range models.TriggerTypes {
		for _, domain := range models.Domains {
			d.Policies[models.PolicyKey(trigger, domain)] = models.PolicyAskMe
		}
	}
	d.Policies[models.PolicyKey(models.TriggerPoorSleep, models.DomainTraining)] = models.PolicyAutoApply
	d.Policies[models.PolicyKey(models.TriggerHighSoreness, models.DomainTraining)] = models.PolicyAutoApply
	d.Policies[models.PolicyKey(models.TriggerHighStress, models.DomainTraining)] = models.PolicyAutoApply
	return d
}

// LoadDefaults reads a YAML defaults file and layers it over SystemDefaults.
// Unknown keys, triggers, domains and policies are rejected.
func LoadDefaults(path string) (Defaults, error) {
	d := SystemDefaults()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("failed to read policy defaults: %w", err)
	}

	var file DefaultsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return d, fmt.Errorf("failed to parse policy defaults: %w", err)
	}

	if file.Enabled != nil {
		d.Enabled = *file.Enabled
	}
	if file.GracePeriodMinutes < 0 || file.UndoWindowHours < 0 {
		return d, fmt.Errorf("policy defaults: grace period and undo window must not be negative")
	}
	if file.GracePeriodMinutes > 0 {
		d.GracePeriodMinutes = file.GracePeriodMinutes
	}
	if file.UndoWindowHours > 0 {
		d.UndoWindowHours = file.UndoWindowHours
	}

	for domain, byTrigger := range file.Policies {
		if !models.IsValidDomain(domain) {
			return d, fmt.Errorf("policy defaults: unknown domain %q", domain)
		}
		for trigger, policy := range byTrigger {
			if !models.IsValidTrigger(trigger) {
				return d, fmt.Errorf("policy defaults: unknown trigger %q", trigger)
			}
			if !models.IsValidPolicy(policy) {
				return d, fmt.Errorf("policy defaults: invalid policy %q for %s/%s", policy, trigger, domain)
			}
			d.Policies[models.PolicyKey(trigger, domain)] = policy
		}
	}

	return d, nil
}
