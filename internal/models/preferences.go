package models

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Policy constants
const (
	PolicyAutoApply = "auto_apply"
	PolicyAskMe     = "ask_me"
	PolicyDisable   = "disable"
)

// IsValidPolicy reports whether p names a known policy.
func IsValidPolicy(p string) bool {
	return p == PolicyAutoApply || p == PolicyAskMe || p == PolicyDisable
}

// PolicyKey builds the key used in a policy matrix for one trigger/domain pair.
func PolicyKey(trigger, domain string) string {
	return trigger + ":" + domain
}

// AdjustmentPreferences stores one user's adjustment policy. Pairs missing
// from Policies fall back to the system defaults at read time.
type AdjustmentPreferences struct {
	gorm.Model
	UserID             uint           `gorm:"not null;uniqueIndex:idx_adjustment_preferences_user,where:deleted_at IS NULL"`
	Enabled            bool           `gorm:"not null"`
	Policies           datatypes.JSON `gorm:"type:jsonb"`
	GracePeriodMinutes int            `gorm:"not null;default:120"`
	UndoWindowHours    int            `gorm:"not null;default:24"`
}

// TableName implements the GORM tabler interface.
func (AdjustmentPreferences) TableName() string { return "adjustment_preferences" }

// PolicyMap decodes the stored per-pair overrides. A malformed column is
// treated as empty.
func (p *AdjustmentPreferences) PolicyMap() map[string]string {
	out := map[string]string{}
	if p == nil || len(p.Policies) == 0 {
		return out
	}
	if err := json.Unmarshal(p.Policies, &out); err != nil {
		return map[string]string{}
	}
	return out
}

// SetPolicyMap encodes per-pair overrides into the Policies column.
func (p *AdjustmentPreferences) SetPolicyMap(policies map[string]string) error {
	if policies == nil {
		policies = map[string]string{}
	}
	data, err := json.Marshal(policies)
	if err != nil {
		return err
	}
	p.Policies = datatypes.JSON(data)
	return nil
}
