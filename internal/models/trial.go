package models

import (
	"time"

	"gorm.io/datatypes"
)

// UserTrialStatus records the one lifetime trial claim of a user. HasUsedTrial
// never reverts to false; the row is written in the same transaction as the
// trial subscriptions it covers.
type UserTrialStatus struct {
	BaseModel
	UserID        string         `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	HasUsedTrial  bool           `gorm:"not null;default:false" json:"has_used_trial"`
	TrialUsedAt   *time.Time     `json:"trial_used_at,omitempty"`
	Organizations datatypes.JSON `gorm:"type:jsonb" json:"organizations,omitempty"` // org ids claimed under the trial
}
