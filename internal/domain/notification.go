package domain

import "time"

// DigestType identifies a scheduled notification kind.
type DigestType string

const (
	DigestDailyPlan    DigestType = "daily_plan"
	DigestEveningRetro DigestType = "evening_retro"
	DigestWeekly       DigestType = "weekly_digest"
)

// ParseDigestType validates a raw string against the known digest types.
func ParseDigestType(raw string) (DigestType, error) {
	switch DigestType(raw) {
	case DigestDailyPlan, DigestEveningRetro, DigestWeekly:
		return DigestType(raw), nil
	}
	return "", NewValidationError("digest_type", "unknown digest type "+raw)
}

// NotificationPreference holds a user's per-digest opt-in toggles with
// the local send time and timezone for each. A disabled toggle means
// the user must never receive that digest type, regardless of trigger.
type NotificationPreference struct {
	UserID             int64     `gorm:"primaryKey" json:"user_id"`
	EnableDailyPlan    bool      `gorm:"not null;default:false;index" json:"enable_daily_plan"`
	DailyPlanTime      string    `gorm:"type:text;default:'08:00'" json:"daily_plan_time"`
	EnableEveningRetro bool      `gorm:"not null;default:false;index" json:"enable_evening_retro"`
	EveningRetroTime   string    `gorm:"type:text;default:'21:00'" json:"evening_retro_time"`
	EnableWeeklyDigest bool      `gorm:"not null;default:false;index" json:"enable_weekly_digest"`
	WeeklyDigestTime   string    `gorm:"type:text;default:'09:00'" json:"weekly_digest_time"`
	Timezone           string    `gorm:"type:text;default:'UTC'" json:"timezone"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the database table name for NotificationPreference.
func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

// Enabled reports whether the given digest type is switched on.
func (p *NotificationPreference) Enabled(dt DigestType) bool {
	switch dt {
	case DigestDailyPlan:
		return p.EnableDailyPlan
	case DigestEveningRetro:
		return p.EnableEveningRetro
	case DigestWeekly:
		return p.EnableWeeklyDigest
	}
	return false
}

// UserDigestResult records the outcome of one user's dispatch inside a
// scheduler run.
type UserDigestResult struct {
	UserID  int64  `json:"user_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DigestRunResult aggregates one scheduler invocation. A failure for
// one user never aborts the run; it only shows up here.
type DigestRunResult struct {
	DigestType   DigestType         `json:"digest_type"`
	SuccessCount int                `json:"success"`
	FailedCount  int                `json:"failed"`
	Results      []UserDigestResult `json:"results"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}
