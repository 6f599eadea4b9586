package database

import "time"

// FailurePolicy decides the verdict used when the oracle cannot give one
type FailurePolicy string

const (
	// FailurePolicyOpen treats an unverifiable detection as a real fire.
	FailurePolicyOpen FailurePolicy = "fail_open"
	// FailurePolicyClosed treats an unverifiable detection as a false alarm.
	FailurePolicyClosed FailurePolicy = "fail_closed"
)

// IsValid reports whether p is a known policy
func (p FailurePolicy) IsValid() bool {
	return p == FailurePolicyOpen || p == FailurePolicyClosed
}

// AlertSettings controls the alert lifecycle timings
type AlertSettings struct {
	ID                        uint          `gorm:"primaryKey" json:"id"`
	VerificationEnabled       bool          `gorm:"default:true" json:"verification_enabled"`
	FailurePolicy             FailurePolicy `gorm:"type:varchar(20);default:'fail_open'" json:"failure_policy"`
	VerificationDelaySeconds  int           `gorm:"default:30" json:"verification_delay_seconds"`
	VerificationTimeoutSecond int           `gorm:"default:60" json:"verification_timeout_seconds"`
	CooldownMinutes           int           `gorm:"default:10" json:"cooldown_minutes"`
	PendingMaxAgeSeconds      int           `gorm:"default:120" json:"pending_max_age_seconds"`
	PendingIdleSeconds        int           `gorm:"default:90" json:"pending_idle_seconds"`
	ConfirmedIdleSeconds      int           `gorm:"default:180" json:"confirmed_idle_seconds"`
	SendingIdleSeconds        int           `gorm:"default:600" json:"sending_idle_seconds"`
	ResponderFreshnessMinutes int           `gorm:"default:5" json:"responder_freshness_minutes"`
	ReaperIntervalSeconds     int           `gorm:"default:60" json:"reaper_interval_seconds"`
	OldAlertAgeMinutes        int           `gorm:"default:60" json:"old_alert_age_minutes"`
	StaleCameraAlertSeconds   int           `gorm:"default:300" json:"stale_camera_alert_seconds"`
	CreatedAt                 time.Time     `json:"created_at"`
	UpdatedAt                 time.Time     `json:"updated_at"`
}

func (AlertSettings) TableName() string {
	return "alert_settings"
}

// NewDefaultAlertSettings returns settings with default values
func NewDefaultAlertSettings() *AlertSettings {
	return &AlertSettings{
		VerificationEnabled:       true,
		FailurePolicy:             FailurePolicyOpen,
		VerificationDelaySeconds:  30,
		VerificationTimeoutSecond: 60,
		CooldownMinutes:           10,
		PendingMaxAgeSeconds:      120,
		PendingIdleSeconds:        90,
		ConfirmedIdleSeconds:      180,
		SendingIdleSeconds:        600,
		ResponderFreshnessMinutes: 5,
		ReaperIntervalSeconds:     60,
		OldAlertAgeMinutes:        60,
		StaleCameraAlertSeconds:   300,
	}
}

// VerificationDelay is the time between creation and the first gatekeeper call.
func (s *AlertSettings) VerificationDelay() time.Duration {
	return time.Duration(s.VerificationDelaySeconds) * time.Second
}

// VerificationTimeout bounds one background verification task.
func (s *AlertSettings) VerificationTimeout() time.Duration {
	return time.Duration(s.VerificationTimeoutSecond) * time.Second
}

func (s *AlertSettings) CooldownWindow() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

func (s *AlertSettings) PendingMaxAge() time.Duration {
	return time.Duration(s.PendingMaxAgeSeconds) * time.Second
}

func (s *AlertSettings) PendingIdle() time.Duration {
	return time.Duration(s.PendingIdleSeconds) * time.Second
}

func (s *AlertSettings) ConfirmedIdle() time.Duration {
	return time.Duration(s.ConfirmedIdleSeconds) * time.Second
}

// SendingIdle bounds how long an alert may sit in SENDING_NOTIFICATIONS
// before admission treats it as abandoned.
func (s *AlertSettings) SendingIdle() time.Duration {
	return time.Duration(s.SendingIdleSeconds) * time.Second
}

func (s *AlertSettings) ResponderFreshness() time.Duration {
	return time.Duration(s.ResponderFreshnessMinutes) * time.Minute
}

func (s *AlertSettings) ReaperInterval() time.Duration {
	return time.Duration(s.ReaperIntervalSeconds) * time.Second
}

func (s *AlertSettings) OldAlertAge() time.Duration {
	return time.Duration(s.OldAlertAgeMinutes) * time.Minute
}

func (s *AlertSettings) StaleCameraAlertAge() time.Duration {
	return time.Duration(s.StaleCameraAlertSeconds) * time.Second
}
