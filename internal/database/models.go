package database

import (
	"time"
)

// AlertStatus represents a step in the alert lifecycle
type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "PENDING"
	AlertStatusConfirmed AlertStatus = "CONFIRMED_BY_GEMINI"
	AlertStatusRejected  AlertStatus = "REJECTED_BY_GEMINI"
	AlertStatusSending   AlertStatus = "SENDING_NOTIFICATIONS"
	AlertStatusCooldown  AlertStatus = "NOTIFIED_COOLDOWN"
	AlertStatusCancelled AlertStatus = "CANCELLED_BY_USER"
)

// ActiveAlertStatuses is the set of statuses that block a camera from raising a new alert.
func ActiveAlertStatuses() []AlertStatus {
	return []AlertStatus{
		AlertStatusPending,
		AlertStatusConfirmed,
		AlertStatusSending,
		AlertStatusCooldown,
	}
}

// CancellableAlertStatuses lists the statuses a user may cancel from.
func CancellableAlertStatuses() []AlertStatus {
	return []AlertStatus{
		AlertStatusPending,
		AlertStatusConfirmed,
		AlertStatusRejected,
	}
}

// IsActive reports whether the status holds the camera lock
func (s AlertStatus) IsActive() bool {
	for _, st := range ActiveAlertStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known status
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusPending, AlertStatusConfirmed, AlertStatusRejected,
		AlertStatusSending, AlertStatusCooldown, AlertStatusCancelled:
		return true
	}
	return false
}

// Verdict is the normalized output of the image verification oracle
type Verdict struct {
	IsFire          bool    `json:"is_fire"`
	Score           float64 `json:"score"`
	Reason          string  `json:"reason"`
	Sensitive       bool    `json:"sensitive"`
	SensitiveReason string  `json:"sensitive_reason,omitempty"`
	Action          string  `json:"action,omitempty"`
	Model           string  `json:"model,omitempty"`
	// Defaulted is set when the verdict came from the failure policy rather than the oracle.
	Defaulted bool `json:"defaulted"`
}

// Alert is one detection-to-resolution episode for a camera
type Alert struct {
	ID         string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CameraID   string      `gorm:"type:varchar(100);not null;index" json:"camera_id"`
	PropertyID string      `gorm:"type:varchar(100);index" json:"property_id"`
	Status     AlertStatus `gorm:"type:varchar(40);not null;index" json:"status"`

	// Detection metadata
	ClassName  string    `gorm:"type:varchar(50)" json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       BBox      `gorm:"type:jsonb" json:"bbox"`
	ImageURL   string    `gorm:"type:text" json:"image_url"`
	DetectedAt time.Time `json:"detected_at"`

	Verdict           *Verdict       `gorm:"type:jsonb" json:"verdict,omitempty"`
	CooldownExpiresAt *time.Time     `gorm:"index" json:"cooldown_expires_at,omitempty"`
	Notifications     DeliveryRecord `gorm:"type:jsonb" json:"notifications,omitempty"`
	CancelledBy       string         `gorm:"type:varchar(255)" json:"cancelled_by,omitempty"`

	// Dispatch target chosen by the gatekeeper
	DispatchedToID     string  `gorm:"type:varchar(100)" json:"dispatched_to_id,omitempty"`
	DispatchedToType   string  `gorm:"type:varchar(20)" json:"dispatched_to_type,omitempty"`
	DispatchDistanceKm float64 `json:"dispatch_distance_km,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CameraLock marks the single active alert of a camera. The primary key on
// camera_id turns admission into an insert-if-absent.
type CameraLock struct {
	CameraID  string    `gorm:"primaryKey;type:varchar(100)" json:"camera_id"`
	AlertID   string    `gorm:"type:varchar(36);not null;index" json:"alert_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ResponderStatus is the operational status of a mobile responder
type ResponderStatus string

const (
	ResponderStatusActive   ResponderStatus = "ACTIVE"
	ResponderStatusOffline  ResponderStatus = "OFFLINE"
	ResponderStatusInactive ResponderStatus = "INACTIVE"
)

// IsValid reports whether s is a known responder status
func (s ResponderStatus) IsValid() bool {
	switch s {
	case ResponderStatusActive, ResponderStatusOffline, ResponderStatusInactive:
		return true
	}
	return false
}

// Responder is a mobile dispatch target refreshed by heartbeats
type Responder struct {
	ID                 string          `gorm:"primaryKey;type:varchar(100)" json:"id"`
	Name               string          `gorm:"type:varchar(255)" json:"name"`
	Email              string          `gorm:"type:varchar(255);index" json:"email"`
	Phone              string          `gorm:"type:varchar(50)" json:"phone"`
	StationID          string          `gorm:"type:varchar(36);index" json:"station_id"`
	Lat                float64         `json:"lat"`
	Lng                float64         `json:"lng"`
	Status             ResponderStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	LastLocationUpdate *time.Time      `json:"last_location_update,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// HasFreshLocation reports whether the responder reported a location within window of now.
func (r *Responder) HasFreshLocation(now time.Time, window time.Duration) bool {
	if r.LastLocationUpdate == nil {
		return false
	}
	return now.Sub(*r.LastLocationUpdate) <= window
}

// Station is a static fire station, always eligible for dispatch
type Station struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Address   string    `gorm:"type:text" json:"address"`
	Phone     string    `gorm:"type:varchar(50)" json:"phone"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Property is a monitored site. The nearest station fields cache the last assignment.
type Property struct {
	ID                  string     `gorm:"primaryKey;type:varchar(100)" json:"id"`
	Name                string     `gorm:"type:varchar(255)" json:"name"`
	OwnerEmail          string     `gorm:"type:varchar(255);index" json:"owner_email"`
	OwnerName           string     `gorm:"type:varchar(255)" json:"owner_name"`
	Address             string     `gorm:"type:text" json:"address"`
	Lat                 float64    `json:"lat"`
	Lng                 float64    `json:"lng"`
	NearestStationID    string     `gorm:"type:varchar(36);index" json:"nearest_station_id,omitempty"`
	NearestStationName  string     `gorm:"type:varchar(255)" json:"nearest_station_name,omitempty"`
	DistanceToStationKm float64    `json:"distance_to_station_km,omitempty"`
	StationAssignedAt   *time.Time `json:"station_assigned_at,omitempty"`
	AssignmentMethod    string     `gorm:"type:varchar(50)" json:"assignment_method,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Camera maps an edge camera to the property it watches
type Camera struct {
	ID         string    `gorm:"primaryKey;type:varchar(100)" json:"id"`
	PropertyID string    `gorm:"type:varchar(100);not null;index" json:"property_id"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// DispatchRecord stores who an alert was dispatched to
type DispatchRecord struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AlertID    string    `gorm:"type:varchar(36);not null;index" json:"alert_id"`
	TargetID   string    `gorm:"type:varchar(100);not null" json:"target_id"`
	TargetType string    `gorm:"type:varchar(20);not null" json:"target_type"` // responder or station
	TargetName string    `gorm:"type:varchar(255)" json:"target_name"`
	DistanceKm float64   `json:"distance_km"`
	ETAMinutes int       `json:"eta_minutes"`
	Fallback   bool      `json:"fallback"`
	Status     string    `gorm:"type:varchar(20);default:'DISPATCHED'" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName overrides for explicit table naming
func (Alert) TableName() string {
	return "alerts"
}

func (CameraLock) TableName() string {
	return "camera_locks"
}

func (Responder) TableName() string {
	return "responders"
}

func (Station) TableName() string {
	return "stations"
}

func (Property) TableName() string {
	return "properties"
}

func (Camera) TableName() string {
	return "cameras"
}

func (DispatchRecord) TableName() string {
	return "dispatch_records"
}
