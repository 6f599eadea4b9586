package testhelpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/emberline/emberline/internal/database"
)

// ========================================
// Alert Builder
// ========================================

// AlertBuilder builds Alert instances for testing
type AlertBuilder struct {
	alert database.Alert
}

// NewAlertBuilder creates an alert in PENDING created now (UTC)
func NewAlertBuilder() *AlertBuilder {
	now := time.Now().UTC()
	return &AlertBuilder{
		alert: database.Alert{
			ID:         uuid.NewString(),
			CameraID:   "cam-1",
			PropertyID: "prop-1",
			Status:     database.AlertStatusPending,
			ClassName:  "fire",
			Confidence: 0.9,
			BBox:       database.BBox{10, 20, 110, 220},
			ImageURL:   "https://img.example.com/cam-1.jpg",
			DetectedAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

// WithID sets the alert ID
func (b *AlertBuilder) WithID(id string) *AlertBuilder {
	b.alert.ID = id
	return b
}

// WithCamera sets the camera ID
func (b *AlertBuilder) WithCamera(cameraID string) *AlertBuilder {
	b.alert.CameraID = cameraID
	return b
}

// WithProperty sets the property ID
func (b *AlertBuilder) WithProperty(propertyID string) *AlertBuilder {
	b.alert.PropertyID = propertyID
	return b
}

// WithStatus sets the status
func (b *AlertBuilder) WithStatus(status database.AlertStatus) *AlertBuilder {
	b.alert.Status = status
	return b
}

// CreatedAt sets both created and updated timestamps
func (b *AlertBuilder) CreatedAt(at time.Time) *AlertBuilder {
	b.alert.CreatedAt = at
	b.alert.UpdatedAt = at
	return b
}

// UpdatedAt sets the last update timestamp
func (b *AlertBuilder) UpdatedAt(at time.Time) *AlertBuilder {
	b.alert.UpdatedAt = at
	return b
}

// WithCooldownUntil sets the cooldown expiry
func (b *AlertBuilder) WithCooldownUntil(at time.Time) *AlertBuilder {
	b.alert.CooldownExpiresAt = &at
	return b
}

// WithVerdict sets the verdict
func (b *AlertBuilder) WithVerdict(v database.Verdict) *AlertBuilder {
	b.alert.Verdict = &v
	return b
}

// Build returns the constructed alert
func (b *AlertBuilder) Build() database.Alert {
	return b.alert
}

// Lock returns the camera lock matching the built alert
func (b *AlertBuilder) Lock() database.CameraLock {
	return database.CameraLock{
		CameraID:  b.alert.CameraID,
		AlertID:   b.alert.ID,
		CreatedAt: b.alert.CreatedAt,
	}
}

// ========================================
// Responder Builder
// ========================================

// ResponderBuilder builds Responder instances for testing
type ResponderBuilder struct {
	responder database.Responder
}

// NewResponderBuilder creates an ACTIVE responder with a location reported now
func NewResponderBuilder(id string) *ResponderBuilder {
	now := time.Now().UTC()
	return &ResponderBuilder{
		responder: database.Responder{
			ID:                 id,
			Name:               "Responder " + id,
			Email:              id + "@responders.example.com",
			Status:             database.ResponderStatusActive,
			LastLocationUpdate: &now,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
	}
}

// At sets the responder location
func (b *ResponderBuilder) At(lat, lng float64) *ResponderBuilder {
	b.responder.Lat = lat
	b.responder.Lng = lng
	return b
}

// WithStatus sets the status
func (b *ResponderBuilder) WithStatus(status database.ResponderStatus) *ResponderBuilder {
	b.responder.Status = status
	return b
}

// LastSeen sets the last location update
func (b *ResponderBuilder) LastSeen(at time.Time) *ResponderBuilder {
	b.responder.LastLocationUpdate = &at
	return b
}

// WithEmail sets the email
func (b *ResponderBuilder) WithEmail(email string) *ResponderBuilder {
	b.responder.Email = email
	return b
}

// Build returns the constructed responder
func (b *ResponderBuilder) Build() database.Responder {
	return b.responder
}

// NewStation returns a station at the given coordinate
func NewStation(id, name string, lat, lng float64) database.Station {
	return database.Station{
		ID:    id,
		Name:  name,
		Email: id + "@stations.example.com",
		Phone: "+91-11-0000-0000",
		Lat:   lat,
		Lng:   lng,
	}
}

// NewProperty returns a property owned by ownerEmail at the given coordinate
func NewProperty(id, ownerEmail string, lat, lng float64) database.Property {
	return database.Property{
		ID:         id,
		Name:       "Property " + id,
		OwnerEmail: ownerEmail,
		OwnerName:  "Owner " + id,
		Address:    "1 Test Road",
		Lat:        lat,
		Lng:        lng,
	}
}
