package api

import (
	"time"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/geo"
	"github.com/emberline/emberline/internal/services"
)

// ToDetection converts a validated request into a service detection.
// A missing timestamp is stamped with now.
func (r DetectionRequest) ToDetection(now time.Time) services.Detection {
	detectedAt := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		detectedAt = r.Timestamp.UTC()
	}
	return services.Detection{
		CameraID:   r.CameraID,
		PropertyID: r.PropertyID,
		ClassName:  r.ClassName,
		Confidence: r.Confidence,
		BBox:       r.BBox,
		ImageURL:   r.ImageURL,
		DetectedAt: detectedAt,
	}
}

// ToHeartbeat converts a validated request into a responder heartbeat.
func (r HeartbeatRequest) ToHeartbeat() services.Heartbeat {
	return services.Heartbeat{
		ResponderID: r.ResponderID,
		Location:    geo.Point{Lat: *r.Lat, Lng: *r.Lng},
		Status:      database.ResponderStatus(r.Status),
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		StationID:   r.StationID,
	}
}

// ToStation converts a validated request into a station record.
func (r CreateStationRequest) ToStation() database.Station {
	return database.Station{
		Name:    r.Name,
		Address: r.Address,
		Phone:   r.Phone,
		Email:   r.Email,
		Lat:     *r.Lat,
		Lng:     *r.Lng,
	}
}

// ToProperty converts a validated request into a property record.
func (r CreatePropertyRequest) ToProperty() database.Property {
	return database.Property{
		ID:         r.ID,
		Name:       r.Name,
		OwnerEmail: r.OwnerEmail,
		OwnerName:  r.OwnerName,
		Address:    r.Address,
		Lat:        *r.Lat,
		Lng:        *r.Lng,
	}
}

// Point returns the override location, or nil unless both coordinates are set.
func (r AssignRequest) Point() *geo.Point {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *r.Lat, Lng: *r.Lng}
}

// AlertToResponse adds the derived fields dashboards poll for.
func AlertToResponse(a database.Alert, now time.Time) AlertResponse {
	resp := AlertResponse{Alert: a, Active: a.Status.IsActive()}
	if a.Status == database.AlertStatusCooldown && a.CooldownExpiresAt != nil {
		if remaining := a.CooldownExpiresAt.Sub(now); remaining > 0 {
			resp.CooldownRemainingSeconds = int(remaining.Round(time.Second).Seconds())
		}
	}
	return resp
}

// AlertsToResponses converts a slice of alerts.
func AlertsToResponses(alerts []database.Alert, now time.Time) []AlertResponse {
	items := make([]AlertResponse, len(alerts))
	for i, a := range alerts {
		items[i] = AlertToResponse(a, now)
	}
	return items
}

// ConflictToResponse describes the alert blocking a camera.
func ConflictToResponse(c *services.AdmissionConflictError) ConflictResponse {
	return ConflictResponse{
		Error:         c.Error(),
		Code:          "camera_busy",
		ActiveAlertID: c.ActiveAlert.ID,
		Status:        c.ActiveAlert.Status,
	}
}
