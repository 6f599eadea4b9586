package api

import (
	"time"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/services"
)

// ========== Detection Types ==========

// DetectionRequest is one detection event, posted to POST /api/detections or
// published on the detections subject.
type DetectionRequest struct {
	CameraID   string     `json:"camera_id" validate:"required,max=100"`
	PropertyID string     `json:"property_id" validate:"omitempty,max=100"`
	ClassName  string     `json:"class" validate:"omitempty,max=50"`
	Confidence float64    `json:"confidence" validate:"gte=0,lte=1"`
	BBox       []float64  `json:"bbox" validate:"omitempty,len=4"`
	ImageURL   string     `json:"image_url" validate:"omitempty,max=2048"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ========== Alert Types ==========

// CancelAlertRequest is the optional body for POST /api/alerts/{id}/cancel.
type CancelAlertRequest struct {
	CancelledBy string `json:"cancelled_by" validate:"omitempty,max=255"`
}

// UpdateImageRequest is the request body for PUT /api/alerts/{id}/image.
type UpdateImageRequest struct {
	ImageURL string `json:"image_url" validate:"required,url,max=2048"`
}

// CleanupRequest is the optional body for POST /api/alerts/cleanup.
type CleanupRequest struct {
	DryRun bool `json:"dry_run"`
}

// CleanupStaleRequest is the request body for POST /api/alerts/cleanup-stale.
type CleanupStaleRequest struct {
	CameraID string `json:"camera_id" validate:"required_without=AlertID,max=100"`
	AlertID  string `json:"alert_id" validate:"required_without=CameraID,max=36"`
}

// ResetCooldownRequest is the request body for POST /api/alerts/reset-cooldown.
type ResetCooldownRequest struct {
	OwnerEmail string `json:"owner_email" validate:"required,email"`
}

// AlertResponse is an alert as seen by dashboards polling its status.
type AlertResponse struct {
	database.Alert
	Active bool `json:"active"`
	// CooldownRemainingSeconds is zero outside cooldown.
	CooldownRemainingSeconds int `json:"cooldown_remaining_seconds"`
}

// ConflictResponse is returned with 429 when a camera already has an active alert.
type ConflictResponse struct {
	Error         string               `json:"error"`
	Code          string               `json:"code"`
	ActiveAlertID string               `json:"active_alert_id"`
	Status        database.AlertStatus `json:"status"`
}

// ========== Dispatch Types ==========

// HeartbeatRequest is the request body for POST /api/responders/heartbeat.
type HeartbeatRequest struct {
	ResponderID string   `json:"responder_id" validate:"required,max=100"`
	Lat         *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng         *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Status      string   `json:"status" validate:"omitempty,oneof=ACTIVE OFFLINE INACTIVE"`
	Name        string   `json:"name" validate:"omitempty,max=255"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Phone       string   `json:"phone" validate:"omitempty,max=50"`
	StationID   string   `json:"station_id" validate:"omitempty,max=36"`
}

// CreateStationRequest is the request body for POST /api/stations.
type CreateStationRequest struct {
	Name    string   `json:"name" validate:"required,min=1,max=255"`
	Address string   `json:"address"`
	Phone   string   `json:"phone" validate:"omitempty,max=50"`
	Email   string   `json:"email" validate:"omitempty,email"`
	Lat     *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng     *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// CreatePropertyRequest is the request body for POST /api/properties.
type CreatePropertyRequest struct {
	ID         string   `json:"id" validate:"required,max=100"`
	Name       string   `json:"name" validate:"omitempty,max=255"`
	OwnerEmail string   `json:"owner_email" validate:"required,email"`
	OwnerName  string   `json:"owner_name" validate:"omitempty,max=255"`
	Address    string   `json:"address"`
	Lat        *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng        *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// CreateCameraRequest is the request body for POST /api/cameras.
type CreateCameraRequest struct {
	ID         string `json:"id" validate:"required,max=100"`
	PropertyID string `json:"property_id" validate:"required,max=100"`
	Name       string `json:"name" validate:"omitempty,max=255"`
}

// AssignRequest is the optional body for POST /api/properties/{id}/assign.
// When both coordinates are set they override the stored property location.
type AssignRequest struct {
	Lat *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"omitempty,gte=-180,lte=180"`
}

// DispatchResponse is the response body for POST /api/alerts/{id}/dispatch.
type DispatchResponse struct {
	Record database.DispatchRecord `json:"record"`
	Target services.DispatchTarget `json:"target"`
}

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response body for POST /auth/login.
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresIn int    `json:"expires_in"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
