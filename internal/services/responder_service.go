package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/geo"
)

// Heartbeat is a location report from a mobile responder
type Heartbeat struct {
	ResponderID string
	Location    geo.Point
	Status      database.ResponderStatus
	// Optional profile fields; empty values leave the stored ones untouched.
	Name      string
	Email     string
	Phone     string
	StationID string
}

// ResponderLocation is the last known position of a responder
type ResponderLocation struct {
	ResponderID        string                   `json:"responder_id"`
	Name               string                   `json:"name"`
	Status             database.ResponderStatus `json:"status"`
	Location           geo.Point                `json:"location"`
	LastLocationUpdate *time.Time               `json:"last_location_update,omitempty"`
	HasRecentLocation  bool                     `json:"has_recent_location"`
	MapURL             string                   `json:"map_url"`
}

// ResponderService ingests heartbeats and manages stations
type ResponderService struct {
	db       *gorm.DB
	settings *database.AlertSettings
	now      func() time.Time
}

// NewResponderService creates a new ResponderService
func NewResponderService(db *gorm.DB, settings *database.AlertSettings) *ResponderService {
	return &ResponderService{
		db:       db,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *ResponderService) SetClock(now func() time.Time) {
	s.now = now
}

// Heartbeat upserts the responder's position. Concurrent heartbeats for the
// same responder are last-write-wins.
func (s *ResponderService) Heartbeat(ctx context.Context, hb Heartbeat) (*database.Responder, error) {
	if strings.TrimSpace(hb.ResponderID) == "" {
		return nil, fmt.Errorf("responder id is required")
	}
	if !hb.Location.Valid() {
		return nil, ErrInvalidLocation
	}
	if hb.Status == "" {
		hb.Status = database.ResponderStatusActive
	}
	if !hb.Status.IsValid() {
		return nil, fmt.Errorf("invalid responder status %q", hb.Status)
	}

	now := s.now()
	responder := database.Responder{
		ID:                 hb.ResponderID,
		Name:               hb.Name,
		Email:              hb.Email,
		Phone:              hb.Phone,
		StationID:          hb.StationID,
		Lat:                hb.Location.Lat,
		Lng:                hb.Location.Lng,
		Status:             hb.Status,
		LastLocationUpdate: &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	columns := []string{"lat", "lng", "status", "last_location_update", "updated_at"}
	for col, val := range map[string]string{"name": hb.Name, "email": hb.Email, "phone": hb.Phone, "station_id": hb.StationID} {
		if val != "" {
			columns = append(columns, col)
		}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&responder).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert responder: %w", err)
	}

	log.Debug().Str("responder_id", hb.ResponderID).Str("location", hb.Location.String()).Msg("Heartbeat received")

	var stored database.Responder
	if err := s.db.WithContext(ctx).Where("id = ?", hb.ResponderID).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to reload responder: %w", err)
	}
	return &stored, nil
}

// GetLocation returns the responder's last reported position
func (s *ResponderService) GetLocation(ctx context.Context, responderID string) (*ResponderLocation, error) {
	var r database.Responder
	err := s.db.WithContext(ctx).Where("id = ?", responderID).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResponderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get responder: %w", err)
	}

	p := geo.Point{Lat: r.Lat, Lng: r.Lng}
	return &ResponderLocation{
		ResponderID:        r.ID,
		Name:               r.Name,
		Status:             r.Status,
		Location:           p,
		LastLocationUpdate: r.LastLocationUpdate,
		HasRecentLocation:  r.HasFreshLocation(s.now(), s.settings.ResponderFreshness()),
		MapURL:             geo.MapURL(p),
	}, nil
}

// RegisterStation stores a new static station
func (s *ResponderService) RegisterStation(ctx context.Context, station *database.Station) error {
	if strings.TrimSpace(station.Name) == "" {
		return fmt.Errorf("station name is required")
	}
	if !(geo.Point{Lat: station.Lat, Lng: station.Lng}).Valid() {
		return ErrInvalidLocation
	}
	if station.ID == "" {
		station.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(station).Error; err != nil {
		return fmt.Errorf("failed to create station: %w", err)
	}
	log.Info().Str("station_id", station.ID).Str("name", station.Name).Msg("Station registered")
	return nil
}

// ListStations returns every station ordered by name
func (s *ResponderService) ListStations(ctx context.Context) ([]database.Station, error) {
	var stations []database.Station
	if err := s.db.WithContext(ctx).Order("name").Find(&stations).Error; err != nil {
		return nil, err
	}
	return stations, nil
}
