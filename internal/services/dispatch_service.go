package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/geo"
)

// TargetType distinguishes live responders from static stations
type TargetType string

const (
	TargetResponder TargetType = "responder"
	TargetStation   TargetType = "station"

	// MaxAlternatives bounds the runner-up list returned with an assignment.
	MaxAlternatives = 5

	AssignmentMethodAuto     = "auto_nearest"
	AssignmentMethodReassign = "reassign"
)

// DispatchTarget is a candidate chosen for an incident location
type DispatchTarget struct {
	ID         string     `json:"id"`
	Type       TargetType `json:"type"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Location   geo.Point  `json:"location"`
	DistanceKm float64    `json:"distance_km"`
	ETAMinutes int        `json:"eta_minutes"`
	// Fallback is set when no live responder was eligible and a station was used instead.
	Fallback bool   `json:"fallback"`
	Warning  string `json:"warning,omitempty"`
}

// Assignment is the nearest station written onto a property
type Assignment struct {
	PropertyID   string           `json:"property_id"`
	Station      DispatchTarget   `json:"station"`
	Alternatives []DispatchTarget `json:"alternatives"`
	Method       string           `json:"method"`
	AssignedAt   time.Time        `json:"assigned_at"`
}

// RoutingInfo describes how to get from a property's station to the property
type RoutingInfo struct {
	PropertyID    string         `json:"property_id"`
	PropertyName  string         `json:"property_name"`
	Destination   geo.Point      `json:"destination"`
	Station       DispatchTarget `json:"station"`
	DistanceKm    float64        `json:"distance_km"`
	DistanceMiles float64        `json:"distance_miles"`
	ETAMinutes    int            `json:"eta_minutes"`
	NavigationURL string         `json:"navigation_url"`
	MapURL        string         `json:"map_url"`
}

// ResponderView is a responder with its eligibility computed
type ResponderView struct {
	database.Responder
	HasRecentLocation bool `json:"has_recent_location"`
}

// StationCoverage lists the properties assigned to a station
type StationCoverage struct {
	Station    database.Station    `json:"station"`
	Properties []database.Property `json:"properties"`
}

type stationCandidate struct{ database.Station }

func (c stationCandidate) CandidateID() string { return c.ID }
func (c stationCandidate) Location() geo.Point { return geo.Point{Lat: c.Lat, Lng: c.Lng} }

type responderCandidate struct{ database.Responder }

func (c responderCandidate) CandidateID() string { return c.ID }
func (c responderCandidate) Location() geo.Point { return geo.Point{Lat: c.Lat, Lng: c.Lng} }

func stationTarget(r geo.Ranked[stationCandidate]) DispatchTarget {
	return DispatchTarget{
		ID:         r.Candidate.ID,
		Type:       TargetStation,
		Name:       r.Candidate.Name,
		Email:      r.Candidate.Email,
		Phone:      r.Candidate.Phone,
		Location:   r.Candidate.Location(),
		DistanceKm: geo.Round(r.DistanceKm, 2),
		ETAMinutes: geo.ETAMinutes(r.DistanceKm),
	}
}

func responderTarget(r geo.Ranked[responderCandidate]) DispatchTarget {
	return DispatchTarget{
		ID:         r.Candidate.ID,
		Type:       TargetResponder,
		Name:       r.Candidate.Name,
		Email:      r.Candidate.Email,
		Phone:      r.Candidate.Phone,
		Location:   r.Candidate.Location(),
		DistanceKm: geo.Round(r.DistanceKm, 2),
		ETAMinutes: geo.ETAMinutes(r.DistanceKm),
	}
}

// DispatchService finds the nearest station or live responder for a location
type DispatchService struct {
	db       *gorm.DB
	settings *database.AlertSettings
	now      func() time.Time
	logger   zerolog.Logger
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(db *gorm.DB, settings *database.AlertSettings) *DispatchService {
	return &DispatchService{
		db:       db,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.With().Str("component", "dispatch").Logger(),
	}
}

// SetClock replaces the time source
func (s *DispatchService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *DispatchService) stations(ctx context.Context) ([]stationCandidate, error) {
	var stations []database.Station
	if err := s.db.WithContext(ctx).Find(&stations).Error; err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	out := make([]stationCandidate, len(stations))
	for i, st := range stations {
		out[i] = stationCandidate{st}
	}
	return out, nil
}

// eligibleResponders returns ACTIVE responders whose location is fresh.
func (s *DispatchService) eligibleResponders(ctx context.Context) ([]responderCandidate, error) {
	var responders []database.Responder
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_location_update IS NOT NULL", database.ResponderStatusActive).
		Find(&responders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list responders: %w", err)
	}

	now := s.now()
	window := s.settings.ResponderFreshness()
	out := make([]responderCandidate, 0, len(responders))
	for _, r := range responders {
		if r.HasFreshLocation(now, window) {
			out = append(out, responderCandidate{r})
		}
	}
	return out, nil
}

// FindNearestStation returns the closest registered station to p
func (s *DispatchService) FindNearestStation(ctx context.Context, p geo.Point) (*DispatchTarget, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	stations, err := s.stations(ctx)
	if err != nil {
		return nil, err
	}
	best, ok := geo.Nearest(p, stations)
	if !ok {
		return nil, ErrNoStations
	}
	target := stationTarget(best)
	return &target, nil
}

// FindNearestActiveResponder returns the closest eligible responder, or the
// nearest station with Fallback set when no responder is eligible.
func (s *DispatchService) FindNearestActiveResponder(ctx context.Context, p geo.Point) (*DispatchTarget, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	responders, err := s.eligibleResponders(ctx)
	if err != nil {
		return nil, err
	}
	if best, ok := geo.Nearest(p, responders); ok {
		target := responderTarget(best)
		return &target, nil
	}

	s.logger.Warn().Str("point", p.String()).Msg("No active responder with a fresh location, falling back to nearest station")
	target, err := s.FindNearestStation(ctx, p)
	if err != nil {
		return nil, err
	}
	target.Fallback = true
	target.Warning = "no active responders available, using nearest station"
	return target, nil
}

// RespondersInRadius returns eligible responders within radiusKm of p, nearest first
func (s *DispatchService) RespondersInRadius(ctx context.Context, p geo.Point, radiusKm float64) ([]DispatchTarget, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	responders, err := s.eligibleResponders(ctx)
	if err != nil {
		return nil, err
	}
	ranked := geo.Within(p, responders, radiusKm)
	out := make([]DispatchTarget, len(ranked))
	for i, r := range ranked {
		out[i] = responderTarget(r)
	}
	return out, nil
}

// ActiveResponders lists ACTIVE responders with their location freshness
func (s *DispatchService) ActiveResponders(ctx context.Context) ([]ResponderView, error) {
	var responders []database.Responder
	err := s.db.WithContext(ctx).
		Where("status = ?", database.ResponderStatusActive).
		Order("id").
		Find(&responders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list responders: %w", err)
	}

	now := s.now()
	out := make([]ResponderView, len(responders))
	for i, r := range responders {
		out[i] = ResponderView{Responder: r, HasRecentLocation: r.HasFreshLocation(now, s.settings.ResponderFreshness())}
	}
	return out, nil
}

func (s *DispatchService) getProperty(ctx context.Context, propertyID string) (*database.Property, error) {
	var property database.Property
	err := s.db.WithContext(ctx).Where("id = ?", propertyID).Take(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return &property, nil
}

// Assign writes the nearest station onto the property and returns it along
// with up to MaxAlternatives runners-up. A non-nil point also moves the property.
func (s *DispatchService) Assign(ctx context.Context, propertyID string, point *geo.Point) (*Assignment, error) {
	return s.assign(ctx, propertyID, point, AssignmentMethodAuto)
}

// Reassign recomputes the property's station, e.g. after the station roster changed
func (s *DispatchService) Reassign(ctx context.Context, propertyID string) (*Assignment, error) {
	return s.assign(ctx, propertyID, nil, AssignmentMethodReassign)
}

func (s *DispatchService) assign(ctx context.Context, propertyID string, point *geo.Point, method string) (*Assignment, error) {
	property, err := s.getProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	p := geo.Point{Lat: property.Lat, Lng: property.Lng}
	if point != nil {
		p = *point
	}
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}

	stations, err := s.stations(ctx)
	if err != nil {
		return nil, err
	}
	ranked := geo.Rank(p, stations, MaxAlternatives+1)
	if len(ranked) == 0 {
		return nil, ErrNoStations
	}

	nearest := stationTarget(ranked[0])
	alternatives := make([]DispatchTarget, 0, len(ranked)-1)
	for _, r := range ranked[1:] {
		alternatives = append(alternatives, stationTarget(r))
	}

	now := s.now()
	updates := map[string]interface{}{
		"nearest_station_id":     nearest.ID,
		"nearest_station_name":   nearest.Name,
		"distance_to_station_km": nearest.DistanceKm,
		"station_assigned_at":    now,
		"assignment_method":      method,
		"updated_at":             now,
	}
	if point != nil {
		updates["lat"] = p.Lat
		updates["lng"] = p.Lng
	}
	if err := s.db.WithContext(ctx).Model(&database.Property{}).Where("id = ?", propertyID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.Info().
		Str("property_id", propertyID).
		Str("station_id", nearest.ID).
		Float64("distance_km", nearest.DistanceKm).
		Str("method", method).
		Msg("Assigned nearest station")

	return &Assignment{
		PropertyID:   propertyID,
		Station:      nearest,
		Alternatives: alternatives,
		Method:       method,
		AssignedAt:   now,
	}, nil
}

// GetRouting returns distance, ETA and map links from the property's assigned
// station. Properties without a valid assignment are assigned first.
func (s *DispatchService) GetRouting(ctx context.Context, propertyID string) (*RoutingInfo, error) {
	property, err := s.getProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	var station database.Station
	err = gorm.ErrRecordNotFound
	if property.NearestStationID != "" {
		err = s.db.WithContext(ctx).Where("id = ?", property.NearestStationID).Take(&station).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		assignment, aerr := s.Assign(ctx, propertyID, nil)
		if aerr != nil {
			return nil, aerr
		}
		err = s.db.WithContext(ctx).Where("id = ?", assignment.Station.ID).Take(&station).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load station: %w", err)
	}

	dest := geo.Point{Lat: property.Lat, Lng: property.Lng}
	origin := geo.Point{Lat: station.Lat, Lng: station.Lng}
	km := geo.Haversine(origin, dest)

	return &RoutingInfo{
		PropertyID:    property.ID,
		PropertyName:  property.Name,
		Destination:   dest,
		Station:       stationTarget(geo.Ranked[stationCandidate]{Candidate: stationCandidate{station}, DistanceKm: km}),
		DistanceKm:    geo.Round(km, 2),
		DistanceMiles: geo.Round(geo.KmToMiles(km), 2),
		ETAMinutes:    geo.ETAMinutes(km),
		NavigationURL: geo.NavigationURL(origin, dest),
		MapURL:        geo.MapURL(dest),
	}, nil
}

// DispatchAlert sends the alert's location to the nearest eligible responder
// and records the dispatch.
func (s *DispatchService) DispatchAlert(ctx context.Context, alertID string) (*database.DispatchRecord, *DispatchTarget, error) {
	var alert database.Alert
	err := s.db.WithContext(ctx).Where("id = ?", alertID).Take(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get alert: %w", err)
	}

	property, err := s.getProperty(ctx, alert.PropertyID)
	if err != nil {
		return nil, nil, err
	}

	target, err := s.FindNearestActiveResponder(ctx, geo.Point{Lat: property.Lat, Lng: property.Lng})
	if err != nil {
		return nil, nil, err
	}

	var record database.DispatchRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := recordDispatchTx(tx, alertID, target, s.now())
		if err != nil {
			return err
		}
		record = *rec
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record dispatch: %w", err)
	}
	return &record, target, nil
}

func recordDispatchTx(tx *gorm.DB, alertID string, target *DispatchTarget, now time.Time) (*database.DispatchRecord, error) {
	record := &database.DispatchRecord{
		ID:         uuid.NewString(),
		AlertID:    alertID,
		TargetID:   target.ID,
		TargetType: string(target.Type),
		TargetName: target.Name,
		DistanceKm: target.DistanceKm,
		ETAMinutes: target.ETAMinutes,
		Fallback:   target.Fallback,
		Status:     "DISPATCHED",
		CreatedAt:  now,
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, err
	}
	err := tx.Model(&database.Alert{}).Where("id = ?", alertID).Updates(map[string]interface{}{
		"dispatched_to_id":     target.ID,
		"dispatched_to_type":   string(target.Type),
		"dispatch_distance_km": target.DistanceKm,
		"updated_at":           now,
	}).Error
	return record, err
}

// StationCoverage returns the station and every property assigned to it
func (s *DispatchService) StationCoverage(ctx context.Context, stationID string) (*StationCoverage, error) {
	var station database.Station
	err := s.db.WithContext(ctx).Where("id = ?", stationID).Take(&station).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}

	var properties []database.Property
	err = s.db.WithContext(ctx).
		Where("nearest_station_id = ?", stationID).
		Order("distance_to_station_km").
		Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list covered properties: %w", err)
	}
	return &StationCoverage{Station: station, Properties: properties}, nil
}

// RegisterProperty creates or updates a property and assigns its nearest
// station when any station exists.
func (s *DispatchService) RegisterProperty(ctx context.Context, property *database.Property) (*Assignment, error) {
	if property.ID == "" {
		property.ID = uuid.NewString()
	}
	if !(geo.Point{Lat: property.Lat, Lng: property.Lng}).Valid() {
		return nil, ErrInvalidLocation
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "owner_email", "owner_name", "address", "lat", "lng", "updated_at"}),
	}).Create(property).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save property: %w", err)
	}

	assignment, err := s.Assign(ctx, property.ID, nil)
	if errors.Is(err, ErrNoStations) {
		return nil, nil
	}
	return assignment, err
}

// RegisterCamera maps a camera to an existing property
func (s *DispatchService) RegisterCamera(ctx context.Context, camera *database.Camera) error {
	if _, err := s.getProperty(ctx, camera.PropertyID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"property_id", "name"}),
	}).Create(camera).Error
}
