package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/geo"
	"github.com/emberline/emberline/internal/testhelpers"
)

var delhi = geo.Point{Lat: 28.6139, Lng: 77.2090}

func newDispatchService(t *testing.T) (*DispatchService, *alertFixture) {
	t.Helper()
	f := newAlertFixture(t, nil)
	return f.svc.dispatch, f
}

func TestFindNearestStation(t *testing.T) {
	svc, f := newDispatchService(t)
	ctx := context.Background()

	if _, err := svc.FindNearestStation(ctx, delhi); !errors.Is(err, ErrNoStations) {
		t.Fatalf("expected ErrNoStations for empty roster, got %v", err)
	}

	only := testhelpers.NewStation("st-far", "Far Station", 19.0760, 72.8777)
	testhelpers.MustCreate(t, f.db, &only)
	got, err := svc.FindNearestStation(ctx, delhi)
	if err != nil || got.ID != "st-far" {
		t.Fatalf("single station must always win: %+v %v", got, err)
	}

	near := testhelpers.NewStation("st-near", "Near Station", 28.7041, 77.1025)
	testhelpers.MustCreate(t, f.db, &near)
	got, err = svc.FindNearestStation(ctx, delhi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "st-near" || got.Type != TargetStation {
		t.Errorf("expected st-near, got %+v", got)
	}
	if got.DistanceKm < 14.3 || got.DistanceKm > 14.5 {
		t.Errorf("unexpected distance %.2f", got.DistanceKm)
	}
	if got.ETAMinutes != 15 {
		t.Errorf("expected 15 minute ETA, got %d", got.ETAMinutes)
	}
}

func TestFindNearestStation_InvalidPoint(t *testing.T) {
	svc, _ := newDispatchService(t)
	if _, err := svc.FindNearestStation(context.Background(), geo.Point{Lat: 95, Lng: 0}); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestFindNearestActiveResponder(t *testing.T) {
	tests := []struct {
		name         string
		responders   []database.Responder
		wantID       string
		wantFallback bool
	}{
		{
			name: "fresh active responder wins",
			responders: []database.Responder{
				testhelpers.NewResponderBuilder("r-near").At(28.62, 77.21).LastSeen(fixedNow.Add(-time.Minute)).Build(),
				testhelpers.NewResponderBuilder("r-far").At(28.90, 77.50).LastSeen(fixedNow.Add(-time.Minute)).Build(),
			},
			wantID: "r-near",
		},
		{
			name: "stale location falls back to station",
			responders: []database.Responder{
				testhelpers.NewResponderBuilder("r-stale").At(28.62, 77.21).LastSeen(fixedNow.Add(-6 * time.Minute)).Build(),
			},
			wantID:       "st-1",
			wantFallback: true,
		},
		{
			name: "offline responder falls back to station",
			responders: []database.Responder{
				testhelpers.NewResponderBuilder("r-off").At(28.62, 77.21).WithStatus(database.ResponderStatusOffline).LastSeen(fixedNow).Build(),
			},
			wantID:       "st-1",
			wantFallback: true,
		},
		{
			name:         "no responders at all",
			wantID:       "st-1",
			wantFallback: true,
		},
		{
			name: "nearer stale responder loses to farther fresh one",
			responders: []database.Responder{
				testhelpers.NewResponderBuilder("r-stale").At(28.614, 77.209).LastSeen(fixedNow.Add(-10 * time.Minute)).Build(),
				testhelpers.NewResponderBuilder("r-fresh").At(28.70, 77.30).LastSeen(fixedNow.Add(-4 * time.Minute)).Build(),
			},
			wantID: "r-fresh",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, f := newDispatchService(t)
			station := testhelpers.NewStation("st-1", "Station One", 28.7041, 77.1025)
			testhelpers.MustCreate(t, f.db, &station)
			for i := range tt.responders {
				testhelpers.MustCreate(t, f.db, &tt.responders[i])
			}

			got, err := svc.FindNearestActiveResponder(context.Background(), delhi)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID != tt.wantID || got.Fallback != tt.wantFallback {
				t.Errorf("expected %s fallback=%v, got %s fallback=%v", tt.wantID, tt.wantFallback, got.ID, got.Fallback)
			}
			if tt.wantFallback && got.Warning == "" {
				t.Error("fallback result should carry a warning")
			}
		})
	}
}

func TestAssign_WritesStationAndAlternatives(t *testing.T) {
	svc, f := newDispatchService(t)
	property := testhelpers.NewProperty("prop-1", "owner@example.com", delhi.Lat, delhi.Lng)
	testhelpers.MustCreate(t, f.db, &property)
	for i := 0; i < 8; i++ {
		st := testhelpers.NewStation(fmt.Sprintf("st-%d", i), fmt.Sprintf("Station %d", i), delhi.Lat+float64(i+1)*0.01, delhi.Lng)
		testhelpers.MustCreate(t, f.db, &st)
	}

	a, err := svc.Assign(context.Background(), "prop-1", nil)
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if a.Station.ID != "st-0" {
		t.Errorf("expected st-0 nearest, got %s", a.Station.ID)
	}
	if len(a.Alternatives) != MaxAlternatives {
		t.Errorf("expected %d alternatives, got %d", MaxAlternatives, len(a.Alternatives))
	}
	for i := 1; i < len(a.Alternatives); i++ {
		if a.Alternatives[i].DistanceKm < a.Alternatives[i-1].DistanceKm {
			t.Error("alternatives must be sorted by distance")
		}
	}

	var stored database.Property
	f.db.Where("id = ?", "prop-1").Take(&stored)
	if stored.NearestStationID != "st-0" || stored.NearestStationName != "Station 0" {
		t.Errorf("assignment not cached on property: %+v", stored)
	}
	if stored.StationAssignedAt == nil || stored.AssignmentMethod != AssignmentMethodAuto {
		t.Errorf("assignment metadata missing: %+v", stored)
	}
}

func TestAssign_Errors(t *testing.T) {
	svc, f := newDispatchService(t)

	if _, err := svc.Assign(context.Background(), "missing", nil); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("expected ErrPropertyNotFound, got %v", err)
	}

	property := testhelpers.NewProperty("prop-1", "owner@example.com", delhi.Lat, delhi.Lng)
	testhelpers.MustCreate(t, f.db, &property)
	if _, err := svc.Assign(context.Background(), "prop-1", nil); !errors.Is(err, ErrNoStations) {
		t.Errorf("expected ErrNoStations, got %v", err)
	}
}

func TestReassign_AfterRosterChange(t *testing.T) {
	svc, f := newDispatchService(t)
	property := testhelpers.NewProperty("prop-1", "owner@example.com", delhi.Lat, delhi.Lng)
	far := testhelpers.NewStation("st-far", "Far", 28.90, 77.50)
	testhelpers.MustCreate(t, f.db, &property, &far)

	if _, err := svc.Assign(context.Background(), "prop-1", nil); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	near := testhelpers.NewStation("st-near", "Near", 28.62, 77.21)
	testhelpers.MustCreate(t, f.db, &near)

	a, err := svc.Reassign(context.Background(), "prop-1")
	if err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if a.Station.ID != "st-near" || a.Method != AssignmentMethodReassign {
		t.Errorf("unexpected reassignment: %+v", a)
	}
	if len(a.Alternatives) != 1 || a.Alternatives[0].ID != "st-far" {
		t.Errorf("expected previous station as alternative, got %+v", a.Alternatives)
	}
}

func TestGetRouting(t *testing.T) {
	svc, f := newDispatchService(t)
	property := testhelpers.NewProperty("prop-1", "owner@example.com", delhi.Lat, delhi.Lng)
	station := testhelpers.NewStation("st-1", "Station One", 28.7041, 77.1025)
	testhelpers.MustCreate(t, f.db, &property, &station)

	r, err := svc.GetRouting(context.Background(), "prop-1")
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if r.Station.ID != "st-1" {
		t.Errorf("expected st-1, got %s", r.Station.ID)
	}
	if r.DistanceMiles <= 0 || r.DistanceMiles >= r.DistanceKm {
		t.Errorf("unexpected miles %.2f for %.2f km", r.DistanceMiles, r.DistanceKm)
	}
	if r.ETAMinutes != geo.ETAMinutes(geo.Haversine(geo.Point{Lat: 28.7041, Lng: 77.1025}, delhi)) {
		t.Errorf("unexpected ETA %d", r.ETAMinutes)
	}
	if !strings.Contains(r.NavigationURL, "travelmode=driving") || !strings.Contains(r.MapURL, "28.613900,77.209000") {
		t.Errorf("unexpected links: %s %s", r.NavigationURL, r.MapURL)
	}

	var stored database.Property
	f.db.Where("id = ?", "prop-1").Take(&stored)
	if stored.NearestStationID != "st-1" {
		t.Error("routing should assign a station when none was cached")
	}
}

func TestRespondersInRadius(t *testing.T) {
	svc, f := newDispatchService(t)
	near := testhelpers.NewResponderBuilder("r-near").At(28.62, 77.21).LastSeen(fixedNow).Build()
	far := testhelpers.NewResponderBuilder("r-far").At(29.5, 78.0).LastSeen(fixedNow).Build()
	testhelpers.MustCreate(t, f.db, &near, &far)

	got, err := svc.RespondersInRadius(context.Background(), delhi, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r-near" {
		t.Errorf("expected only r-near within 5 km, got %+v", got)
	}
}

func TestActiveResponders_FlagsRecentLocation(t *testing.T) {
	svc, f := newDispatchService(t)
	fresh := testhelpers.NewResponderBuilder("r-1").LastSeen(fixedNow.Add(-time.Minute)).Build()
	stale := testhelpers.NewResponderBuilder("r-2").LastSeen(fixedNow.Add(-time.Hour)).Build()
	offline := testhelpers.NewResponderBuilder("r-3").WithStatus(database.ResponderStatusOffline).Build()
	testhelpers.MustCreate(t, f.db, &fresh, &stale, &offline)

	got, err := svc.ActiveResponders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active responders, got %d", len(got))
	}
	if !got[0].HasRecentLocation || got[1].HasRecentLocation {
		t.Errorf("unexpected freshness flags: %v %v", got[0].HasRecentLocation, got[1].HasRecentLocation)
	}
}

func TestDispatchAlert_RecordsTarget(t *testing.T) {
	svc, f := newDispatchService(t)
	f.seedDelhi(t)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().CreatedAt(fixedNow))

	record, target, err := svc.DispatchAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if target.ID != "r-1" || record.TargetID != "r-1" || record.Fallback {
		t.Errorf("unexpected dispatch: %+v %+v", target, record)
	}

	var stored database.Alert
	f.db.Where("id = ?", alert.ID).Take(&stored)
	if stored.DispatchedToType != string(TargetResponder) {
		t.Errorf("dispatch not recorded on alert: %+v", stored)
	}

	if _, _, err := svc.DispatchAlert(context.Background(), "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestStationCoverage(t *testing.T) {
	svc, f := newDispatchService(t)
	station := testhelpers.NewStation("st-1", "Station One", 28.7041, 77.1025)
	testhelpers.MustCreate(t, f.db, &station)

	for _, id := range []string{"p-1", "p-2"} {
		p := testhelpers.NewProperty(id, id+"@example.com", delhi.Lat, delhi.Lng)
		if _, err := svc.RegisterProperty(context.Background(), &p); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	cov, err := svc.StationCoverage(context.Background(), "st-1")
	if err != nil {
		t.Fatalf("coverage failed: %v", err)
	}
	if len(cov.Properties) != 2 {
		t.Errorf("expected 2 covered properties, got %d", len(cov.Properties))
	}
	if _, err := svc.StationCoverage(context.Background(), "missing"); !errors.Is(err, ErrStationNotFound) {
		t.Errorf("expected ErrStationNotFound, got %v", err)
	}
}

func TestRegisterProperty_WithoutStations(t *testing.T) {
	svc, _ := newDispatchService(t)
	p := testhelpers.NewProperty("", "owner@example.com", delhi.Lat, delhi.Lng)

	a, err := svc.RegisterProperty(context.Background(), &p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Errorf("expected no assignment without stations, got %+v", a)
	}
	if p.ID == "" {
		t.Error("expected generated property id")
	}
}

func TestRegisterCamera_RequiresProperty(t *testing.T) {
	svc, f := newDispatchService(t)
	if err := svc.RegisterCamera(context.Background(), &database.Camera{ID: "C1", PropertyID: "nope"}); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("expected ErrPropertyNotFound, got %v", err)
	}

	p := testhelpers.NewProperty("prop-1", "owner@example.com", delhi.Lat, delhi.Lng)
	testhelpers.MustCreate(t, f.db, &p)
	if err := svc.RegisterCamera(context.Background(), &database.Camera{ID: "C1", PropertyID: "prop-1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
