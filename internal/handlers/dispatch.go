package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/emberline/emberline/internal/api"
	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/geo"
	"github.com/emberline/emberline/internal/services"
)

const defaultNearbyRadiusKm = 10.0

// DispatchHandler serves station lookup, property assignment, responder
// heartbeats and alert dispatch.
type DispatchHandler struct {
	dispatch   *services.DispatchService
	responders *services.ResponderService
	guards     Guards
}

// NewDispatchHandler creates a new dispatch handler
func NewDispatchHandler(dispatch *services.DispatchService, responders *services.ResponderService, guards Guards) *DispatchHandler {
	return &DispatchHandler{
		dispatch:   dispatch,
		responders: responders,
		guards:     guards,
	}
}

// SetupRoutes registers dispatch, property, responder and station routes
func (h *DispatchHandler) SetupRoutes(mux *http.ServeMux) {
	g := h.guards

	mux.Handle("GET /api/dispatch/nearest", g.identify(h.handleNearest))
	mux.Handle("POST /api/alerts/{id}/dispatch", g.operator(h.handleDispatchAlert))

	mux.Handle("POST /api/properties", g.provider(h.handleRegisterProperty))
	mux.Handle("POST /api/properties/{id}/assign", g.operator(h.handleAssign))
	mux.Handle("POST /api/properties/{id}/reassign", g.operator(h.handleReassign))
	mux.Handle("GET /api/properties/{id}/routing", g.identify(h.handleRouting))
	mux.Handle("POST /api/cameras", g.provider(h.handleRegisterCamera))

	mux.Handle("POST /api/responders/heartbeat", g.service(h.handleHeartbeat))
	mux.Handle("GET /api/responders/active", g.operator(h.handleActiveResponders))
	mux.Handle("GET /api/responders/nearby", g.operator(h.handleNearbyResponders))
	mux.Handle("GET /api/responders/{id}/location", g.identify(h.handleResponderLocation))

	mux.Handle("GET /api/stations", g.identify(h.handleListStations))
	mux.Handle("POST /api/stations", g.provider(h.handleRegisterStation))
	mux.Handle("GET /api/stations/{id}/coverage", g.operator(h.handleCoverage))
}

// queryPoint reads lat/lng query parameters, writing a 400 on failure
func queryPoint(w http.ResponseWriter, r *http.Request) (geo.Point, bool) {
	lat, err := api.QueryFloat(r, "lat")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return geo.Point{}, false
	}
	lng, err := api.QueryFloat(r, "lng")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lng: lng}, true
}

// handleNearest handles GET /api/dispatch/nearest?lat&lng&mode=station|responder
func (h *DispatchHandler) handleNearest(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPoint(w, r)
	if !ok {
		return
	}

	var (
		target *services.DispatchTarget
		err    error
	)
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "station":
		target, err = h.dispatch.FindNearestStation(r.Context(), p)
	case "responder":
		target, err = h.dispatch.FindNearestActiveResponder(r.Context(), p)
	default:
		api.RespondValidationError(w, map[string]string{"mode": "must be one of: station responder"})
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, target)
}

// handleDispatchAlert handles POST /api/alerts/{id}/dispatch
func (h *DispatchHandler) handleDispatchAlert(w http.ResponseWriter, r *http.Request) {
	record, target, err := h.dispatch.DispatchAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.DispatchResponse{Record: *record, Target: *target})
}

// handleRegisterProperty handles POST /api/properties
func (h *DispatchHandler) handleRegisterProperty(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePropertyRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	property := req.ToProperty()
	assignment, err := h.dispatch.RegisterProperty(r.Context(), &property)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"property":   property,
		"assignment": assignment,
	})
}

// handleRegisterCamera handles POST /api/cameras
func (h *DispatchHandler) handleRegisterCamera(w http.ResponseWriter, r *http.Request) {
	var req api.CreateCameraRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	camera := database.Camera{ID: req.ID, PropertyID: req.PropertyID, Name: req.Name}
	if err := h.dispatch.RegisterCamera(r.Context(), &camera); err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, camera)
}

// handleAssign handles POST /api/properties/{id}/assign
func (h *DispatchHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req api.AssignRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	assignment, err := h.dispatch.Assign(r.Context(), r.PathValue("id"), req.Point())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, assignment)
}

// handleReassign handles POST /api/properties/{id}/reassign
func (h *DispatchHandler) handleReassign(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.dispatch.Reassign(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, assignment)
}

// handleRouting handles GET /api/properties/{id}/routing
func (h *DispatchHandler) handleRouting(w http.ResponseWriter, r *http.Request) {
	routing, err := h.dispatch.GetRouting(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, routing)
}

// handleHeartbeat handles POST /api/responders/heartbeat
func (h *DispatchHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	responder, err := h.responders.Heartbeat(r.Context(), req.ToHeartbeat())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, responder)
}

// handleActiveResponders handles GET /api/responders/active
func (h *DispatchHandler) handleActiveResponders(w http.ResponseWriter, r *http.Request) {
	responders, err := h.dispatch.ActiveResponders(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, responders)
}

// handleNearbyResponders handles GET /api/responders/nearby?lat&lng&radius_km
func (h *DispatchHandler) handleNearbyResponders(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPoint(w, r)
	if !ok {
		return
	}
	radius, err := api.QueryFloatOrDefault(r, "radius_km", defaultNearbyRadiusKm)
	if err != nil || radius <= 0 {
		api.RespondError(w, http.StatusBadRequest, "radius_km must be a positive number")
		return
	}

	targets, err := h.dispatch.RespondersInRadius(r.Context(), p, radius)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, targets)
}

// handleResponderLocation handles GET /api/responders/{id}/location
func (h *DispatchHandler) handleResponderLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.responders.GetLocation(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, loc)
}

// handleListStations handles GET /api/stations
func (h *DispatchHandler) handleListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.responders.ListStations(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, stations)
}

// handleRegisterStation handles POST /api/stations
func (h *DispatchHandler) handleRegisterStation(w http.ResponseWriter, r *http.Request) {
	var req api.CreateStationRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	station := req.ToStation()
	if err := h.responders.RegisterStation(r.Context(), &station); err != nil {
		respondServiceError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("station_id", station.ID).Msg("Station registered over API")
	api.RespondJSON(w, http.StatusCreated, station)
}

// handleCoverage handles GET /api/stations/{id}/coverage
func (h *DispatchHandler) handleCoverage(w http.ResponseWriter, r *http.Request) {
	coverage, err := h.dispatch.StationCoverage(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, coverage)
}
