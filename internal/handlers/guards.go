// Package handlers exposes the alert lifecycle and dispatch services over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/emberline/emberline/internal/api"
	"github.com/emberline/emberline/internal/services"
)

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Guards selects the authentication applied to each class of route. A nil
// guard leaves its routes open.
type Guards struct {
	// Operator requires a dashboard JWT.
	Operator Middleware
	// Identify attaches the operator when a token is present but never rejects.
	Identify Middleware
	// Service requires X-Service-Key (cameras, responder devices).
	Service Middleware
	// Provider requires X-Provider-Secret (station and property registration).
	Provider Middleware
}

func wrap(m Middleware, h http.HandlerFunc) http.Handler {
	if m == nil {
		return h
	}
	return m(h)
}

func (g Guards) operator(h http.HandlerFunc) http.Handler { return wrap(g.Operator, h) }
func (g Guards) identify(h http.HandlerFunc) http.Handler { return wrap(g.Identify, h) }
func (g Guards) service(h http.HandlerFunc) http.Handler  { return wrap(g.Service, h) }
func (g Guards) provider(h http.HandlerFunc) http.Handler { return wrap(g.Provider, h) }

// respondServiceError maps service errors onto HTTP responses
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrAlertNotFound),
		errors.Is(err, services.ErrPropertyNotFound),
		errors.Is(err, services.ErrStationNotFound),
		errors.Is(err, services.ErrResponderNotFound):
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrNoStations):
		api.RespondErrorWithCode(w, http.StatusNotFound, "no_stations", err.Error())
	case errors.Is(err, services.ErrInvalidDetection),
		errors.Is(err, services.ErrInvalidLocation):
		api.RespondErrorWithCode(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, services.ErrAlertFinalized):
		api.RespondErrorWithCode(w, http.StatusConflict, "alert_finalized", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		api.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeAndValidate decodes the body into dst and runs its validation tags.
// It writes the error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	decode := api.DecodeJSON
	if optional {
		decode = api.DecodeOptionalJSON
	}
	if err := decode(r, dst); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if errs := api.Validate(dst); errs != nil {
		api.RespondValidationError(w, errs)
		return false
	}
	return true
}
