package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberline/emberline/internal/api"
	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/middleware"
	"github.com/emberline/emberline/internal/services"
)

// retryAfterSeconds is suggested to clients polling the gatekeeper
const retryAfterSeconds = 5

// AlertHandler serves detection intake and the alert lifecycle
type AlertHandler struct {
	alerts *services.AlertService
	guards Guards
	now    func() time.Time
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *services.AlertService, guards Guards) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		guards: guards,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetupRoutes registers detection and alert routes
func (h *AlertHandler) SetupRoutes(mux *http.ServeMux) {
	g := h.guards

	mux.Handle("POST /api/detections", g.service(h.handleDetection))

	mux.Handle("GET /api/alerts", g.operator(h.handleList))
	mux.Handle("GET /api/alerts/active", g.identify(h.handleActiveForOwner))
	mux.Handle("POST /api/alerts/cleanup", g.operator(h.handleCleanup))
	mux.Handle("POST /api/alerts/cleanup-stale", g.operator(h.handleCleanupStale))
	mux.Handle("POST /api/alerts/reset-cooldown", g.operator(h.handleResetCooldown))

	mux.Handle("GET /api/alerts/{id}", g.identify(h.handleGet))
	mux.Handle("DELETE /api/alerts/{id}", g.operator(h.handleDelete))
	mux.Handle("POST /api/alerts/{id}/cancel", g.identify(h.handleCancel))
	mux.Handle("POST /api/alerts/{id}/confirm", g.identify(h.handleConfirm))
	mux.Handle("PUT /api/alerts/{id}/image", g.service(h.handleUpdateImage))
}

// handleDetection handles POST /api/detections
func (h *AlertHandler) handleDetection(w http.ResponseWriter, r *http.Request) {
	var req api.DetectionRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	alert, err := h.alerts.Create(r.Context(), req.ToDetection(h.now()))
	var conflict *services.AdmissionConflictError
	if errors.As(err, &conflict) {
		api.RespondJSON(w, http.StatusTooManyRequests, api.ConflictToResponse(conflict))
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("alert_id", alert.ID).Str("camera_id", alert.CameraID).Msg("Alert created")
	api.RespondJSON(w, http.StatusCreated, api.AlertToResponse(*alert, h.now()))
}

// handleList handles GET /api/alerts?status=&page=&per_page=
func (h *AlertHandler) handleList(w http.ResponseWriter, r *http.Request) {
	status := database.AlertStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		api.RespondError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}

	p := api.ParsePagination(r)
	alerts, total, err := h.alerts.List(r.Context(), status, p.Offset(), p.PerPage)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondPaginated(w, api.AlertsToResponses(alerts, h.now()), p, total)
}

// handleActiveForOwner handles GET /api/alerts/active?owner=
func (h *AlertHandler) handleActiveForOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		api.RespondError(w, http.StatusBadRequest, "query parameter owner is required")
		return
	}

	alerts, err := h.alerts.ActiveForOwner(r.Context(), owner)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertsToResponses(alerts, h.now()))
}

// handleGet handles GET /api/alerts/{id}
func (h *AlertHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertToResponse(*alert, h.now()))
}

// handleDelete handles DELETE /api/alerts/{id}
func (h *AlertHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondNoContent(w)
}

// handleCancel handles POST /api/alerts/{id}/cancel. Cancelling a finalized
// alert is not an error; the result says so.
func (h *AlertHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req api.CancelAlertRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	actor := middleware.GetUserFromContext(r.Context())
	if actor == "" {
		actor = req.CancelledBy
	}

	result, err := h.alerts.Cancel(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

// handleConfirm handles POST /api/alerts/{id}/confirm, the client-driven
// gatekeeper. Retryable results answer 202 with a Retry-After hint.
func (h *AlertHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	result, err := h.alerts.ConfirmAndNotify(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if result.Retry {
		api.RespondAccepted(w, retryAfterSeconds, result)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

// handleUpdateImage handles PUT /api/alerts/{id}/image
func (h *AlertHandler) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateImageRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	alert, err := h.alerts.UpdateImage(r.Context(), r.PathValue("id"), req.ImageURL)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.AlertToResponse(*alert, h.now()))
}

// handleCleanup handles POST /api/alerts/cleanup
func (h *AlertHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req api.CleanupRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	report, err := h.alerts.CleanupOld(r.Context(), req.DryRun)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}

// handleCleanupStale handles POST /api/alerts/cleanup-stale
func (h *AlertHandler) handleCleanupStale(w http.ResponseWriter, r *http.Request) {
	var req api.CleanupStaleRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	report, err := h.alerts.CleanupStale(r.Context(), req.CameraID, req.AlertID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}

// handleResetCooldown handles POST /api/alerts/reset-cooldown
func (h *AlertHandler) handleResetCooldown(w http.ResponseWriter, r *http.Request) {
	var req api.ResetCooldownRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	report, err := h.alerts.ResetCooldownForOwner(r.Context(), req.OwnerEmail)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, report)
}
