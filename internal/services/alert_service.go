package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/events"
	"github.com/emberline/emberline/internal/metrics"
	"github.com/emberline/emberline/internal/notify"
	"github.com/emberline/emberline/internal/verification"
)

// maxCASAttempts bounds re-reads when a conditional update loses a race.
// Statuses only move forward, so a handful of attempts always settles.
const maxCASAttempts = 4

// Detection is one fire/smoke detection from an edge camera
type Detection struct {
	CameraID   string
	PropertyID string
	ClassName  string
	Confidence float64
	BBox       []float64
	ImageURL   string
	DetectedAt time.Time
}

// Validate checks the fields the lifecycle depends on
func (d Detection) Validate() error {
	if strings.TrimSpace(d.CameraID) == "" {
		return fmt.Errorf("%w: camera id is required", ErrInvalidDetection)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidDetection, d.Confidence)
	}
	return nil
}

// Verifier produces a verdict for a snapshot. It must not fail; oracle
// problems resolve to the configured failure policy.
type Verifier interface {
	Verify(ctx context.Context, imageRef string) database.Verdict
}

// Notifier delivers messages independently per recipient
type Notifier interface {
	SendAll(ctx context.Context, msgs []notify.Message) []notify.Result
}

// CancelResult is the outcome of a user cancellation
type CancelResult struct {
	Success bool                 `json:"success"`
	Reason  string               `json:"reason"`
	Status  database.AlertStatus `json:"status"`
}

// AlertServiceConfig wires the collaborators of an AlertService
type AlertServiceConfig struct {
	Settings  *database.AlertSettings
	Verifier  Verifier
	Dispatch  *DispatchService
	Notifier  Notifier
	Publisher events.Publisher
	// Images loads snapshots for email attachments; nil sends links only.
	Images verification.ImageFetcher
	// OpsChannel is an optional Slack channel copied on every notification.
	OpsChannel string
	// PublicURL is the dashboard base used in notification links.
	PublicURL string
}

// AlertService drives the alert lifecycle: admission, background
// verification, cancellation and the notification gatekeeper.
type AlertService struct {
	db         *gorm.DB
	settings   *database.AlertSettings
	guard      *SpamGuard
	verifier   Verifier
	dispatch   *DispatchService
	notifier   Notifier
	publisher  events.Publisher
	images     verification.ImageFetcher
	opsChannel string
	publicURL  string

	now    func() time.Time
	tasks  sync.WaitGroup
	logger zerolog.Logger
}

// NewAlertService creates a new AlertService
func NewAlertService(db *gorm.DB, cfg AlertServiceConfig) *AlertService {
	settings := cfg.Settings
	if settings == nil {
		settings = database.NewDefaultAlertSettings()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = NewDispatchService(db, settings)
	}

	return &AlertService{
		db:         db,
		settings:   settings,
		guard:      NewSpamGuard(db, settings),
		verifier:   cfg.Verifier,
		dispatch:   dispatch,
		notifier:   cfg.Notifier,
		publisher:  publisher,
		images:     cfg.Images,
		opsChannel: cfg.OpsChannel,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log.With().Str("component", "alerts").Logger(),
	}
}

// SetClock replaces the time source of the service, its guard and dispatcher
func (s *AlertService) SetClock(now func() time.Time) {
	s.now = now
	s.guard.now = now
	s.dispatch.SetClock(now)
}

// Guard returns the admission guard
func (s *AlertService) Guard() *SpamGuard {
	return s.guard
}

// Settings returns the active tunables
func (s *AlertService) Settings() *database.AlertSettings {
	return s.settings
}

// Wait blocks until every background verification task has finished
func (s *AlertService) Wait() {
	s.tasks.Wait()
}

// Create admits a detection and stores a PENDING alert. Verification starts
// in the background; the call returns without waiting for it. A camera with
// an active alert yields *AdmissionConflictError.
func (s *AlertService) Create(ctx context.Context, d Detection) (*database.Alert, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	propertyID := d.PropertyID
	if propertyID == "" {
		propertyID = s.propertyForCamera(ctx, d.CameraID)
	}
	detectedAt := d.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = now
	}

	alert := &database.Alert{
		ID:         uuid.NewString(),
		CameraID:   d.CameraID,
		PropertyID: propertyID,
		Status:     database.AlertStatusPending,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		BBox:       database.BBox(d.BBox),
		ImageURL:   d.ImageURL,
		DetectedAt: detectedAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var reclaimed *database.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.guard.admit(tx, d.CameraID)
		if err != nil {
			return err
		}
		if !res.Admitted {
			return &AdmissionConflictError{ActiveAlert: *res.ActiveAlert}
		}
		reclaimed = res.Reclaimed

		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		return tx.Create(&database.CameraLock{CameraID: d.CameraID, AlertID: alert.ID, CreatedAt: now}).Error
	})

	var conflict *AdmissionConflictError
	switch {
	case err == nil:
	case errors.As(err, &conflict):
		metrics.AdmissionConflicts.Inc()
		s.logger.Info().Str("camera_id", d.CameraID).Str("active_alert", conflict.ActiveAlert.ID).
			Msg("Detection rejected, camera has an active alert")
		return nil, err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Lost the lock insert to a concurrent admission
		metrics.AdmissionConflicts.Inc()
		return nil, s.conflictFor(ctx, d.CameraID)
	default:
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	if reclaimed != nil {
		s.emit(reclaimed, reclaimed.Status, reclaimed.Status, true, "stale")
	}
	metrics.AlertsCreated.Inc()
	s.emit(alert, "", database.AlertStatusPending, false, "")
	s.logger.Info().
		Str("alert_id", alert.ID).
		Str("camera_id", alert.CameraID).
		Float64("confidence", alert.Confidence).
		Msg("Alert created")

	s.startVerification(*alert)
	return alert, nil
}

func (s *AlertService) propertyForCamera(ctx context.Context, cameraID string) string {
	var camera database.Camera
	if err := s.db.WithContext(ctx).Where("id = ?", cameraID).Take(&camera).Error; err != nil {
		return ""
	}
	return camera.PropertyID
}

func (s *AlertService) conflictFor(ctx context.Context, cameraID string) error {
	var lock database.CameraLock
	var active database.Alert
	if err := s.db.WithContext(ctx).Where("camera_id = ?", cameraID).Take(&lock).Error; err == nil {
		_ = s.db.WithContext(ctx).Where("id = ?", lock.AlertID).Take(&active).Error
	}
	if active.ID == "" {
		active = database.Alert{ID: lock.AlertID, CameraID: cameraID}
	}
	return &AdmissionConflictError{ActiveAlert: active}
}

// startVerification runs the oracle for alert in a tracked goroutine with its
// own timeout and panic boundary.
func (s *AlertService) startVerification(alert database.Alert) {
	if s.verifier == nil {
		s.logger.Warn().Str("alert_id", alert.ID).Msg("No verifier configured, alert stays PENDING")
		return
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("alert_id", alert.ID).
					Msg("Verification task panicked, alert left for staleness reclaim")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.settings.VerificationTimeout())
		verdict := s.verifier.Verify(ctx, alert.ImageURL)
		if ctx.Err() != nil {
			s.logger.Warn().Str("alert_id", alert.ID).Msg("Verification hit its deadline")
		}
		cancel()

		applyCtx, applyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer applyCancel()
		if _, err := s.ApplyVerdict(applyCtx, alert.ID, verdict); err != nil {
			s.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to apply verdict")
		}
	}()
}

// casStatus moves id from one status to another iff the row is still in
// from. It reports whether the row was updated.
func (s *AlertService) casStatus(tx *gorm.DB, id string, from, to database.AlertStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": s.now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&database.Alert{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	return true, nil
}

// ApplyVerdict records the oracle's verdict. It applies only while the alert
// is PENDING; a verdict arriving later (e.g. after a cancel) is a no-op.
func (s *AlertService) ApplyVerdict(ctx context.Context, id string, verdict database.Verdict) (bool, error) {
	to := database.AlertStatusRejected
	if verdict.IsFire {
		to = database.AlertStatusConfirmed
	}

	var applied bool
	var alert database.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.casStatus(tx, id, database.AlertStatusPending, to, map[string]interface{}{
			"verdict": &verdict,
		})
		if err != nil || !applied {
			return err
		}
		if to == database.AlertStatusRejected {
			if err := tx.Where("alert_id = ?", id).Delete(&database.CameraLock{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Take(&alert).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply verdict: %w", err)
	}

	if !applied {
		s.logger.Info().Str("alert_id", id).Bool("is_fire", verdict.IsFire).
			Msg("Verdict arrived after alert left PENDING, ignoring")
		return false, nil
	}

	s.logger.Info().
		Str("alert_id", id).
		Str("status", string(to)).
		Float64("score", verdict.Score).
		Bool("defaulted", verdict.Defaulted).
		Msg("Verdict applied")
	s.emit(&alert, database.AlertStatusPending, to, false, verdict.Reason)
	return true, nil
}

func isCancellable(status database.AlertStatus) bool {
	for _, st := range database.CancellableAlertStatuses() {
		if st == status {
			return true
		}
	}
	return false
}

// Cancel marks the alert CANCELLED_BY_USER when it is still PENDING,
// CONFIRMED_BY_GEMINI or REJECTED_BY_GEMINI. Later statuses report
// "already finalized" without an error.
func (s *AlertService) Cancel(ctx context.Context, id, actor string) (CancelResult, error) {
	if actor == "" {
		actor = "user"
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		alert, err := s.Get(ctx, id)
		if err != nil {
			return CancelResult{}, err
		}
		if !isCancellable(alert.Status) {
			return CancelResult{Success: false, Reason: "already finalized", Status: alert.Status}, nil
		}

		var ok bool
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			ok, err = s.casStatus(tx, id, alert.Status, database.AlertStatusCancelled, map[string]interface{}{
				"cancelled_by": actor,
			})
			if err != nil || !ok {
				return err
			}
			return tx.Where("alert_id = ?", id).Delete(&database.CameraLock{}).Error
		})
		if err != nil {
			return CancelResult{}, fmt.Errorf("failed to cancel alert: %w", err)
		}
		if ok {
			from := alert.Status
			alert.Status = database.AlertStatusCancelled
			alert.CancelledBy = actor
			s.logger.Info().Str("alert_id", id).Str("actor", actor).Str("from", string(from)).Msg("Alert cancelled")
			s.emit(alert, from, database.AlertStatusCancelled, false, "cancelled by "+actor)
			return CancelResult{Success: true, Reason: "cancelled", Status: database.AlertStatusCancelled}, nil
		}
	}

	alert, err := s.Get(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	return CancelResult{Success: false, Reason: "already finalized", Status: alert.Status}, nil
}

// Get returns the alert with id
func (s *AlertService) Get(ctx context.Context, id string) (*database.Alert, error) {
	var alert database.Alert
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// List returns one page of alerts, newest first. An empty status lists all of them.
func (s *AlertService) List(ctx context.Context, status database.AlertStatus, offset, limit int) ([]database.Alert, int64, error) {
	q := s.db.WithContext(ctx).Model(&database.Alert{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	var alerts []database.Alert
	if err := q.Order("created_at DESC").Order("id").Offset(offset).Limit(limit).Find(&alerts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, total, nil
}

// Delete removes an alert and releases its camera
func (s *AlertService) Delete(ctx context.Context, id string) error {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteAlertTx(tx, id)
	}); err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	s.emit(alert, alert.Status, alert.Status, true, "deleted")
	return nil
}

// emit publishes a lifecycle event. Publishing never fails the caller.
func (s *AlertService) emit(a *database.Alert, from, to database.AlertStatus, deleted bool, reason string) {
	ev := events.AlertEvent{
		AlertID:    a.ID,
		CameraID:   a.CameraID,
		PropertyID: a.PropertyID,
		From:       from,
		Status:     to,
		Deleted:    deleted,
		Reason:     reason,
		At:         s.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("alert_id", a.ID).Msg("Failed to publish alert event")
	}
}
