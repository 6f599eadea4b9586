package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/metrics"
)

// AdmissionResult is the outcome of SpamGuard.Admit
type AdmissionResult struct {
	Admitted bool
	// ActiveAlert is the conflicting alert when not admitted.
	ActiveAlert *database.Alert
	// Reclaimed is the stale alert deleted to make room, if any.
	Reclaimed *database.Alert
}

// SpamGuard enforces one active alert per camera. The camera_locks primary
// key is the conditional write; stale holders are reclaimed lazily.
type SpamGuard struct {
	db       *gorm.DB
	settings *database.AlertSettings
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSpamGuard creates a guard using the staleness thresholds in settings
func NewSpamGuard(db *gorm.DB, settings *database.AlertSettings) *SpamGuard {
	return &SpamGuard{
		db:       db,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.With().Str("component", "spam_guard").Logger(),
	}
}

// Admit reports whether a new alert may be raised for cameraID, deleting a
// stale active alert if one is in the way.
func (g *SpamGuard) Admit(ctx context.Context, cameraID string) (AdmissionResult, error) {
	var result AdmissionResult
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = g.admit(tx, cameraID)
		return err
	})
	return result, err
}

// admit runs inside the caller's transaction so the lock check, reclaim and
// alert insert commit together.
func (g *SpamGuard) admit(tx *gorm.DB, cameraID string) (AdmissionResult, error) {
	var lock database.CameraLock
	err := tx.Where("camera_id = ?", cameraID).Take(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AdmissionResult{Admitted: true}, nil
	}
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("failed to read camera lock: %w", err)
	}

	var active database.Alert
	err = tx.Where("id = ?", lock.AlertID).Take(&active).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !active.Status.IsActive()) {
		// Lock outlived its alert
		if err := tx.Where("camera_id = ?", cameraID).Delete(&database.CameraLock{}).Error; err != nil {
			return AdmissionResult{}, fmt.Errorf("failed to release orphaned lock: %w", err)
		}
		return AdmissionResult{Admitted: true}, nil
	}
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("failed to read active alert: %w", err)
	}

	reason := g.staleReason(&active, g.now())
	if reason == "" {
		return AdmissionResult{Admitted: false, ActiveAlert: &active}, nil
	}

	if err := deleteAlertTx(tx, active.ID); err != nil {
		return AdmissionResult{}, fmt.Errorf("failed to reclaim stale alert: %w", err)
	}
	metrics.StaleReclaims.WithLabelValues(string(active.Status)).Inc()
	g.logger.Warn().
		Str("camera_id", cameraID).
		Str("alert_id", active.ID).
		Str("status", string(active.Status)).
		Str("reason", reason).
		Msg("Reclaimed stale alert")

	return AdmissionResult{Admitted: true, Reclaimed: &active}, nil
}

// staleReason returns why a holds its camera past its useful life, or "".
func (g *SpamGuard) staleReason(a *database.Alert, now time.Time) string {
	switch a.Status {
	case database.AlertStatusPending:
		if now.Sub(a.CreatedAt) > g.settings.PendingMaxAge() {
			return "pending too long"
		}
		if now.Sub(a.UpdatedAt) > g.settings.PendingIdle() {
			return "pending without progress"
		}
	case database.AlertStatusConfirmed:
		if now.Sub(a.UpdatedAt) > g.settings.ConfirmedIdle() {
			return "confirmed but never notified"
		}
	case database.AlertStatusSending:
		if now.Sub(a.UpdatedAt) > g.settings.SendingIdle() {
			return "sending abandoned"
		}
	case database.AlertStatusCooldown:
		if a.CooldownExpiresAt != nil && !now.Before(*a.CooldownExpiresAt) {
			return "cooldown expired"
		}
	}
	return ""
}

// deleteAlertTx removes an alert and any lock it holds.
func deleteAlertTx(tx *gorm.DB, alertID string) error {
	if err := tx.Where("alert_id = ?", alertID).Delete(&database.CameraLock{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", alertID).Delete(&database.Alert{}).Error
}
