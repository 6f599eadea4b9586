package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/metrics"
)

// CleanupReport lists the alerts removed (or that would be removed) by a sweep
type CleanupReport struct {
	DryRun   bool     `json:"dry_run"`
	Count    int      `json:"count"`
	AlertIDs []string `json:"alert_ids"`
}

// ActiveForOwner returns the active alerts on every property owned by ownerEmail
func (s *AlertService) ActiveForOwner(ctx context.Context, ownerEmail string) ([]database.Alert, error) {
	var alerts []database.Alert
	err := s.db.WithContext(ctx).
		Where("property_id IN (?)", s.db.Model(&database.Property{}).Select("id").Where("owner_email = ?", ownerEmail)).
		Where("status IN ?", database.ActiveAlertStatuses()).
		Order("created_at DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return alerts, nil
}

// ResetCooldownForOwner deletes every alert on the owner's properties so their
// cameras can raise new alerts immediately.
func (s *AlertService) ResetCooldownForOwner(ctx context.Context, ownerEmail string) (CleanupReport, error) {
	var alerts []database.Alert
	err := s.db.WithContext(ctx).
		Where("property_id IN (?)", s.db.Model(&database.Property{}).Select("id").Where("owner_email = ?", ownerEmail)).
		Find(&alerts).Error
	if err != nil {
		return CleanupReport{}, fmt.Errorf("failed to list owner alerts: %w", err)
	}
	return s.deleteAll(ctx, alerts, "reset_cooldown", false)
}

// UpdateImage replaces the snapshot of an active alert, e.g. with a newer
// frame during cooldown.
func (s *AlertService) UpdateImage(ctx context.Context, id, imageURL string) (*database.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.Status.IsActive() {
		return nil, ErrAlertFinalized
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&database.Alert{}).
		Where("id = ? AND status IN ?", id, database.ActiveAlertStatuses()).
		Updates(map[string]interface{}{"image_url": imageURL, "updated_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update image: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlertFinalized
	}
	alert.ImageURL = imageURL
	alert.UpdatedAt = now
	return alert, nil
}

// CleanupOld deletes alerts that never reached notification and are older
// than the configured age. Alerts in SENDING or cooldown are left alone.
func (s *AlertService) CleanupOld(ctx context.Context, dryRun bool) (CleanupReport, error) {
	cutoff := s.now().Add(-s.settings.OldAlertAge())
	statuses := []database.AlertStatus{
		database.AlertStatusPending,
		database.AlertStatusConfirmed,
		database.AlertStatusRejected,
		database.AlertStatusCancelled,
	}

	var alerts []database.Alert
	err := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, cutoff).
		Find(&alerts).Error
	if err != nil {
		return CleanupReport{}, fmt.Errorf("failed to find old alerts: %w", err)
	}
	return s.deleteAll(ctx, alerts, "old", dryRun)
}

// CleanupStale deletes one alert by id, or every alert of a camera older than
// the stale-camera threshold.
func (s *AlertService) CleanupStale(ctx context.Context, cameraID, alertID string) (CleanupReport, error) {
	var alerts []database.Alert
	q := s.db.WithContext(ctx)
	switch {
	case alertID != "":
		q = q.Where("id = ?", alertID)
	case cameraID != "":
		cutoff := s.now().Add(-s.settings.StaleCameraAlertAge())
		q = q.Where("camera_id = ? AND created_at < ?", cameraID, cutoff)
	default:
		return CleanupReport{}, fmt.Errorf("camera_id or alert_id is required")
	}
	if err := q.Find(&alerts).Error; err != nil {
		return CleanupReport{}, fmt.Errorf("failed to find stale alerts: %w", err)
	}
	return s.deleteAll(ctx, alerts, "stale", false)
}

func (s *AlertService) deleteAll(ctx context.Context, alerts []database.Alert, sweep string, dryRun bool) (CleanupReport, error) {
	report := CleanupReport{DryRun: dryRun, AlertIDs: make([]string, 0, len(alerts))}
	for _, a := range alerts {
		report.AlertIDs = append(report.AlertIDs, a.ID)
	}
	report.Count = len(alerts)
	if dryRun || len(alerts) == 0 {
		return report, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("alert_id IN ?", report.AlertIDs).Delete(&database.CameraLock{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", report.AlertIDs).Delete(&database.Alert{}).Error
	})
	if err != nil {
		return CleanupReport{}, fmt.Errorf("failed to delete alerts: %w", err)
	}

	metrics.AlertsReaped.WithLabelValues(sweep).Add(float64(len(alerts)))
	for i := range alerts {
		s.emit(&alerts[i], alerts[i].Status, alerts[i].Status, true, sweep)
	}
	s.logger.Info().Int("count", len(alerts)).Str("sweep", sweep).Msg("Deleted alerts")
	return report, nil
}

// ReapExpiredCooldowns deletes alerts whose cooldown has passed. Running it
// on an empty set is a no-op.
func (s *AlertService) ReapExpiredCooldowns(ctx context.Context) (CleanupReport, error) {
	var alerts []database.Alert
	err := s.db.WithContext(ctx).
		Where("cooldown_expires_at IS NOT NULL AND cooldown_expires_at <= ?", s.now()).
		Find(&alerts).Error
	if err != nil {
		return CleanupReport{}, fmt.Errorf("failed to find expired cooldowns: %w", err)
	}
	return s.deleteAll(ctx, alerts, "cooldown", false)
}
