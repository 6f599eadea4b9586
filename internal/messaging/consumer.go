package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/api"
	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/services"
	"github.com/emberline/emberline/internal/utils"
)

// AlertCreator admits detections into the alert lifecycle
type AlertCreator interface {
	Create(ctx context.Context, d services.Detection) (*database.Alert, error)
}

// Outcome is what happened to one detection message
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeConflict Outcome = "conflict"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeFailed   Outcome = "failed"
)

// DetectionConsumer feeds detections published by camera pipelines into the
// alert service. It is fire-and-forget: publishers never get a reply.
type DetectionConsumer struct {
	alerts  AlertCreator
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewDetectionConsumer creates a consumer
func NewDetectionConsumer(alerts AlertCreator) *DetectionConsumer {
	return &DetectionConsumer{
		alerts:  alerts,
		timeout: 10 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.With().Str("component", "detection_consumer").Logger(),
	}
}

// Start joins the service's queue group on the detections subject
func (c *DetectionConsumer) Start(svc *Service) (*nats.Subscription, error) {
	subj := svc.Subject("detections")
	sub, err := svc.QueueSubscribe(subj, svc.QueueGroup(), func(data []byte) {
		c.Handle(data)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("subject", subj).Str("queue", svc.QueueGroup()).Msg("Consuming detections")
	return sub, nil
}

// Handle processes one raw detection message
func (c *DetectionConsumer) Handle(data []byte) Outcome {
	var req api.DetectionRequest
	if err := api.DecodeJSONBytes(data, &req); err != nil {
		c.logger.Warn().Err(err).Str("payload", utils.EscapeForLogging(string(data), 200)).Msg("Dropping undecodable detection")
		return OutcomeInvalid
	}
	if errs := api.Validate(req); errs != nil {
		c.logger.Warn().Interface("errors", errs).Str("camera_id", req.CameraID).Msg("Dropping invalid detection")
		return OutcomeInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	alert, err := c.alerts.Create(ctx, req.ToDetection(c.now()))
	var conflict *services.AdmissionConflictError
	switch {
	case err == nil:
		c.logger.Info().Str("alert_id", alert.ID).Str("camera_id", alert.CameraID).Msg("Alert created from detection")
		return OutcomeCreated
	case errors.As(err, &conflict):
		c.logger.Debug().
			Str("camera_id", req.CameraID).
			Str("active_alert_id", conflict.ActiveAlert.ID).
			Str("status", strings.ToLower(string(conflict.ActiveAlert.Status))).
			Msg("Detection suppressed by active alert")
		return OutcomeConflict
	case errors.Is(err, services.ErrInvalidDetection):
		c.logger.Warn().Err(err).Msg("Dropping invalid detection")
		return OutcomeInvalid
	default:
		c.logger.Error().Err(err).Str("camera_id", req.CameraID).Msg("Failed to create alert from detection")
		return OutcomeFailed
	}
}
