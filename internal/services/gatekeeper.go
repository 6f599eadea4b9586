package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"path"
	"strings"
	"text/template"
	"time"

	"gorm.io/gorm"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/geo"
	"github.com/emberline/emberline/internal/notify"
)

// GatekeeperStatus is the outcome of ConfirmAndNotify
type GatekeeperStatus string

const (
	GatekeeperCancelled        GatekeeperStatus = "cancelled"
	GatekeeperRejected         GatekeeperStatus = "rejected"
	GatekeeperAlreadyProcessed GatekeeperStatus = "already_processed"
	GatekeeperNotConfirmed     GatekeeperStatus = "not_confirmed"
	GatekeeperNotified         GatekeeperStatus = "notified"
	GatekeeperFailed           GatekeeperStatus = "notification_failed"
	GatekeeperNotFound         GatekeeperStatus = "not_found"
)

// GatekeeperResult reports what ConfirmAndNotify did. Retry is set when the
// caller should invoke it again later.
type GatekeeperResult struct {
	Status        GatekeeperStatus        `json:"status"`
	Message       string                  `json:"message"`
	Retry         bool                    `json:"retry"`
	Notifications database.DeliveryRecord `json:"notifications,omitempty"`
	Dispatch      *DispatchTarget         `json:"dispatch,omitempty"`
	CooldownUntil *time.Time              `json:"cooldown_expires_at,omitempty"`
}

// Terminal reports whether further calls for the alert are pointless
func (r GatekeeperResult) Terminal() bool {
	return !r.Retry
}

// ConfirmAndNotify is the single point that makes the binding decision for an
// alert. It is idempotent and safe to call any number of times.
func (s *AlertService) ConfirmAndNotify(ctx context.Context, id string) (GatekeeperResult, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		alert, err := s.Get(ctx, id)
		if errors.Is(err, ErrAlertNotFound) {
			return GatekeeperResult{Status: GatekeeperNotFound, Message: "alert no longer exists"}, nil
		}
		if err != nil {
			return GatekeeperResult{}, err
		}

		switch alert.Status {
		case database.AlertStatusCancelled:
			return s.discard(ctx, alert, GatekeeperCancelled, "Alert was cancelled by the user")
		case database.AlertStatusRejected:
			return s.discard(ctx, alert, GatekeeperRejected, "Verification found no fire")
		case database.AlertStatusSending, database.AlertStatusCooldown:
			return GatekeeperResult{Status: GatekeeperAlreadyProcessed, Message: "Notifications already sent"}, nil
		case database.AlertStatusPending:
			return GatekeeperResult{Status: GatekeeperNotConfirmed, Message: "Verification not finished, retry later", Retry: true}, nil
		case database.AlertStatusConfirmed:
			claimed, err := s.casStatus(s.db.WithContext(ctx), id, database.AlertStatusConfirmed, database.AlertStatusSending, nil)
			if err != nil {
				return GatekeeperResult{}, fmt.Errorf("failed to claim alert: %w", err)
			}
			if !claimed {
				continue
			}
			alert.Status = database.AlertStatusSending
			s.emit(alert, database.AlertStatusConfirmed, database.AlertStatusSending, false, "")
			return s.sendNotifications(ctx, alert)
		default:
			return GatekeeperResult{}, fmt.Errorf("alert %s has unknown status %q", id, alert.Status)
		}
	}
	return GatekeeperResult{Status: GatekeeperNotConfirmed, Message: "Alert changed concurrently, retry later", Retry: true}, nil
}

// discard deletes an alert that will never notify anyone.
func (s *AlertService) discard(ctx context.Context, alert *database.Alert, status GatekeeperStatus, msg string) (GatekeeperResult, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", alert.ID, alert.Status).Delete(&database.Alert{})
		if res.Error != nil {
			return res.Error
		}
		return tx.Where("alert_id = ?", alert.ID).Delete(&database.CameraLock{}).Error
	})
	if err != nil {
		return GatekeeperResult{}, fmt.Errorf("failed to delete %s alert: %w", status, err)
	}
	s.emit(alert, alert.Status, alert.Status, true, string(status))
	return GatekeeperResult{Status: status, Message: msg}, nil
}

// finishTimeout bounds the write that moves an alert out of SENDING.
const finishTimeout = 10 * time.Second

// detachedContext keeps the values of ctx but not its cancellation. Once
// messages are out, leaving SENDING must not depend on the caller still
// waiting.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

type recipient struct {
	address string
	role    string
}

// sendNotifications runs with the alert claimed in SENDING. Any failure before
// at least one delivery succeeds rolls the alert back to CONFIRMED.
func (s *AlertService) sendNotifications(ctx context.Context, alert *database.Alert) (GatekeeperResult, error) {
	logger := s.logger.With().Str("alert_id", alert.ID).Logger()

	property, target, recipients, err := s.resolveRecipients(ctx, alert)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve notification recipients")
		return s.rollback(ctx, alert, nil, fmt.Sprintf("Could not resolve recipients: %v", err))
	}

	attachment := s.loadAttachment(ctx, alert)
	msgs := make([]notify.Message, 0, len(recipients))
	for _, r := range recipients {
		msg, err := s.buildMessage(alert, property, target, r, attachment)
		if err != nil {
			logger.Error().Err(err).Str("recipient", r.address).Msg("Failed to render notification")
			continue
		}
		msgs = append(msgs, msg)
	}

	var results []notify.Result
	if s.notifier != nil {
		results = s.notifier.SendAll(ctx, msgs)
	}

	record := database.DeliveryRecord{}
	delivered := 0
	for _, res := range results {
		record[res.Recipient] = res.OK()
		if res.OK() {
			delivered++
		}
	}
	if delivered == 0 {
		logger.Error().Int("recipients", len(recipients)).Msg("Every notification failed")
		return s.rollback(ctx, alert, record, "All notifications failed, retry later")
	}

	now := s.now()
	expires := now.Add(s.settings.CooldownWindow())
	finishCtx, cancel := detachedContext(ctx)
	defer cancel()
	var moved bool
	err = s.db.WithContext(finishCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		moved, err = s.casStatus(tx, alert.ID, database.AlertStatusSending, database.AlertStatusCooldown, map[string]interface{}{
			"cooldown_expires_at": expires,
			"notifications":       record,
		})
		if err != nil || !moved || target == nil {
			return err
		}
		_, err = recordDispatchTx(tx, alert.ID, target, now)
		return err
	})
	if err != nil {
		return GatekeeperResult{}, fmt.Errorf("failed to finish notification: %w", err)
	}
	if !moved {
		// Reaped or deleted while sending
		return GatekeeperResult{Status: GatekeeperNotFound, Message: "alert no longer exists", Notifications: record}, nil
	}

	alert.Status = database.AlertStatusCooldown
	alert.CooldownExpiresAt = &expires
	s.emit(alert, database.AlertStatusSending, database.AlertStatusCooldown, false, "")
	logger.Info().
		Int("delivered", delivered).
		Int("recipients", len(recipients)).
		Time("cooldown_expires_at", expires).
		Msg("Notifications sent")

	return GatekeeperResult{
		Status:        GatekeeperNotified,
		Message:       fmt.Sprintf("Notified %d of %d recipients", delivered, len(recipients)),
		Notifications: record,
		Dispatch:      target,
		CooldownUntil: &expires,
	}, nil
}

func (s *AlertService) rollback(ctx context.Context, alert *database.Alert, record database.DeliveryRecord, msg string) (GatekeeperResult, error) {
	extra := map[string]interface{}{}
	if record != nil {
		extra["notifications"] = record
	}
	rollbackCtx, cancel := detachedContext(ctx)
	defer cancel()
	ok, err := s.casStatus(s.db.WithContext(rollbackCtx), alert.ID, database.AlertStatusSending, database.AlertStatusConfirmed, extra)
	if err != nil {
		return GatekeeperResult{}, fmt.Errorf("failed to roll back alert: %w", err)
	}
	if ok {
		s.emit(alert, database.AlertStatusSending, database.AlertStatusConfirmed, false, msg)
	}
	return GatekeeperResult{Status: GatekeeperFailed, Message: msg, Retry: true, Notifications: record}, nil
}

// resolveRecipients returns the owner, the nearest eligible responder (or
// station fallback) and the optional ops channel.
func (s *AlertService) resolveRecipients(ctx context.Context, alert *database.Alert) (*database.Property, *DispatchTarget, []recipient, error) {
	if alert.PropertyID == "" {
		return nil, nil, nil, fmt.Errorf("camera %s is not mapped to a property", alert.CameraID)
	}
	property, err := s.dispatch.getProperty(ctx, alert.PropertyID)
	if err != nil {
		return nil, nil, nil, err
	}

	var recipients []recipient
	if property.OwnerEmail != "" {
		recipients = append(recipients, recipient{address: property.OwnerEmail, role: "owner"})
	}

	target, err := s.dispatch.FindNearestActiveResponder(ctx, geo.Point{Lat: property.Lat, Lng: property.Lng})
	switch {
	case errors.Is(err, ErrNoStations), errors.Is(err, ErrInvalidLocation):
		s.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("No dispatch target for property")
		target = nil
	case err != nil:
		return nil, nil, nil, err
	case target.Email != "" && target.Email != property.OwnerEmail:
		recipients = append(recipients, recipient{address: target.Email, role: string(target.Type)})
	}

	if s.opsChannel != "" {
		recipients = append(recipients, recipient{address: notify.SlackPrefix + s.opsChannel, role: "ops"})
	}
	if len(recipients) == 0 {
		return nil, nil, nil, fmt.Errorf("property %s has no notification recipients", property.ID)
	}
	return property, target, recipients, nil
}

// loadAttachment fetches the snapshot unless the verdict flagged it sensitive.
func (s *AlertService) loadAttachment(ctx context.Context, alert *database.Alert) *notify.Attachment {
	if s.images == nil || alert.ImageURL == "" || (alert.Verdict != nil && alert.Verdict.Sensitive) {
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	img, err := s.images.Fetch(fetchCtx, alert.ImageURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("Snapshot unavailable, sending without attachment")
		return nil
	}
	name := path.Base(alert.ImageURL)
	if name == "" || name == "." || name == "/" || strings.ContainsAny(name, "?&=") {
		name = "snapshot.jpg"
	}
	return &notify.Attachment{Filename: name, ContentType: img.MimeType, Data: img.Data}
}

type messageData struct {
	Role          string
	OwnerName     string
	PropertyName  string
	Address       string
	CameraID      string
	ClassName     string
	Confidence    int
	DetectedAt    string
	Reason        string
	Target        *DispatchTarget
	MapURL        string
	NavigationURL string
	DashboardURL  string
}

var textBody = template.Must(template.New("text").Parse(`{{if eq .Role "owner"}}Hello {{.OwnerName}},

A fire was detected and verified at your property {{.PropertyName}}.{{else}}A verified fire was reported at {{.PropertyName}}.{{end}}

Address: {{.Address}}
Camera: {{.CameraID}} ({{.ClassName}}, {{.Confidence}}% confidence)
Detected at: {{.DetectedAt}}
{{- if .Reason}}
Assessment: {{.Reason}}{{end}}
{{if .Target}}
{{if .Target.Fallback}}Nearest station{{else}}Nearest responder{{end}}: {{.Target.Name}} ({{printf "%.2f" .Target.DistanceKm}} km, about {{.Target.ETAMinutes}} min)
{{- if .Target.Phone}}
Phone: {{.Target.Phone}}{{end}}
{{end}}
Location: {{.MapURL}}
Directions: {{.NavigationURL}}
{{- if .DashboardURL}}
Dashboard: {{.DashboardURL}}{{end}}
`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<h2>Fire alert: {{.PropertyName}}</h2>
{{if eq .Role "owner"}}<p>Hello {{.OwnerName}}, a fire was detected and verified at your property.</p>{{end}}
<table>
<tr><td>Address</td><td>{{.Address}}</td></tr>
<tr><td>Camera</td><td>{{.CameraID}} ({{.ClassName}}, {{.Confidence}}%)</td></tr>
<tr><td>Detected at</td><td>{{.DetectedAt}}</td></tr>
{{if .Reason}}<tr><td>Assessment</td><td>{{.Reason}}</td></tr>{{end}}
{{if .Target}}<tr><td>{{if .Target.Fallback}}Nearest station{{else}}Nearest responder{{end}}</td><td>{{.Target.Name}}, {{printf "%.2f" .Target.DistanceKm}} km, about {{.Target.ETAMinutes}} min</td></tr>{{end}}
</table>
<p><a href="{{.MapURL}}">Open location in maps</a> | <a href="{{.NavigationURL}}">Directions</a>{{if .DashboardURL}} | <a href="{{.DashboardURL}}">Dashboard</a>{{end}}</p>
`))

func (s *AlertService) buildMessage(alert *database.Alert, property *database.Property, target *DispatchTarget, r recipient, attachment *notify.Attachment) (notify.Message, error) {
	dest := geo.Point{Lat: property.Lat, Lng: property.Lng}
	origin := dest
	if target != nil {
		origin = target.Location
	}

	data := messageData{
		Role:          r.role,
		OwnerName:     property.OwnerName,
		PropertyName:  property.Name,
		Address:       property.Address,
		CameraID:      alert.CameraID,
		ClassName:     alert.ClassName,
		Confidence:    int(alert.Confidence*100 + 0.5),
		DetectedAt:    alert.DetectedAt.Format(time.RFC1123),
		Target:        target,
		MapURL:        geo.MapURL(dest),
		NavigationURL: geo.NavigationURL(origin, dest),
	}
	if alert.Verdict != nil {
		data.Reason = alert.Verdict.Reason
	}
	if s.publicURL != "" {
		data.DashboardURL = s.publicURL + "/alerts/" + alert.ID
	}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, data); err != nil {
		return notify.Message{}, err
	}
	if err := htmlBody.Execute(&html, data); err != nil {
		return notify.Message{}, err
	}

	subject := "FIRE ALERT: " + property.Name
	if r.role != "owner" {
		subject = "DISPATCH: verified fire at " + property.Name
	}

	msg := notify.Message{
		To:      r.address,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}
	sensitive := alert.Verdict != nil && alert.Verdict.Sensitive
	if !sensitive {
		msg.ImageURL = alert.ImageURL
		msg.Attachment = attachment
	}
	return msg, nil
}
