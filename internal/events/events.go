// Package events carries alert lifecycle notifications to live subscribers.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/database"
)

// AlertEvent describes one alert lifecycle change
type AlertEvent struct {
	AlertID    string               `json:"alert_id"`
	CameraID   string               `json:"camera_id"`
	PropertyID string               `json:"property_id,omitempty"`
	From       database.AlertStatus `json:"from,omitempty"`
	Status     database.AlertStatus `json:"status"`
	// Deleted is set when the alert row was removed rather than transitioned.
	Deleted bool      `json:"deleted,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher receives lifecycle events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, ev AlertEvent) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, ev AlertEvent) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, ev AlertEvent) error { return f(ctx, ev) }

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, AlertEvent) error { return nil }

// Fanout forwards each event to every publisher. Failures are logged and do
// not stop delivery to the rest.
type Fanout []Publisher

// Publish implements Publisher
func (f Fanout) Publish(ctx context.Context, ev AlertEvent) error {
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("alert_id", ev.AlertID).Str("status", string(ev.Status)).Msg("Failed to publish alert event")
		}
	}
	return nil
}
