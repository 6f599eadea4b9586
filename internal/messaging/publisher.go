package messaging

import (
	"context"
	"strings"

	"github.com/emberline/emberline/internal/events"
)

// publisher is the slice of Service the event publisher needs
type publisher interface {
	Publish(subject string, data interface{}) error
}

// EventPublisher mirrors alert lifecycle events onto NATS, one subject per
// status, e.g. emberline.alerts.notified_cooldown. Deletions go to
// <prefix>.alerts.deleted.
type EventPublisher struct {
	conn   publisher
	prefix string
}

// NewEventPublisher publishes through svc
func NewEventPublisher(svc *Service) *EventPublisher {
	return &EventPublisher{conn: svc, prefix: svc.prefix}
}

// SubjectFor returns the subject an event is published on
func (p *EventPublisher) SubjectFor(ev events.AlertEvent) string {
	if ev.Deleted {
		return subject(p.prefix, "alerts", "deleted")
	}
	return subject(p.prefix, "alerts", strings.ToLower(string(ev.Status)))
}

// Publish implements events.Publisher
func (p *EventPublisher) Publish(_ context.Context, ev events.AlertEvent) error {
	return p.conn.Publish(p.SubjectFor(ev), ev)
}
