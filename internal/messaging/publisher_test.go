package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/events"
)

type published struct {
	subject string
	data    interface{}
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestEventPublisher_SubjectPerStatus(t *testing.T) {
	conn := &fakeConn{}
	p := &EventPublisher{conn: conn, prefix: "emberline"}

	tests := []struct {
		ev   events.AlertEvent
		want string
	}{
		{events.AlertEvent{AlertID: "a-1", Status: database.AlertStatusPending}, "emberline.alerts.pending"},
		{events.AlertEvent{AlertID: "a-1", Status: database.AlertStatusCooldown}, "emberline.alerts.notified_cooldown"},
		{events.AlertEvent{AlertID: "a-1", Status: database.AlertStatusCooldown, Deleted: true}, "emberline.alerts.deleted"},
	}
	for _, tt := range tests {
		if err := p.Publish(context.Background(), tt.ev); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	if len(conn.msgs) != len(tests) {
		t.Fatalf("expected %d messages, got %d", len(tests), len(conn.msgs))
	}
	for i, tt := range tests {
		if conn.msgs[i].subject != tt.want {
			t.Errorf("subject = %s, want %s", conn.msgs[i].subject, tt.want)
		}
		if ev, ok := conn.msgs[i].data.(events.AlertEvent); !ok || ev.AlertID != "a-1" {
			t.Errorf("unexpected payload %#v", conn.msgs[i].data)
		}
	}
}

func TestEventPublisher_PropagatesErrors(t *testing.T) {
	p := &EventPublisher{conn: &fakeConn{err: errors.New("nats: connection closed")}, prefix: "emberline"}
	if err := p.Publish(context.Background(), events.AlertEvent{Status: database.AlertStatusPending}); err == nil {
		t.Error("expected publish error")
	}
}

func TestSubject(t *testing.T) {
	if got := subject("emberline", "detections"); got != "emberline.detections" {
		t.Errorf("subject = %s", got)
	}
	if got := subject("", "detections"); got != "detections" {
		t.Errorf("subject without prefix = %s", got)
	}
}
