package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberline/emberline/internal/database"
)

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub(nil)
	mux := http.NewServeMux()
	hub.SetupRoutes(mux, nil)
	server := httptest.NewServer(mux)
	defer server.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := AlertEvent{AlertID: "a-1", CameraID: "cam-1", Status: database.AlertStatusConfirmed, At: time.Now().UTC()}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}

	var got AlertEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid event json: %v", err)
	}
	if got.AlertID != "a-1" || got.Status != database.AlertStatusConfirmed {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Publish(context.Background(), AlertEvent{AlertID: "a-1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

type countingPublisher struct {
	n   int
	err error
}

func (p *countingPublisher) Publish(context.Context, AlertEvent) error {
	p.n++
	return p.err
}

func TestFanout_ContinuesPastFailures(t *testing.T) {
	failing := &countingPublisher{err: errors.New("broker down")}
	ok := &countingPublisher{}

	f := Fanout{failing, nil, ok}
	if err := f.Publish(context.Background(), AlertEvent{AlertID: "a-1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if failing.n != 1 || ok.n != 1 {
		t.Errorf("expected each publisher called once, got %d and %d", failing.n, ok.n)
	}
}
