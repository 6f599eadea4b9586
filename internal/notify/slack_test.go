package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/slack-go/slack"
)

func newFakeSlack(t *testing.T) (*httptest.Server, *[]string, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var posted []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/conversations.list":
			_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C0999999999","name":"fire-ops"}],"response_metadata":{"next_cursor":""}}`))
		case "/chat.postMessage":
			if err := r.ParseForm(); err != nil {
				t.Errorf("failed to parse form: %v", err)
			}
			mu.Lock()
			posted = append(posted, r.FormValue("channel"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C0999999999","ts":"1700000000.000100"}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error":"unknown_method"}`))
		}
	}))
	t.Cleanup(server.Close)
	return server, &posted, &mu
}

func TestSlackSender_SendResolvesChannelName(t *testing.T) {
	server, posted, mu := newFakeSlack(t)
	s := NewSlackSender("xoxb-test", slack.OptionAPIURL(server.URL+"/"))

	err := s.Send(context.Background(), Message{
		To:       "slack:#fire-ops",
		Subject:  "Fire confirmed",
		Text:     "Camera cam-1",
		ImageURL: "https://img.example.com/1.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*posted) != 1 || (*posted)[0] != "C0999999999" {
		t.Errorf("expected post to C0999999999, got %v", *posted)
	}
}

func TestSlackSender_UnknownChannel(t *testing.T) {
	server, _, _ := newFakeSlack(t)
	s := NewSlackSender("xoxb-test", slack.OptionAPIURL(server.URL+"/"))

	if err := s.Send(context.Background(), Message{To: "slack:#nope", Text: "x"}); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestSlackSender_ResolveChannelCaches(t *testing.T) {
	server, _, _ := newFakeSlack(t)
	s := NewSlackSender("xoxb-test", slack.OptionAPIURL(server.URL+"/"))

	id, err := s.ResolveChannel(context.Background(), "fire-ops")
	if err != nil || id != "C0999999999" {
		t.Fatalf("unexpected resolve result: %s, %v", id, err)
	}

	server.Close()
	id, err = s.ResolveChannel(context.Background(), "#fire-ops")
	if err != nil || id != "C0999999999" {
		t.Errorf("expected cached id after server shutdown, got %s, %v", id, err)
	}
}

func TestIsChannelID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"C0123456789", true},
		{"G0123456789", true},
		{"fire-ops", false},
		{"C012", false},
		{"c0123456789", false},
	}
	for _, tt := range tests {
		if got := isChannelID(tt.in); got != tt.want {
			t.Errorf("isChannelID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
