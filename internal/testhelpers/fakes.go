package testhelpers

import (
	"context"
	"sync"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/notify"
)

// FakeVerifier returns a fixed verdict, optionally after Release is closed.
type FakeVerifier struct {
	Verdict database.Verdict
	// Release, when non-nil, blocks Verify until closed.
	Release chan struct{}

	mu    sync.Mutex
	calls []string
}

// NewFakeVerifier creates a verifier that always answers v
func NewFakeVerifier(v database.Verdict) *FakeVerifier {
	return &FakeVerifier{Verdict: v}
}

// Verify implements the verifier used by the alert service
func (f *FakeVerifier) Verify(ctx context.Context, imageRef string) database.Verdict {
	f.mu.Lock()
	f.calls = append(f.calls, imageRef)
	f.mu.Unlock()

	if f.Release != nil {
		select {
		case <-f.Release:
		case <-ctx.Done():
		}
	}
	return f.Verdict
}

// Calls returns the image references verified so far
func (f *FakeVerifier) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeSender records messages and fails for configured recipients.
type FakeSender struct {
	Name    string
	FailFor map[string]error

	mu   sync.Mutex
	sent []notify.Message
}

// NewFakeSender creates a sender reporting the given channel name
func NewFakeSender(channel string) *FakeSender {
	return &FakeSender{Name: channel, FailFor: map[string]error{}}
}

// Channel implements notify.Sender
func (f *FakeSender) Channel() string { return f.Name }

// Send implements notify.Sender
func (f *FakeSender) Send(ctx context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailFor[msg.To]; ok {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// Sent returns delivered messages
func (f *FakeSender) Sent() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.sent...)
}

// Recipients returns the addresses of delivered messages
func (f *FakeSender) Recipients() []string {
	msgs := f.Sent()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.To)
	}
	return out
}
