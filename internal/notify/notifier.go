// Package notify delivers alert notifications over email and Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/emberline/emberline/internal/metrics"
)

// SlackPrefix marks a recipient address as a Slack channel, e.g. "slack:#fire-ops".
const SlackPrefix = "slack:"

// ErrNoSender is returned when no transport is configured for an address
var ErrNoSender = errors.New("no sender configured for recipient")

// Attachment is an optional file sent along with an email
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one notification to one recipient
type Message struct {
	To         string
	Subject    string
	Text       string
	HTML       string
	ImageURL   string
	Attachment *Attachment
}

// Sender delivers a message over one transport
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Channel() string
}

// Result is the per-recipient outcome of a send
type Result struct {
	Recipient string
	Channel   string
	Err       error
}

// OK reports whether the send succeeded
func (r Result) OK() bool {
	return r.Err == nil
}

// Router picks the transport for each recipient address
type Router struct {
	email Sender
	slack Sender
}

// NewRouter creates a router. Either sender may be nil.
func NewRouter(email, slack Sender) *Router {
	return &Router{email: email, slack: slack}
}

func (r *Router) senderFor(address string) Sender {
	if strings.HasPrefix(address, SlackPrefix) {
		return r.slack
	}
	return r.email
}

// Send delivers a single message
func (r *Router) Send(ctx context.Context, msg Message) Result {
	sender := r.senderFor(msg.To)
	if sender == nil {
		return Result{Recipient: msg.To, Channel: "none", Err: fmt.Errorf("%s: %w", msg.To, ErrNoSender)}
	}

	err := sender.Send(ctx, msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Warn().Err(err).Str("recipient", msg.To).Str("channel", sender.Channel()).Msg("Notification failed")
	}
	metrics.NotificationsSent.WithLabelValues(sender.Channel(), outcome).Inc()

	return Result{Recipient: msg.To, Channel: sender.Channel(), Err: err}
}

// SendAll delivers every message independently and in parallel. A failure
// for one recipient never prevents delivery to the others.
func (r *Router) SendAll(ctx context.Context, msgs []Message) []Result {
	results := make([]Result, len(msgs))

	var g errgroup.Group
	for i, msg := range msgs {
		g.Go(func() error {
			results[i] = r.Send(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
