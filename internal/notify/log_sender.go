package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSender writes notifications to the log instead of delivering them.
// Used when SMTP is not configured.
type LogSender struct{}

func (LogSender) Channel() string {
	return "log"
}

func (LogSender) Send(ctx context.Context, msg Message) error {
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Bool("attachment", msg.Attachment != nil).
		Msg("Notification (no transport configured)")
	return nil
}
