package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/emberline/emberline/internal/utils"
)

// Slack rejects section blocks longer than this
const maxSectionText = 2900

// SlackSender posts notifications to Slack channels
type SlackSender struct {
	client *slack.Client
	cache  map[string]string // channel name -> id
	mu     sync.RWMutex
}

// NewSlackSender creates a sender for the bot token. Extra options are passed
// to the Slack client (tests use slack.OptionAPIURL).
func NewSlackSender(token string, options ...slack.Option) *SlackSender {
	return &SlackSender{
		client: slack.New(token, options...),
		cache:  make(map[string]string),
	}
}

// Channel returns the transport name
func (s *SlackSender) Channel() string {
	return "slack"
}

// Send posts msg to the channel named in msg.To ("slack:#name" or "slack:C0123…")
func (s *SlackSender) Send(ctx context.Context, msg Message) error {
	channelID, err := s.ResolveChannel(ctx, strings.TrimPrefix(msg.To, SlackPrefix))
	if err != nil {
		return err
	}

	text := msg.Text
	if msg.Subject != "" {
		text = "*" + msg.Subject + "*\n" + text
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, utils.Truncate(text, maxSectionText), false, false), nil, nil),
	}
	if msg.ImageURL != "" {
		blocks = append(blocks, slack.NewImageBlock(msg.ImageURL, "detection snapshot", "", nil))
	}

	_, _, err = s.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("failed to post to slack channel %s: %w", channelID, err)
	}
	return nil
}

// ResolveChannel resolves a channel name or ID to a channel ID
func (s *SlackSender) ResolveChannel(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("channel name/ID is empty")
	}
	if isChannelID(nameOrID) {
		return nameOrID, nil
	}

	channelName := strings.TrimPrefix(nameOrID, "#")

	s.mu.RLock()
	if id, ok := s.cache[channelName]; ok {
		s.mu.RUnlock()
		return id, nil
	}
	s.mu.RUnlock()

	id, err := s.lookupChannel(ctx, channelName)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[channelName] = id
	s.mu.Unlock()

	log.Debug().Str("channel", channelName).Str("id", id).Msg("Resolved Slack channel")
	return id, nil
}

func (s *SlackSender) lookupChannel(ctx context.Context, name string) (string, error) {
	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           1000,
		Types:           []string{"public_channel", "private_channel"},
	}
	for {
		channels, cursor, err := s.client.GetConversationsContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("failed to list channels: %w", err)
		}
		for _, channel := range channels {
			if channel.Name == name {
				return channel.ID, nil
			}
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	return "", fmt.Errorf("channel '%s' not found", name)
}

// isChannelID checks if a string looks like a Slack channel ID
func isChannelID(s string) bool {
	if len(s) < 9 || len(s) > 15 {
		return false
	}
	if !strings.HasPrefix(s, "C") && !strings.HasPrefix(s, "G") {
		return false
	}
	for _, c := range s[1:] {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
