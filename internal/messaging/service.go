// Package messaging connects the alert lifecycle to NATS: detections come in
// on one subject and lifecycle events go out on per-status subjects.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/emberline/emberline/internal/config"
)

// Service owns the NATS connection
type Service struct {
	conn   *nats.Conn
	prefix string
	queue  string
}

// NewService connects to NATS using the connection settings in cfg
func NewService(cfg *config.Config) (*Service, error) {
	opts := []nats.Option{
		nats.Name("emberline"),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")

	return &Service{
		conn:   conn,
		prefix: strings.TrimSuffix(cfg.NatsSubjectPrefix, "."),
		queue:  cfg.NatsQueueGroup,
	}, nil
}

// Subject joins parts onto the configured subject prefix
func (s *Service) Subject(parts ...string) string {
	return subject(s.prefix, parts...)
}

// QueueGroup is the queue group detection consumers join
func (s *Service) QueueGroup() string {
	return s.queue
}

// Publish marshals data as JSON and publishes it on subject
func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.conn.Publish(subject, payload)
}

// Subscribe registers handler for every message on subject
func (s *Service) Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error) {
	return s.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// QueueSubscribe registers handler as one member of a load-balanced queue group
func (s *Service) QueueSubscribe(subject, queue string, handler func([]byte)) (*nats.Subscription, error) {
	return s.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// IsConnected reports whether the connection is currently up
func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Shutdown drains pending messages, falling back to an immediate close
func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
		s.conn.Close()
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.conn.IsDraining() {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func subject(prefix string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if prefix != "" {
		all = append(all, prefix)
	}
	all = append(all, parts...)
	return strings.Join(all, ".")
}
