package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"kidfun/internal/realtime"

	ws "github.com/coder/websocket"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = time.Minute
)

// Subscriber keeps a WebSocket subscription to the family channel open and
// forwards every event it receives. Events are dropped while the consumer
// is not keeping up.
type Subscriber struct {
	url    string
	events chan realtime.Envelope
	logger *slog.Logger
}

// NewSubscriber creates a subscriber for the given /child/ws URL
func NewSubscriber(url string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		url:    url,
		events: make(chan realtime.Envelope, 16),
		logger: logger.With("component", "subscriber"),
	}
}

// Events returns the received events
func (s *Subscriber) Events() <-chan realtime.Envelope {
	return s.events
}

// Run connects and reconnects with backoff until ctx is done
func (s *Subscriber) Run(ctx context.Context) {
	delay := minReconnectDelay
	for {
		connected := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = minReconnectDelay
		}

		s.logger.Debug("reconnecting", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// connect runs one connection and reports whether it was established
func (s *Subscriber) connect(ctx context.Context) bool {
	conn, _, err := ws.Dial(ctx, s.url, nil)
	if err != nil {
		s.logger.Warn("subscription failed", "error", err)
		return false
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	s.logger.Info("subscribed to family channel")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("subscription closed", "error", err)
			}
			return true
		}

		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("malformed event", "error", err)
			continue
		}

		select {
		case s.events <- env:
		default:
			s.logger.Warn("event dropped", "type", env.Type)
		}
	}
}
