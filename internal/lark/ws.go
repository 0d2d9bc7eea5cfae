package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

const (
	// wsReadLimit caps a single websocket frame.
	wsReadLimit = 1 << 20

	// reconnect backoff bounds.
	wsInitialBackoff = time.Second
	wsMaxBackoff     = 30 * time.Second
)

// EventHandler processes one decoded event. Errors are logged, not fatal to
// the stream.
type EventHandler func(ctx context.Context, ev *Event) error

// EventStream maintains a long connection to the Lark event endpoint and
// dispatches decoded events to a handler.
type EventStream struct {
	endpoint string
	handler  EventHandler
	logger   *slog.Logger

	dial func(ctx context.Context, endpoint string) (*websocket.Conn, error)

	// sleep waits between reconnect attempts; replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEventStream creates a stream client for the given long-connection
// endpoint.
func NewEventStream(endpoint string, handler EventHandler, logger *slog.Logger) *EventStream {
	return &EventStream{
		endpoint: endpoint,
		handler:  handler,
		logger:   logger,
		dial: func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, endpoint, nil)
			return conn, err
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// wsFrame is the long-connection frame envelope.
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Run connects and consumes events until ctx is canceled, reconnecting
// with capped exponential backoff on connection loss.
func (s *EventStream) Run(ctx context.Context) error {
	backoff := wsInitialBackoff

	for {
		connected, err := s.consumeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			// The connection was established and then dropped; this is a
			// fresh failure, not a continuation of the previous dial run.
			backoff = wsInitialBackoff
		}

		s.logger.Warn("event stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
	}
}

// consumeOnce dials the endpoint and reads frames until the connection
// fails or ctx is canceled. The bool reports whether the dial succeeded.
func (s *EventStream) consumeOnce(ctx context.Context) (bool, error) {
	conn, err := s.dial(ctx, s.endpoint)
	if err != nil {
		return false, fmt.Errorf("lark: dial event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	conn.SetReadLimit(wsReadLimit)
	s.logger.Info("event stream connected", "endpoint", s.endpoint)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				return true, fmt.Errorf("lark: event stream closed (%d): %s", closeErr.Code, closeErr.Reason)
			}
			return true, fmt.Errorf("lark: read event stream: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("malformed event frame", "error", err)
			continue
		}

		switch frame.Type {
		case "ping":
			pong, _ := json.Marshal(wsFrame{Type: "pong"})
			if err := conn.Write(ctx, websocket.MessageText, pong); err != nil {
				return true, fmt.Errorf("lark: write pong: %w", err)
			}

		case "event":
			var ev Event
			if err := json.Unmarshal(frame.Payload, &ev); err != nil {
				s.logger.Warn("malformed event payload", "error", err)
				continue
			}
			if err := s.handler(ctx, &ev); err != nil {
				s.logger.Error("event handler failed",
					"event_id", ev.Header.EventID,
					"event_type", ev.Header.EventType,
					"error", err,
				)
			}
		}
	}
}
