package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cascadehq/agentboard/internal/model"
)

// closeGrace bounds how long Close waits to write the close frame.
const closeGrace = time.Second

// Subscription adapts one per-call push socket into two pull-based channels
// plus a cancellation handle.
//
// A single read goroutine decodes stream envelopes and dispatches event-kind
// and error-kind messages onto independent buffered channels, so consumers
// use ordinary channel receives instead of registering callbacks. When the
// socket closes for any reason both channels are closed; items already
// buffered remain receivable. Within each channel, delivery order equals
// wire-arrival order; no ordering is guaranteed across the two.
type Subscription struct {
	callID uuid.UUID
	conn   *websocket.Conn
	logger *slog.Logger

	events chan model.CallEvent
	errs   chan model.StreamError

	done      chan struct{}
	closeOnce sync.Once
}

// Stream opens a live event subscription for the given call.
// The returned Subscription must be closed by the caller.
func (c *Client) Stream(ctx context.Context, callID uuid.UUID) (*Subscription, error) {
	wsURL, err := c.streamURL(callID)
	if err != nil {
		return nil, err
	}

	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.apiKey}}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("backend: dial stream for call %s (%s): %w", callID, resp.Status, err)
		}
		return nil, fmt.Errorf("backend: dial stream for call %s: %w", callID, err)
	}

	sub := &Subscription{
		callID: callID,
		conn:   conn,
		logger: c.logger.With("call_id", callID),
		events: make(chan model.CallEvent, c.streamBuf),
		errs:   make(chan model.StreamError, c.streamBuf),
		done:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

func (c *Client) streamURL(callID uuid.UUID) (string, error) {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "", fmt.Errorf("backend: cannot derive stream URL from %q", c.baseURL)
	}
	return base + apiPrefix + "/calls/" + callID.String() + "/events/stream", nil
}

// CallID returns the call this subscription belongs to.
func (s *Subscription) CallID() uuid.UUID { return s.callID }

// Events returns the event channel. It is closed when the socket closes.
func (s *Subscription) Events() <-chan model.CallEvent { return s.events }

// Errors returns the socket-level error channel. Errors here are advisory
// and do not end the subscription. Closed when the socket closes.
func (s *Subscription) Errors() <-chan model.StreamError { return s.errs }

// Done is closed when Close has been called. Consumers that must stop
// mutating state the moment the subscription is cancelled should select on
// Done alongside Events.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close tears the subscription down. It is idempotent and safe to call from
// any point in the consumption lifecycle, including after the socket has
// already closed.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(closeGrace)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
}

// readLoop is the only writer to both channels; it closes them on exit so
// buffered messages drain to consumers before end-of-stream is observed.
func (s *Subscription) readLoop() {
	defer close(s.errs)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Expected: Close was called.
			default:
				s.logger.Debug("event stream closed", "error", err)
			}
			return
		}

		var env model.StreamEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("malformed stream message", "error", err)
			if !s.dispatchErr(model.StreamError{
				ErrorType:    "malformed_message",
				ErrorMessage: err.Error(),
			}) {
				return
			}
			continue
		}

		switch env.Type {
		case model.EnvelopeEvent:
			var ev model.CallEvent
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				s.logger.Warn("undecodable event payload", "error", err)
				if !s.dispatchErr(model.StreamError{
					ErrorType:    "malformed_event",
					ErrorMessage: err.Error(),
					CallID:       &s.callID,
				}) {
					return
				}
				continue
			}
			if !s.dispatchEvent(ev) {
				return
			}
		case model.EnvelopeError:
			var se model.StreamError
			if err := json.Unmarshal(env.Data, &se); err != nil {
				s.logger.Warn("undecodable stream error payload", "error", err)
				continue
			}
			if !s.dispatchErr(se) {
				return
			}
		case model.EnvelopeStatus:
			// Initial connection status; the store learns status from
			// status_change events and summary fetches instead.
			s.logger.Debug("stream status envelope", "data", string(env.Data))
		default:
			s.logger.Debug("unknown stream envelope", "type", env.Type)
		}
	}
}

func (s *Subscription) dispatchEvent(ev model.CallEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) dispatchErr(se model.StreamError) bool {
	select {
	case s.errs <- se:
		return true
	case <-s.done:
		return false
	}
}
