package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives every decoded message
type Handler func(Message)

// Source is a push channel transport
type Source interface {
	// Run delivers messages to handler until ctx is cancelled
	Run(ctx context.Context, handler Handler) error
}

// WebSocketSource reads push messages from a backend WebSocket
type WebSocketSource struct {
	url       string
	dialer    *websocket.Dialer
	header    http.Header
	reconnect ReconnectConfig
	logger    interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	}
}

// NewWebSocketSource creates a WebSocket transport for url
func NewWebSocketSource(
	url string,
	reconnect ReconnectConfig,
	logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	},
) *WebSocketSource {
	return &WebSocketSource{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		header:    http.Header{},
		reconnect: reconnect,
		logger:    logger,
	}
}

// Run implements Source
func (s *WebSocketSource) Run(ctx context.Context, handler Handler) error {
	return runWithReconnect(ctx, "websocket", func(ctx context.Context) (bool, error) {
		return s.session(ctx, handler)
	}, s.reconnect, s.logger)
}

// session dials once and reads until the connection drops
func (s *WebSocketSource) session(ctx context.Context, handler Handler) (bool, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket dial %s: status %d: %w", s.url, resp.StatusCode, err)
		}
		return false, fmt.Errorf("websocket dial %s: %w", s.url, err)
	}
	defer conn.Close()

	s.logger.Info("push channel connected", "transport", "websocket", "url", s.url)

	// ReadMessage does not take a context; closing the conn unblocks it
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errors.New("server closed the push channel")
			}
			return true, fmt.Errorf("websocket read: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		dispatch(raw, "", handler, s.logger)
	}
}

// dispatch decodes raw and hands it to handler. Decode failures are logged
// and dropped; a bad message must not take the channel down.
func dispatch(
	raw []byte,
	fallbackRover string,
	handler Handler,
	logger interface {
		Debug(string, ...any)
		Warn(string, ...any)
	},
) {
	msg, err := Decode(raw)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownType):
		logger.Debug("ignoring push message", "reason", err.Error())
		return
	case msg != nil:
		logger.Warn("dropping undecodable push image", "type", msg.Type(), "error", err.Error())
	default:
		logger.Warn("dropping malformed push message", "error", err.Error())
		return
	}
	if fallbackRover != "" && msg.Rover() == "" {
		msg = withRover(msg, fallbackRover)
	}
	handler(msg)
}

// withRover fills the rover id of a message that did not carry one
func withRover(msg Message, rover string) Message {
	switch m := msg.(type) {
	case StatusMessage:
		m.RoverID = rover
		return m
	case CaptureMessage:
		m.RoverID = rover
		return m
	case ImageMessage:
		m.RoverID = rover
		return m
	case BoxesMessage:
		m.RoverID = rover
		return m
	default:
		return msg
	}
}
