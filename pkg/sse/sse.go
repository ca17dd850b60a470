package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event represents a Server-Sent Event
type Event struct {
	ID      string
	Type    string
	Data    interface{}
	Retry   int
	Comment string
}

// Client represents an SSE client connection
type Client struct {
	ID      string
	Channel chan Event
	Context context.Context
	Cancel  context.CancelFunc
}

// Server fans events out to every connected client
type Server struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	count      atomic.Int64
	heartbeat  time.Duration
	logger     interface {
		Debug(string, ...any)
		Error(string, error, ...any)
	}
}

// NewServer creates a new SSE server
func NewServer(logger interface {
	Debug(string, ...any)
	Error(string, error, ...any)
}) *Server {
	return &Server{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		heartbeat:  15 * time.Second,
		logger:     logger,
	}
}

// Start runs the dispatch loop until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				for id, client := range s.clients {
					client.Cancel()
					close(client.Channel)
					delete(s.clients, id)
				}
				s.count.Store(0)
				return

			case client := <-s.register:
				s.clients[client.ID] = client
				s.count.Store(int64(len(s.clients)))
				s.logger.Debug("SSE client registered", "id", client.ID)

			case client := <-s.unregister:
				s.drop(client)

			case event := <-s.broadcast:
				for _, client := range s.clients {
					select {
					case client.Channel <- event:
					default:
						// Slow client, cut it loose
						s.drop(client)
						client.Cancel()
					}
				}
			}
		}
	}()
}

// drop runs on the dispatch goroutine only
func (s *Server) drop(client *Client) {
	if _, ok := s.clients[client.ID]; !ok {
		return
	}
	delete(s.clients, client.ID)
	close(client.Channel)
	s.count.Store(int64(len(s.clients)))
	s.logger.Debug("SSE client unregistered", "id", client.ID)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return int(s.count.Load())
}

// ServeHTTP handles SSE connections
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx buffering

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &Client{
		ID:      uuid.NewString(),
		Channel: make(chan Event, 100),
		Context: ctx,
		Cancel:  cancel,
	}

	select {
	case s.register <- client:
	case <-s.done:
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}

	defer func() {
		select {
		case s.unregister <- client:
		case <-s.done:
		}
	}()

	if err := s.writeEvent(w, flusher, Event{
		Type:  "connected",
		Retry: 3000,
		Data:  map[string]string{"id": client.ID},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := s.writeEvent(w, flusher, Event{Comment: "keep-alive"}); err != nil {
				return
			}

		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			if err := s.writeEvent(w, flusher, event); err != nil {
				s.logger.Error("failed to write SSE event", err, "client", client.ID)
				return
			}
		}
	}
}

// Broadcast queues an event for every client. It never blocks the caller;
// when the queue is full the event is dropped.
func (s *Server) Broadcast(event Event) {
	select {
	case s.broadcast <- event:
	default:
		s.logger.Debug("broadcast queue full, dropping event", "type", event.Type)
	}
}

// Publish broadcasts data under eventType
func (s *Server) Publish(eventType string, data interface{}) {
	s.Broadcast(Event{Type: eventType, Data: data})
}

// writeEvent writes an event to the response writer
func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}

	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return err
		}
	}

	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return err
		}
	}

	if event.Comment != "" {
		if _, err := fmt.Fprintf(w, ": %s\n", event.Comment); err != nil {
			return err
		}
	}

	if event.Data != nil {
		var dataStr string
		switch v := event.Data.(type) {
		case string:
			dataStr = v
		case []byte:
			dataStr = string(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			dataStr = string(data)
		}

		// Multi-line payloads need one data field per line
		for _, line := range strings.Split(strings.TrimSuffix(dataStr, "\n"), "\n") {
			if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
				return err
			}
		}
	}

	if _, err := fmt.Fprintf(w, "\n"); err != nil {
		return err
	}

	flusher.Flush()

	return nil
}
