package device

import (
	"context"
	"sort"
	"sync"

	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/push"
	"github.com/eduard256/roverlive/internal/utils/clock"
)

// EventSink receives everything the hub learns from the rovers
type EventSink interface {
	Publisher
	ImageUpdated(models.CapturedFrame)
	BoxesUpdated(roverID string, boxes []models.Box)
}

// Hub owns one command channel per rover and routes push messages to them
type Hub struct {
	api      API
	clock    clock.Clock
	timeouts Timeouts
	sink     EventSink
	logger   interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	}

	mu       sync.RWMutex
	channels map[string]*Channel
	images   map[string]models.CapturedFrame
	boxes    map[string][]models.Box
	closed   bool
}

// NewHub creates a hub sending commands through api
func NewHub(
	api API,
	clk clock.Clock,
	timeouts Timeouts,
	sink EventSink,
	logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	},
) *Hub {
	return &Hub{
		api:      api,
		clock:    clk,
		timeouts: timeouts,
		sink:     sink,
		logger:   logger,
		channels: make(map[string]*Channel),
		images:   make(map[string]models.CapturedFrame),
		boxes:    make(map[string][]models.Box),
	}
}

// Channel returns the channel of roverID, creating it on first use
func (h *Hub) Channel(roverID string) *Channel {
	h.mu.RLock()
	ch := h.channels[roverID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch = h.channels[roverID]; ch == nil {
		ch = NewChannel(roverID, h.api, h.clock, h.timeouts, h.sink, h.logger)
		if h.closed {
			// Never registered, so nothing arms timers after shutdown
			ch.Close()
			return ch
		}
		h.channels[roverID] = ch
	}
	return ch
}

// Issue sends cmd on the channel of its rover. It fails with ErrClosed
// once the hub is closed.
func (h *Hub) Issue(ctx context.Context, cmd Command) (models.CommandStatus, error) {
	return h.Channel(cmd.RoverID).Issue(ctx, cmd)
}

// Capture returns the last captured frame of roverID
func (h *Hub) Capture(roverID string) (models.CapturedFrame, error) {
	h.mu.RLock()
	ch := h.channels[roverID]
	h.mu.RUnlock()
	if ch == nil {
		return models.CapturedFrame{}, ErrNoCapture
	}
	return ch.Capture()
}

// DismissCapture drops the captured frame of roverID
func (h *Hub) DismissCapture(roverID string) {
	h.mu.RLock()
	ch := h.channels[roverID]
	h.mu.RUnlock()
	if ch != nil {
		ch.DismissCapture()
	}
}

// LatestImage returns the last image_update still of roverID
func (h *Hub) LatestImage(roverID string) (models.CapturedFrame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	frame, ok := h.images[roverID]
	return frame, ok
}

// Boxes returns the last detection boxes of roverID
func (h *Hub) Boxes(roverID string) []models.Box {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.boxes[roverID]
}

// Rovers lists the rovers that have a channel
func (h *Hub) Rovers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handle routes one push message. It satisfies push.Handler.
func (h *Hub) Handle(msg push.Message) {
	roverID := h.resolveRover(msg)
	if roverID == "" {
		h.logger.Debug("dropping push message without routable rover", "type", msg.Type())
		return
	}

	switch m := msg.(type) {
	case push.StatusMessage, push.CaptureMessage:
		h.Channel(roverID).Confirm(m)

	case push.ImageMessage:
		frame := models.CapturedFrame{
			RoverID:    roverID,
			Image:      m.Image,
			MIMEType:   m.MIMEType,
			Source:     string(push.TypeImageUpdate),
			ReceivedAt: h.clock.Now(),
		}
		h.mu.Lock()
		h.images[roverID] = frame
		h.mu.Unlock()
		h.sink.ImageUpdated(frame)

	case push.BoxesMessage:
		h.mu.Lock()
		h.boxes[roverID] = m.Boxes
		h.mu.Unlock()
		h.sink.BoxesUpdated(roverID, m.Boxes)
	}
}

// resolveRover picks the target of a message. Messages without a rover id
// go to the only channel awaiting that confirmation, or to the only channel.
func (h *Hub) resolveRover(msg push.Message) string {
	if id := msg.Rover(); id != "" {
		return id
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var waiting []string
	for id, ch := range h.channels {
		if ch.awaits(msg.Type()) {
			waiting = append(waiting, id)
		}
	}
	if len(waiting) == 1 {
		return waiting[0]
	}
	if len(waiting) == 0 && len(h.channels) == 1 {
		for id := range h.channels {
			return id
		}
	}
	return ""
}

// Close cancels every pending command timer
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, ch := range h.channels {
		ch.Close()
	}
}
