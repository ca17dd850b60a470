package api

import (
	"github.com/eduard256/roverlive/internal/metrics"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/push"
)

// Event types sent to browser subscribers
const (
	EventSession = "session"
	EventLatency = "latency"
	EventCommand = "command"
	EventCapture = "capture"
	EventImage   = "image"
	EventBoxes   = "boxes"
)

// Broadcaster fans an event out to subscribers
type Broadcaster interface {
	Publish(eventType string, data interface{})
}

// FrameEvent announces a new still without shipping its pixels; clients
// fetch the image from the rover endpoints
type FrameEvent struct {
	models.CapturedFrame
	Size int `json:"size"`
}

// BoxesEvent carries detection boxes of one rover
type BoxesEvent struct {
	RoverID string       `json:"rover_id"`
	Boxes   []models.Box `json:"boxes"`
}

// EventBridge forwards session, latency and device events to the event
// stream and the metrics
type EventBridge struct {
	out     Broadcaster
	metrics *metrics.Metrics
}

// NewEventBridge creates a bridge. metrics may be nil.
func NewEventBridge(out Broadcaster, m *metrics.Metrics) *EventBridge {
	return &EventBridge{out: out, metrics: m}
}

// SessionChanged publishes a session snapshot
func (b *EventBridge) SessionChanged(info models.SessionInfo) {
	if info.State == models.StateClosed && b.metrics != nil {
		b.metrics.ForgetSession(info.ID)
	}
	b.out.Publish(EventSession, info)
}

// LatencyReported publishes a latency report
func (b *EventBridge) LatencyReported(report models.LatencyReport) {
	if b.metrics != nil {
		b.metrics.ObserveLatency(report)
	}
	b.out.Publish(EventLatency, report)
}

// CommandChanged implements device.EventSink
func (b *EventBridge) CommandChanged(st models.CommandStatus) {
	if b.metrics != nil {
		b.metrics.ObserveCommand(st)
	}
	b.out.Publish(EventCommand, st)
}

// FrameCaptured implements device.EventSink
func (b *EventBridge) FrameCaptured(frame models.CapturedFrame) {
	b.out.Publish(EventCapture, FrameEvent{CapturedFrame: frame, Size: len(frame.Image)})
}

// ImageUpdated implements device.EventSink
func (b *EventBridge) ImageUpdated(frame models.CapturedFrame) {
	b.out.Publish(EventImage, FrameEvent{CapturedFrame: frame, Size: len(frame.Image)})
}

// BoxesUpdated implements device.EventSink
func (b *EventBridge) BoxesUpdated(roverID string, boxes []models.Box) {
	b.out.Publish(EventBoxes, BoxesEvent{RoverID: roverID, Boxes: boxes})
}

// Counting wraps a push handler so every message is counted
func (b *EventBridge) Counting(next push.Handler) push.Handler {
	return func(msg push.Message) {
		if b.metrics != nil {
			b.metrics.IncPushMessage(string(msg.Type()))
		}
		next(msg)
	}
}
