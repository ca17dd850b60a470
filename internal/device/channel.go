// Package device issues device-control commands over HTTP and correlates
// them with the confirmations that arrive later on the push channel.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/push"
	"github.com/eduard256/roverlive/internal/utils/clock"
)

var (
	// ErrRejected is returned when the backend answers a command with a non-OK status
	ErrRejected = errors.New("command rejected")

	// ErrNoCapture is returned when no captured frame is held
	ErrNoCapture = errors.New("no captured frame")

	// ErrClosed is returned by a channel after Close
	ErrClosed = errors.New("command channel closed")
)

// Status messages shown inline by the UI
const (
	msgInProgress   = "Sending %s command..."
	msgAccepted     = "%s command accepted, waiting for the camera"
	msgSlow         = "%s is taking longer than usual, this may take up to %s"
	msgTimedOut     = "%s failed: no confirmation from the camera within %s"
	msgRejected     = "%s rejected: %s"
	msgSendFailed   = "%s failed: %s"
	msgSucceeded    = "%s succeeded"
	msgFailed       = "%s failed on the camera"
	msgCaptureAck   = "Capture acknowledged, waiting for the image"
	msgCaptureReady = "Capture received"
)

// slot groups commands that share one confirmation type. connect and
// disconnect toggle the same device state, as do start-live and stop-live.
type slot string

const (
	slotConnect slot = "connect"
	slotLive    slot = "live"
	slotCapture slot = "capture"
	slotConfig  slot = "config"
)

func slotOf(kind models.CommandKind) slot {
	switch kind {
	case models.CommandConnect, models.CommandDisconnect:
		return slotConnect
	case models.CommandStartLive, models.CommandStopLive:
		return slotLive
	case models.CommandCapture:
		return slotCapture
	default:
		return slotConfig
	}
}

func slotOfMessage(t push.MessageType) (slot, bool) {
	switch t {
	case push.TypeConnect:
		return slotConnect, true
	case push.TypeLive:
		return slotLive, true
	case push.TypeCapture:
		return slotCapture, true
	case push.TypeConfig:
		return slotConfig, true
	default:
		return "", false
	}
}

// pending is one outstanding command
type pending struct {
	kind     models.CommandKind
	seq      uint64
	issuedAt time.Time
	accepted bool
	resolved bool
	soft     clock.Timer
	hard     clock.Timer
}

func (p *pending) stopTimers() {
	if p.soft != nil {
		p.soft.Stop()
		p.soft = nil
	}
	if p.hard != nil {
		p.hard.Stop()
		p.hard = nil
	}
}

// Timeouts are the two escalation deadlines counted from issue time
type Timeouts struct {
	Soft time.Duration
	Hard time.Duration
}

// Publisher receives command status changes and captured frames
type Publisher interface {
	CommandChanged(models.CommandStatus)
	FrameCaptured(models.CapturedFrame)
}

// Channel tracks the commands of one rover. At most one command per slot
// is outstanding; a new one silently abandons the previous.
type Channel struct {
	roverID   string
	api       API
	clock     clock.Clock
	timeouts  Timeouts
	publisher Publisher
	logger    interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	}

	mu      sync.Mutex
	seq     uint64
	pending map[slot]*pending
	capture *models.CapturedFrame
	closed  bool

	// publishMu is taken before mu is released, so statuses reach the
	// publisher in the order their transitions were decided
	publishMu sync.Mutex
}

// NewChannel creates the command channel of roverID
func NewChannel(
	roverID string,
	api API,
	clk clock.Clock,
	timeouts Timeouts,
	publisher Publisher,
	logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	},
) *Channel {
	if timeouts.Soft <= 0 {
		timeouts.Soft = 15 * time.Second
	}
	if timeouts.Hard <= timeouts.Soft {
		timeouts.Hard = 2 * timeouts.Soft
	}
	return &Channel{
		roverID:   roverID,
		api:       api,
		clock:     clk,
		timeouts:  timeouts,
		publisher: publisher,
		logger:    logger,
		pending:   make(map[slot]*pending),
	}
}

// RoverID returns the rover of the channel
func (c *Channel) RoverID() string { return c.roverID }

// Issue sends cmd and returns once the backend has answered. A nil error
// means the command was accepted; its confirmation is reported later
// through the publisher.
func (c *Channel) Issue(ctx context.Context, cmd Command) (models.CommandStatus, error) {
	cmd.RoverID = c.roverID
	if _, _, err := Request(cmd); err != nil {
		return models.CommandStatus{}, err
	}
	s := slotOf(cmd.Kind)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.CommandStatus{}, ErrClosed
	}
	if prev := c.pending[s]; prev != nil {
		prev.stopTimers()
		c.logger.Debug("abandoning pending command", "rover_id", c.roverID, "kind", prev.kind)
	}
	c.seq++
	p := &pending{kind: cmd.Kind, seq: c.seq, issuedAt: c.clock.Now()}
	c.pending[s] = p
	done := c.handoff()
	c.publish(cmd.Kind, models.OutcomePending, models.StatusInfo, fmt.Sprintf(msgInProgress, cmd.Kind))
	done()

	resp, err := c.api.Send(ctx, cmd)

	c.mu.Lock()
	if c.pending[s] != p || p.resolved {
		// Superseded, or confirmed before the HTTP answer came back
		c.mu.Unlock()
		if err != nil {
			return models.CommandStatus{}, err
		}
		return c.status(cmd.Kind, models.OutcomePending, models.StatusInfo, ""), nil
	}

	if err != nil || !resp.OK {
		delete(c.pending, s)
		done := c.handoff()
		defer done()

		if err != nil {
			c.logger.Error("device command failed", err, "rover_id", c.roverID, "kind", cmd.Kind)
			return c.publish(cmd.Kind, models.OutcomeFailed, models.StatusError, fmt.Sprintf(msgSendFailed, cmd.Kind, err)), err
		}
		c.logger.Warn("device command rejected", "rover_id", c.roverID, "kind", cmd.Kind, "status", resp.StatusCode)
		st := c.publish(cmd.Kind, models.OutcomeRejected, models.StatusError, fmt.Sprintf(msgRejected, cmd.Kind, resp.Message))
		return st, fmt.Errorf("%w: %s returned %d", ErrRejected, cmd.Kind, resp.StatusCode)
	}

	p.accepted = true
	if cmd.Kind == models.CommandCapture && len(resp.Image) > 0 {
		frame := c.storeFrameLocked(resp.Image, resp.MIMEType, "http")
		c.resolveLocked(s, p)
		done := c.handoff()
		defer done()

		c.publisher.FrameCaptured(frame)
		return c.publish(cmd.Kind, models.OutcomeSucceeded, models.StatusSuccess, msgCaptureReady), nil
	}

	elapsed := c.clock.Now().Sub(p.issuedAt)
	p.soft = c.clock.AfterFunc(remaining(c.timeouts.Soft, elapsed), func() { c.softTimeout(s, p.seq) })
	p.hard = c.clock.AfterFunc(remaining(c.timeouts.Hard, elapsed), func() { c.hardTimeout(s, p.seq) })
	done = c.handoff()
	defer done()

	c.logger.Info("device command accepted", "rover_id", c.roverID, "kind", cmd.Kind)
	return c.publish(cmd.Kind, models.OutcomePending, models.StatusInfo, fmt.Sprintf(msgAccepted, cmd.Kind)), nil
}

// Confirm applies a push message addressed to this rover
func (c *Channel) Confirm(msg push.Message) {
	switch m := msg.(type) {
	case push.StatusMessage:
		c.confirmStatus(m)
	case push.CaptureMessage:
		c.confirmCapture(m)
	}
}

// Pending reports whether a command of kind's slot is outstanding
func (c *Channel) Pending(kind models.CommandKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[slotOf(kind)] != nil
}

// awaits reports whether a confirmation of type t would settle something
func (c *Channel) awaits(t push.MessageType) bool {
	s, ok := slotOfMessage(t)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[s] != nil
}

// Capture returns the held captured frame
func (c *Channel) Capture() (models.CapturedFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return models.CapturedFrame{}, ErrNoCapture
	}
	return *c.capture, nil
}

// DismissCapture drops the held frame once the viewer is closed
func (c *Channel) DismissCapture() {
	c.mu.Lock()
	c.capture = nil
	c.mu.Unlock()
}

// Close cancels every pending timer. Timers that already fired are no-ops.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for s, p := range c.pending {
		p.stopTimers()
		delete(c.pending, s)
	}
}

func (c *Channel) confirmStatus(m push.StatusMessage) {
	s, ok := slotOfMessage(m.Type())
	if !ok {
		return
	}
	if !m.Status.Meaningful() {
		// Firmware sends null and negative values while still working
		c.logger.Debug("ignoring non-final device status", "rover_id", c.roverID, "type", m.Type(),
			"valid", m.Status.Valid, "value", m.Status.Value)
		return
	}
	if m.Status.Value != 0 && m.Status.Value != 1 {
		c.logger.Debug("ignoring unknown device status", "rover_id", c.roverID, "type", m.Type(), "value", m.Status.Value)
		return
	}

	c.mu.Lock()
	p := c.pending[s]
	if p == nil {
		c.mu.Unlock()
		c.logger.Debug("confirmation without pending command", "rover_id", c.roverID, "type", m.Type())
		return
	}
	c.resolveLocked(s, p)
	done := c.handoff()
	defer done()

	if m.Status.Value == 1 {
		c.publish(p.kind, models.OutcomeSucceeded, models.StatusSuccess, fmt.Sprintf(msgSucceeded, p.kind))
	} else {
		c.publish(p.kind, models.OutcomeFailed, models.StatusError, fmt.Sprintf(msgFailed, p.kind))
	}
}

// confirmCapture handles both capture phases. An image-less message is
// progress; the first image-bearing one resolves. Later images replace the
// held frame without resolving again.
func (c *Channel) confirmCapture(m push.CaptureMessage) {
	c.mu.Lock()
	p := c.pending[slotCapture]

	if !m.HasImage() {
		failed := m.Status.Meaningful() && m.Status.Value == 0
		if p == nil {
			c.mu.Unlock()
			c.logger.Debug("capture notification without pending capture", "rover_id", c.roverID)
			return
		}
		if failed {
			c.resolveLocked(slotCapture, p)
		}
		done := c.handoff()
		defer done()
		if failed {
			c.publish(models.CommandCapture, models.OutcomeFailed, models.StatusError, fmt.Sprintf(msgFailed, models.CommandCapture))
			return
		}
		c.publish(models.CommandCapture, models.OutcomePending, models.StatusInfo, msgCaptureAck)
		return
	}

	frame := c.storeFrameLocked(m.Image, m.MIMEType, string(push.TypeCapture))
	if p != nil {
		c.resolveLocked(slotCapture, p)
	}
	done := c.handoff()
	defer done()

	c.publisher.FrameCaptured(frame)
	if p != nil {
		c.publish(models.CommandCapture, models.OutcomeSucceeded, models.StatusSuccess, msgCaptureReady)
	}
}

func (c *Channel) softTimeout(s slot, seq uint64) {
	c.mu.Lock()
	p := c.pending[s]
	if c.closed || p == nil || p.seq != seq || p.resolved {
		c.mu.Unlock()
		return
	}
	p.soft = nil
	done := c.handoff()
	defer done()

	c.logger.Warn("device command slow", "rover_id", c.roverID, "kind", p.kind)
	c.publish(p.kind, models.OutcomePending, models.StatusWarning, fmt.Sprintf(msgSlow, p.kind, c.timeouts.Hard))
}

func (c *Channel) hardTimeout(s slot, seq uint64) {
	c.mu.Lock()
	p := c.pending[s]
	if c.closed || p == nil || p.seq != seq || p.resolved {
		c.mu.Unlock()
		return
	}
	p.hard = nil
	c.resolveLocked(s, p)
	done := c.handoff()
	defer done()

	c.logger.Warn("device command timed out", "rover_id", c.roverID, "kind", p.kind)
	c.publish(p.kind, models.OutcomeTimedOut, models.StatusError, fmt.Sprintf(msgTimedOut, p.kind, c.timeouts.Hard))
}

// handoff releases mu while keeping the publish turn. The caller publishes
// and then calls the returned func.
func (c *Channel) handoff() func() {
	c.publishMu.Lock()
	c.mu.Unlock()
	return c.publishMu.Unlock
}

// resolveLocked settles p exactly once and frees its slot
func (c *Channel) resolveLocked(s slot, p *pending) {
	p.resolved = true
	p.stopTimers()
	if c.pending[s] == p {
		delete(c.pending, s)
	}
}

func (c *Channel) storeFrameLocked(img []byte, mime, source string) models.CapturedFrame {
	frame := models.CapturedFrame{
		RoverID:    c.roverID,
		Image:      img,
		MIMEType:   mime,
		Source:     source,
		ReceivedAt: c.clock.Now(),
	}
	c.capture = &frame
	return frame
}

func (c *Channel) status(kind models.CommandKind, outcome models.CommandOutcome, t models.StatusType, msg string) models.CommandStatus {
	return models.CommandStatus{
		RoverID: c.roverID,
		Kind:    kind,
		Outcome: outcome,
		Status:  models.Status{Type: t, Message: msg},
	}
}

func (c *Channel) publish(kind models.CommandKind, outcome models.CommandOutcome, t models.StatusType, msg string) models.CommandStatus {
	st := c.status(kind, outcome, t, msg)
	c.publisher.CommandChanged(st)
	return st
}

func remaining(deadline, elapsed time.Duration) time.Duration {
	if elapsed >= deadline {
		return 0
	}
	return deadline - elapsed
}
