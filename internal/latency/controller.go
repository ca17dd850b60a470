// Package latency keeps live playback close to the live edge by skipping
// forward whenever the decoder buffer grows past a per-protocol threshold.
package latency

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eduard256/roverlive/internal/models"
)

// ErrNotPrimed is returned by ForceSyncToLive before the buffer has a finite end
var ErrNotPrimed = errors.New("stream not primed")

// Buffer is the part of a player the controller inspects and moves.
// Positions are seconds on the media timeline; NaN or Inf means unknown.
type Buffer interface {
	BufferedEnd() float64
	CurrentTime() float64
	Duration() float64
	Seek(position float64)
	StopLoad()
	StartLoad()
}

// Settings tunes one controller
type Settings struct {
	Threshold    float64       // max tolerated bufferedEnd - currentTime, seconds
	SafetyMargin float64       // distance kept behind bufferedEnd after a skip
	Tick         time.Duration // inspection period
	Ceiling      float64       // reporting cap for estimated latency, seconds
}

// SettingsFor returns the thresholds tuned for protocol p
func SettingsFor(p models.Protocol, tick, ceiling time.Duration) Settings {
	s := Settings{Tick: tick, Ceiling: ceiling.Seconds()}
	switch p {
	case models.ProtocolDASH:
		s.Threshold, s.SafetyMargin = 0.5, 0.1
	case models.ProtocolRTMPDerived:
		s.Threshold, s.SafetyMargin = 0.5, 0.2
	default:
		s.Threshold, s.SafetyMargin = 1.0, 0.3
	}
	if s.Tick <= 0 {
		s.Tick = 500 * time.Millisecond
	}
	if s.Ceiling <= 0 {
		s.Ceiling = 30
	}
	return s
}

// Controller runs the buffer trimming heartbeat for one player
type Controller struct {
	sessionID string
	buf       Buffer
	settings  Settings
	onReport  func(models.LatencyReport)
	logger    interface{ Debug(string, ...any) }

	mu      sync.Mutex // serializes Tick and ForceSyncToLive
	stopped atomic.Bool
}

// NewController creates a controller. onReport may be nil.
func NewController(
	sessionID string,
	buf Buffer,
	settings Settings,
	onReport func(models.LatencyReport),
	logger interface{ Debug(string, ...any) },
) *Controller {
	return &Controller{
		sessionID: sessionID,
		buf:       buf,
		settings:  settings,
		onReport:  onReport,
		logger:    logger,
	}
}

// Settings returns the controller settings
func (c *Controller) Settings() Settings {
	return c.settings
}

// Tick inspects the buffer once, skipping ahead when it lags. ok is false
// when the stream is not primed or the controller was stopped.
func (c *Controller) Tick() (report models.LatencyReport, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped.Load() {
		return models.LatencyReport{}, false
	}

	end := c.buf.BufferedEnd()
	current := c.buf.CurrentTime()
	if !finite(end) || !finite(current) {
		c.logger.Debug("latency tick skipped, stream not primed", "session", c.sessionID)
		return models.LatencyReport{}, false
	}

	corrected := false
	if end-current > c.settings.Threshold {
		target := end - c.settings.SafetyMargin
		c.buf.Seek(target)
		current = target
		corrected = true
		c.logger.Debug("latency correction", "session", c.sessionID, "buffered_end", end, "seek_to", target)
	}

	seconds := Estimate(c.buf.Duration(), current, c.settings.Ceiling)
	report = models.LatencyReport{
		SessionID: c.sessionID,
		Seconds:   seconds,
		Severity:  SeverityOf(seconds),
		Corrected: corrected,
	}
	if c.onReport != nil {
		c.onReport(report)
	}
	return report, true
}

// ForceSyncToLive jumps to the live edge immediately regardless of threshold.
// Loading is paused around the seek so the demuxer does not race it.
func (c *Controller) ForceSyncToLive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped.Load() {
		return ErrNotPrimed
	}

	end := c.buf.BufferedEnd()
	if !finite(end) {
		return ErrNotPrimed
	}

	target := math.Max(0, end-c.settings.SafetyMargin)
	c.buf.StopLoad()
	c.buf.Seek(target)
	c.buf.StartLoad()

	c.logger.Debug("forced sync to live", "session", c.sessionID, "seek_to", target)
	return nil
}

// Stop turns every later Tick into a no-op
func (c *Controller) Stop() {
	c.stopped.Store(true)
}

// Estimate returns max(0, duration-current) capped at ceiling. Non-finite
// input yields the ceiling.
func Estimate(duration, current, ceiling float64) float64 {
	if !finite(duration) || !finite(current) {
		return ceiling
	}
	return math.Min(math.Max(0, duration-current), ceiling)
}

// SeverityOf grades a latency in seconds
func SeverityOf(seconds float64) models.Severity {
	switch {
	case seconds < 2:
		return models.SeverityOK
	case seconds < 5:
		return models.SeverityWarn
	default:
		return models.SeverityCritical
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
