package stream

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/eduard256/roverlive/internal/latency"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/projection"
	"github.com/eduard256/roverlive/internal/utils/clock"
)

var (
	// ErrEmptySource is returned when a session is opened without a URL
	ErrEmptySource = errors.New("stream source url is empty")

	// ErrSinkUnavailable is returned when the video sink cannot accept frames
	ErrSinkUnavailable = errors.New("video sink unavailable")

	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session closed")

	// ErrNoFrameTarget is returned when the player has no writable texture
	ErrNoFrameTarget = errors.New("player texture does not accept frames")

	// ErrAlreadyOpen is returned by Open when a player is already running
	ErrAlreadyOpen = errors.New("session already open")
)

// Status messages shown inline by the UI
const (
	msgLoading        = "Loading live stream..."
	msgPlaying        = "Live"
	msgNotPublished   = "Stream is not published yet. Start live on the 360 camera, retrying in %s"
	msgNetworkError   = "Network error: %s"
	msgMediaRecovery  = "Media error, attempting recovery"
	msgMediaError     = "Unrecoverable media error: %s"
	msgSinkMissing    = "Video output is not available"
	msgPlayerError    = "Could not create player: %s"
	msgNetworkRestart = "Network error, reloading stream"
)

// Options configures one session
type Options struct {
	ID         string
	RoverID    string
	Source     models.StreamSource
	Projection models.ProjectionMode
	RetryDelay time.Duration
	Latency    latency.Settings

	// OnChange receives a snapshot after every state or status change
	OnChange func(models.SessionInfo)
	// OnLatency receives every latency report
	OnLatency func(models.LatencyReport)
}

// Session owns one live decode pipeline, its latency loop and its
// projection scene. Every player gets a generation number; callbacks from
// an older generation are dropped.
type Session struct {
	opts      Options
	factory   PlayerFactory
	renderer  *projection.Renderer
	sink      VideoSink
	clock     clock.Clock
	createdAt time.Time
	logger    interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	}

	mu               sync.Mutex
	state            models.SessionState
	status           models.Status
	generation       uint64
	player           Player
	controller       *latency.Controller
	tickTimer        clock.Timer
	retryTimer       clock.Timer
	mediaRecovered   bool
	networkRestarted bool
	lastLatency      *models.LatencyReport
	closed           bool

	notifyMu  sync.Mutex
	closeOnce sync.Once
}

// NewSession creates an idle session. Open starts playback.
func NewSession(
	opts Options,
	factory PlayerFactory,
	clk clock.Clock,
	logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	},
) *Session {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Latency.Tick <= 0 {
		opts.Latency = latency.SettingsFor(opts.Source.Protocol, 0, 0)
	}
	renderer := projection.NewRenderer(opts.Projection, logger)
	return &Session{
		opts:      opts,
		factory:   factory,
		renderer:  renderer,
		sink:      renderer,
		clock:     clk,
		createdAt: clk.Now(),
		logger:    logger,
		state:     models.StateIdle,
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.opts.ID }

// RoverID returns the rover the session belongs to
func (s *Session) RoverID() string { return s.opts.RoverID }

// Source returns the immutable stream source
func (s *Session) Source() models.StreamSource { return s.opts.Source }

// Renderer returns the projection renderer of the session
func (s *Session) Renderer() *projection.Renderer { return s.renderer }

// Open builds the player for the source and starts loading
func (s *Session) Open() error {
	if s.opts.Source.URL == "" {
		return ErrEmptySource
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.player != nil {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	if !s.sink.Available() {
		s.setLocked(models.StateError, msgSinkMissing)
		s.mu.Unlock()
		s.logger.Error("cannot open session", ErrSinkUnavailable, "session", s.opts.ID)
		s.notify()
		return ErrSinkUnavailable
	}
	p, err := s.loadLocked()
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return err
	}

	s.logger.Info("stream session opened", "session", s.opts.ID, "url", s.opts.Source.URL,
		"protocol", s.opts.Source.Protocol)
	p.Load()
	return nil
}

// Restart tears the pipeline down and reopens the same source. It is the
// only way out of the error state.
func (s *Session) Restart() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.teardownLocked()
	p, err := s.loadLocked()
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return err
	}

	s.logger.Info("stream session restarted", "session", s.opts.ID)
	p.Load()
	return nil
}

// Close releases the player, the sink and every timer. Safe to call more
// than once and from several goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.teardownLocked()
		s.state = models.StateClosed
		s.status = models.Status{Type: models.StatusInfo, Message: "Session closed"}
		s.mu.Unlock()

		s.renderer.Dispose()
		s.logger.Info("stream session closed", "session", s.opts.ID)
		s.notify()
	})
}

// ForceSyncToLive jumps to the live edge now, regardless of threshold
func (s *Session) ForceSyncToLive() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ctrl := s.controller
	s.mu.Unlock()

	if ctrl == nil {
		return latency.ErrNotPrimed
	}
	return ctrl.ForceSyncToLive()
}

// SetProjection changes the projection without restarting decode
func (s *Session) SetProjection(mode models.ProjectionMode) error {
	if err := s.renderer.SetProjection(mode); err != nil {
		if errors.Is(err, projection.ErrDisposed) {
			return ErrClosed
		}
		return err
	}
	s.notify()
	return nil
}

// Orient moves the virtual camera. A preset wins over a drag.
func (s *Session) Orient(req models.OrientationRequest) (projection.Camera, error) {
	cam := s.renderer.Camera()
	if req.Preset != "" {
		p, err := projection.PresetByName(req.Preset)
		if err != nil {
			return cam, err
		}
		cam = cam.ApplyPreset(p)
	} else {
		cam = cam.Drag(req.DeltaX, req.DeltaY)
	}
	if req.FOV != nil {
		cam = cam.Zoom(*req.FOV)
	}
	s.renderer.SetCamera(cam)
	s.notify()
	return cam, nil
}

// PushFrame hands a decoded frame from the browser to the live texture
func (s *Session) PushFrame(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.player == nil {
		return ErrNoFrameTarget
	}
	tex, ok := s.player.Texture().(interface{ Update(image.Image) })
	if !ok {
		return ErrNoFrameTarget
	}
	tex.Update(img)
	return nil
}

// Render draws the current view into an image
func (s *Session) Render(width, height int) *image.RGBA {
	return s.renderer.Render(width, height)
}

// Info returns a snapshot of the session
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	info := models.SessionInfo{
		ID:          s.opts.ID,
		RoverID:     s.opts.RoverID,
		Source:      s.opts.Source,
		State:       s.state,
		Status:      s.status,
		CreatedAt:   s.createdAt,
		Generation:  s.generation,
		RetryQueued: s.retryTimer != nil,
	}
	if s.lastLatency != nil {
		l := *s.lastLatency
		info.Latency = &l
	}
	s.mu.Unlock()

	cam := s.renderer.Camera()
	info.Projection = s.renderer.Mode()
	info.Yaw, info.Pitch, info.FOV = cam.Yaw, cam.Pitch, cam.FOV
	return info
}

// State returns the state machine position
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current status record
func (s *Session) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// loadLocked creates the next-generation player and arms the latency loop.
// The caller starts the returned player after releasing the lock.
func (s *Session) loadLocked() (Player, error) {
	s.generation++
	gen := s.generation
	s.mediaRecovered = false
	s.networkRestarted = false

	p, err := s.factory.NewPlayer(s.opts.Source, func(evt Event) { s.handleEvent(gen, evt) })
	if err != nil {
		s.setLocked(models.StateError, fmt.Sprintf(msgPlayerError, err))
		s.logger.Error("failed to create player", err, "session", s.opts.ID)
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	s.player = p
	s.controller = latency.NewController(s.opts.ID, p, s.opts.Latency, nil, s.logger)
	s.scheduleTickLocked(gen)
	s.setLocked(models.StateLoading, msgLoading)
	return p, nil
}

// teardownLocked destroys the player and cancels every timer. Bumping the
// generation first makes any callback still in flight a no-op.
func (s *Session) teardownLocked() {
	s.generation++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.tickTimer != nil {
		s.tickTimer.Stop()
		s.tickTimer = nil
	}
	if s.controller != nil {
		s.controller.Stop()
		s.controller = nil
	}
	if s.player != nil {
		s.player.Destroy()
		s.player = nil
		s.sink.Release()
	}
	s.lastLatency = nil
}

// handleEvent applies one player event. Events from a previous generation
// are ignored.
func (s *Session) handleEvent(gen uint64, evt Event) {
	s.mu.Lock()
	if s.closed || gen != s.generation || s.player == nil {
		s.mu.Unlock()
		s.logger.Debug("dropping stale player event", "session", s.opts.ID, "event", evt.Kind)
		return
	}
	p := s.player

	var after func()
	switch evt.Kind {
	case EventManifestParsed:
		s.logger.Debug("manifest parsed", "session", s.opts.ID, "format", evt.Detail)
		s.mu.Unlock()
		return

	case EventEnoughData:
		s.sink.BindVideo(p.Texture())

	case EventPlaying:
		// Recovered: the next incident gets its own reload and recovery
		s.networkRestarted = false
		s.mediaRecovered = false
		s.setLocked(models.StatePlaying, msgPlaying)

	case EventManifestNotFound:
		s.setLocked(models.StateWarning, fmt.Sprintf(msgNotPublished, s.opts.RetryDelay))
		if s.retryTimer == nil {
			s.retryTimer = s.clock.AfterFunc(s.opts.RetryDelay, func() { s.retry(gen) })
			s.logger.Warn("stream not published, retry scheduled", "session", s.opts.ID,
				"delay", s.opts.RetryDelay.String())
		}

	case EventNetworkError:
		if !evt.Fatal {
			s.logger.Debug("non-fatal network error", "session", s.opts.ID, "detail", evt.Detail)
			s.mu.Unlock()
			return
		}
		if s.networkRestarted {
			s.setLocked(models.StateError, fmt.Sprintf(msgNetworkError, evt.Detail))
		} else {
			s.networkRestarted = true
			s.setLocked(models.StateError, msgNetworkRestart)
			after = p.StartLoad
		}
		s.logger.Warn("fatal network error", "session", s.opts.ID, "detail", evt.Detail)

	case EventMediaError:
		if !evt.Fatal {
			s.logger.Debug("non-fatal media error", "session", s.opts.ID, "detail", evt.Detail)
			s.mu.Unlock()
			return
		}
		if s.mediaRecovered {
			s.setLocked(models.StateError, fmt.Sprintf(msgMediaError, evt.Detail))
		} else {
			s.mediaRecovered = true
			s.setLocked(models.StateWarning, msgMediaRecovery)
			after = p.RecoverMediaError
		}
		s.logger.Warn("fatal media error", "session", s.opts.ID, "detail", evt.Detail)

	default:
		s.logger.Debug("unhandled player event", "session", s.opts.ID, "event", evt.Kind)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.notify()
	if after != nil {
		after()
	}
}

// retry reloads after the stream was reported as not published
func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.teardownLocked()
	p, err := s.loadLocked()
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return
	}

	s.logger.Info("retrying stream load", "session", s.opts.ID)
	p.Load()
}

func (s *Session) scheduleTickLocked(gen uint64) {
	s.tickTimer = s.clock.AfterFunc(s.opts.Latency.Tick, func() { s.tick(gen) })
}

// tick runs one latency inspection and re-arms itself
func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation || s.controller == nil {
		s.mu.Unlock()
		return
	}
	ctrl := s.controller
	s.mu.Unlock()

	report, ok := ctrl.Tick()

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if ok {
		s.lastLatency = &report
	}
	s.scheduleTickLocked(gen)
	s.mu.Unlock()

	if ok && s.opts.OnLatency != nil {
		s.opts.OnLatency(report)
	}
}

// setLocked moves the state machine. The later call always wins.
func (s *Session) setLocked(state models.SessionState, message string) {
	s.state = state
	s.status = models.Status{Type: statusTypeOf(state), Message: message}
}

// notify publishes a fresh snapshot. Snapshots are taken under notifyMu so
// listeners never see an older state after a newer one.
func (s *Session) notify() {
	if s.opts.OnChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.opts.OnChange(s.Info())
}

func statusTypeOf(state models.SessionState) models.StatusType {
	switch state {
	case models.StatePlaying:
		return models.StatusPlaying
	case models.StateWarning:
		return models.StatusWarning
	case models.StateError:
		return models.StatusError
	default:
		return models.StatusLoading
	}
}
