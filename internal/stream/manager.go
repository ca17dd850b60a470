package stream

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduard256/roverlive/internal/latency"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/utils/clock"
)

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerClosed is returned once the manager has shut down
	ErrManagerClosed = errors.New("session manager closed")
)

// ManagerConfig configures the session manager
type ManagerConfig struct {
	BaseURL        string
	RetryDelay     time.Duration
	LatencyTick    time.Duration
	LatencyCeiling time.Duration
}

// Manager keeps the open sessions. A rover has at most one session;
// opening a new one for the same rover replaces the old.
type Manager struct {
	cfg     ManagerConfig
	factory PlayerFactory
	clock   clock.Clock
	logger  interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	}

	onChange  func(models.SessionInfo)
	onLatency func(models.LatencyReport)

	mu             sync.Mutex
	sessionsByID   map[string]*Session
	sessionByRover map[string]string
	closed         bool
}

// NewManager creates a session manager
func NewManager(
	cfg ManagerConfig,
	factory PlayerFactory,
	clk clock.Clock,
	logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, error, ...any)
	},
) *Manager {
	return &Manager{
		cfg:            cfg,
		factory:        factory,
		clock:          clk,
		logger:         logger,
		sessionsByID:   make(map[string]*Session),
		sessionByRover: make(map[string]string),
	}
}

// OnChange registers the listener for session snapshots. Call before Open.
func (m *Manager) OnChange(f func(models.SessionInfo)) { m.onChange = f }

// OnLatency registers the listener for latency reports. Call before Open.
func (m *Manager) OnLatency(f func(models.LatencyReport)) { m.onLatency = f }

// Open creates and starts a session. The returned session is registered
// even when Open fails so the caller can inspect its status.
func (m *Manager) Open(req models.OpenSessionRequest) (*Session, error) {
	source, err := BuildSource(m.cfg.BaseURL, req.Protocol, req.Key, req.URL)
	if err != nil {
		return nil, err
	}

	opts := Options{
		ID:         uuid.NewString(),
		RoverID:    req.RoverID,
		Source:     source,
		Projection: req.Projection,
		RetryDelay: m.cfg.RetryDelay,
		Latency:    latency.SettingsFor(source.Protocol, m.cfg.LatencyTick, m.cfg.LatencyCeiling),
		OnChange:   m.onChange,
		OnLatency:  m.onLatency,
	}
	s := NewSession(opts, m.factory, m.clock, m.logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	var replaced *Session
	if req.RoverID != "" {
		if oldID, ok := m.sessionByRover[req.RoverID]; ok {
			replaced = m.sessionsByID[oldID]
			delete(m.sessionsByID, oldID)
		}
		m.sessionByRover[req.RoverID] = s.ID()
	}
	m.sessionsByID[s.ID()] = s
	m.mu.Unlock()

	if replaced != nil {
		m.logger.Info("replacing rover session", "rover_id", req.RoverID, "old", replaced.ID(), "new", s.ID())
		replaced.Close()
	}

	return s, s.Open()
}

// Get returns the session with id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionsByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// ForRover returns the session currently attached to roverID
func (m *Manager) ForRover(roverID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.sessionByRover[roverID]
	if !ok {
		return nil, fmt.Errorf("%w: rover %s", ErrSessionNotFound, roverID)
	}
	return m.sessionsByID[id], nil
}

// Close closes and forgets the session with id
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessionsByID[id]
	if ok {
		delete(m.sessionsByID, id)
		if m.sessionByRover[s.RoverID()] == id {
			delete(m.sessionByRover, s.RoverID())
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	return nil
}

// List returns snapshots of all sessions ordered by creation time
func (m *Manager) List() []models.SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessionsByID))
	for _, s := range m.sessionsByID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessionsByID)
}

// CloseAll closes every session and rejects new ones
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessionsByID
	m.sessionsByID = make(map[string]*Session)
	m.sessionByRover = make(map[string]string)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.logger.Info("all stream sessions closed", "count", len(sessions))
}

// NewStreamKey returns a random publish key for a new live session
func NewStreamKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BuildSource resolves the playable URL for a session. HLS and RTMP
// ingests are served as base/hls/<key>.m3u8, DASH as base/dash/<key>.mpd.
// An explicit URL wins; iframe embeds require one.
func BuildSource(base string, protocol models.Protocol, key, explicit string) (models.StreamSource, error) {
	source := models.StreamSource{Protocol: protocol, Key: key}

	if explicit != "" {
		if _, err := url.ParseRequestURI(explicit); err != nil {
			return source, fmt.Errorf("invalid stream url: %w", err)
		}
		source.URL = explicit
		return source, nil
	}

	if key == "" {
		key = NewStreamKey()
		source.Key = key
	}

	base = strings.TrimRight(base, "/")
	switch protocol {
	case models.ProtocolHLS, models.ProtocolRTMPDerived:
		source.URL = fmt.Sprintf("%s/hls/%s.m3u8", base, key)
	case models.ProtocolDASH:
		source.URL = fmt.Sprintf("%s/dash/%s.mpd", base, key)
	case models.ProtocolIframe:
		return source, fmt.Errorf("%w: iframe-embed needs an explicit url", ErrEmptySource)
	default:
		return source, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
	return source, nil
}
