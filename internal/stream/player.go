package stream

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eduard256/roverlive/internal/latency"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/projection"
	"github.com/eduard256/roverlive/internal/utils/clock"
)

// ErrUnsupportedProtocol is returned by the factory for unknown protocol tags
var ErrUnsupportedProtocol = errors.New("unsupported stream protocol")

// EventKind classifies a player event
type EventKind string

const (
	EventManifestParsed   EventKind = "manifest-parsed"
	EventEnoughData       EventKind = "enough-data" // first segment available, texture can be bound
	EventPlaying          EventKind = "playing"
	EventManifestNotFound EventKind = "manifest-not-found"
	EventNetworkError     EventKind = "network-error"
	EventMediaError       EventKind = "media-error"
)

// Event is emitted by a player in the order things happen to it
type Event struct {
	Kind   EventKind
	Fatal  bool
	Detail string
}

// Player is one demux/decode pipeline for a single source. Load starts it;
// events are delivered through the emit callback given to the factory.
type Player interface {
	latency.Buffer

	Load()
	// RecoverMediaError restarts decoding after a media error
	RecoverMediaError()
	// Destroy stops the pipeline without waiting for in-flight work
	Destroy()
	Texture() projection.Texture
}

// PlayerFactory builds a player for source
type PlayerFactory interface {
	NewPlayer(source models.StreamSource, emit func(Event)) (Player, error)
}

// VideoSink is where decoded frames end up
type VideoSink interface {
	Available() bool
	BindVideo(tex projection.Texture)
	Release()
}

// FactoryConfig configures the default player factory
type FactoryConfig struct {
	ManifestInterval time.Duration
	RequestTimeout   time.Duration
}

// Factory builds HTTP manifest players for hls, dash and rtmp-derived
// sources, and passthrough players for iframe embeds
type Factory struct {
	client   *http.Client
	interval time.Duration
	clock    clock.Clock
	logger   interface {
		Debug(string, ...any)
		Error(string, error, ...any)
	}
}

// NewFactory creates a player factory
func NewFactory(cfg FactoryConfig, clk clock.Clock, logger interface {
	Debug(string, ...any)
	Error(string, error, ...any)
}) *Factory {
	if cfg.ManifestInterval <= 0 {
		cfg.ManifestInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Factory{
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		interval: cfg.ManifestInterval,
		clock:    clk,
		logger:   logger,
	}
}

// NewPlayer implements PlayerFactory
func (f *Factory) NewPlayer(source models.StreamSource, emit func(Event)) (Player, error) {
	switch source.Protocol {
	case models.ProtocolHLS, models.ProtocolRTMPDerived, models.ProtocolDASH:
		return NewHTTPPlayer(source, f.client, f.interval, f.clock, emit, f.logger), nil
	case models.ProtocolIframe:
		return newPassthroughPlayer(emit), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, source.Protocol)
	}
}
