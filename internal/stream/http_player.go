package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/projection"
	"github.com/eduard256/roverlive/internal/utils/clock"
)

const (
	// maxManifestSize bounds a single manifest read
	maxManifestSize = 1 << 20

	// liveSyncSegments is how many target durations behind the edge playback starts
	liveSyncSegments = 3
)

// HTTPPlayer follows a live HLS or DASH manifest over HTTP. It does not
// decode media; it keeps a playback clock against the live edge the
// manifest advertises, which is what the latency loop needs.
type HTTPPlayer struct {
	source   models.StreamSource
	client   *http.Client
	interval time.Duration
	clock    clock.Clock
	emit     func(Event)
	texture  *projection.LiveTexture
	logger   interface {
		Debug(string, ...any)
		Error(string, error, ...any)
	}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	loading   bool
	destroyed bool
	timer     clock.Timer
	pollSeq   uint64 // invalidates polls scheduled before the last StopLoad
	manifest  *Manifest
	primed    bool
	playing   bool
	position  float64   // media time at anchor
	anchor    time.Time // wall time position was last set
}

// NewHTTPPlayer creates a manifest-following player for source
func NewHTTPPlayer(
	source models.StreamSource,
	client *http.Client,
	interval time.Duration,
	clk clock.Clock,
	emit func(Event),
	logger interface {
		Debug(string, ...any)
		Error(string, error, ...any)
	},
) *HTTPPlayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPPlayer{
		source:   source,
		client:   client,
		interval: interval,
		clock:    clk,
		emit:     emit,
		texture:  projection.NewLiveTexture(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Load starts polling the manifest
func (p *HTTPPlayer) Load() {
	p.StartLoad()
}

// StartLoad resumes manifest polling
func (p *HTTPPlayer) StartLoad() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || p.loading {
		return
	}
	p.loading = true
	p.scheduleLocked(0)
}

// StopLoad pauses manifest polling. Playback continues from what is buffered.
func (p *HTTPPlayer) StopLoad() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	p.pollSeq++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// RecoverMediaError drops the parsed manifest and fetches it again
func (p *HTTPPlayer) RecoverMediaError() {
	p.mu.Lock()
	p.manifest = nil
	p.primed = false
	p.playing = false
	p.mu.Unlock()

	p.StopLoad()
	p.StartLoad()
}

// Destroy stops polling and aborts any request in flight
func (p *HTTPPlayer) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.loading = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.cancel()
}

// Texture returns the frame texture fed by the browser shell
func (p *HTTPPlayer) Texture() projection.Texture {
	return p.texture
}

// BufferedEnd is the live edge of the last manifest, NaN before the first one
func (p *HTTPPlayer) BufferedEnd() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.primed {
		return math.NaN()
	}
	return p.manifest.End
}

// CurrentTime is the playback position. Playback stalls at the buffered end.
func (p *HTTPPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

// Duration is the timeline length known so far
func (p *HTTPPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.primed {
		return math.NaN()
	}
	return p.manifest.End
}

// Seek moves playback to position, clamped to the buffered range
func (p *HTTPPlayer) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.primed || math.IsNaN(position) {
		return
	}
	p.position = math.Min(math.Max(position, p.manifest.Start), p.manifest.End)
	p.anchor = p.clock.Now()
}

func (p *HTTPPlayer) currentLocked() float64 {
	if !p.primed {
		return math.NaN()
	}
	pos := p.position
	if p.playing {
		pos += p.clock.Now().Sub(p.anchor).Seconds()
	}
	return math.Min(pos, p.manifest.End)
}

func (p *HTTPPlayer) scheduleLocked(d time.Duration) {
	p.pollSeq++
	seq := p.pollSeq
	p.timer = p.clock.AfterFunc(d, func() { p.poll(seq) })
}

// poll fetches the manifest once and re-arms itself while loading
func (p *HTTPPlayer) poll(seq uint64) {
	p.mu.Lock()
	if p.destroyed || !p.loading || seq != p.pollSeq {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	m, err := p.fetch()

	p.mu.Lock()
	if p.destroyed || seq != p.pollSeq {
		p.mu.Unlock()
		return
	}
	if err != nil {
		if p.primed {
			p.position = p.currentLocked()
		}
		p.loading = false
		p.playing = false
		p.timer = nil
		p.mu.Unlock()
		p.emit(classifyFetchError(err))
		return
	}

	var events []Event
	if p.manifest == nil {
		events = append(events, Event{Kind: EventManifestParsed, Detail: string(m.Format)})
	}
	if m.End < p.currentLocked() {
		// Timeline restarted on the server
		p.primed = false
	}
	p.manifest = m
	if !p.primed && (m.Segments > 0 || m.End > m.Start) {
		p.primed = true
		p.playing = true
		p.position = math.Max(m.Start, m.End-liveSyncSegments*m.TargetDuration)
		p.anchor = p.clock.Now()
		events = append(events, Event{Kind: EventEnoughData}, Event{Kind: EventPlaying})
	} else if p.primed && !p.playing {
		p.playing = true
		p.anchor = p.clock.Now()
		events = append(events, Event{Kind: EventPlaying})
	}
	if p.loading && m.Live {
		p.scheduleLocked(p.interval)
	} else {
		p.loading = false
		p.timer = nil
	}
	p.mu.Unlock()

	for _, evt := range events {
		p.emit(evt)
	}
}

// errNotFound marks a 404 on the manifest: the stream is not published yet
var errNotFound = errors.New("manifest not found")

func (p *HTTPPlayer) fetch() (*Manifest, error) {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, p.source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	format, err := detectFormat(resp, body)
	if err != nil {
		return nil, &parseError{err}
	}
	m, err := parseManifest(format, body, p.clock.Now())
	if err != nil {
		return nil, &parseError{err}
	}

	p.logger.Debug("manifest fetched", "url", p.source.URL, "format", m.Format,
		"segments", m.Segments, "end", m.End, "live", m.Live)
	return m, nil
}

// parseError is a manifest that arrived but could not be understood
type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func classifyFetchError(err error) Event {
	var pe *parseError
	switch {
	case errors.Is(err, errNotFound):
		return Event{Kind: EventManifestNotFound, Fatal: true, Detail: err.Error()}
	case errors.As(err, &pe):
		return Event{Kind: EventMediaError, Fatal: true, Detail: err.Error()}
	default:
		return Event{Kind: EventNetworkError, Fatal: true, Detail: err.Error()}
	}
}

// passthroughPlayer stands in for an iframe embed: the page plays it, so
// there is no buffer to manage
type passthroughPlayer struct {
	emit    func(Event)
	texture *projection.LiveTexture

	mu        sync.Mutex
	destroyed bool
}

func newPassthroughPlayer(emit func(Event)) *passthroughPlayer {
	return &passthroughPlayer{emit: emit, texture: projection.NewLiveTexture()}
}

func (p *passthroughPlayer) Load() {
	p.mu.Lock()
	dead := p.destroyed
	p.mu.Unlock()
	if dead {
		return
	}
	p.emit(Event{Kind: EventEnoughData})
	p.emit(Event{Kind: EventPlaying})
}

func (p *passthroughPlayer) RecoverMediaError() {}

func (p *passthroughPlayer) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
}

func (p *passthroughPlayer) Texture() projection.Texture { return p.texture }
func (p *passthroughPlayer) BufferedEnd() float64        { return math.NaN() }
func (p *passthroughPlayer) CurrentTime() float64        { return math.NaN() }
func (p *passthroughPlayer) Duration() float64           { return math.NaN() }
func (p *passthroughPlayer) Seek(float64)                {}
func (p *passthroughPlayer) StopLoad()                   {}
func (p *passthroughPlayer) StartLoad()                  {}
