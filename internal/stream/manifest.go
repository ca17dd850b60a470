package stream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// ErrNotManifest is returned when the response is not an HLS or DASH manifest
var ErrNotManifest = errors.New("response is not a stream manifest")

// Format is the manifest flavour
type Format string

const (
	FormatHLS  Format = "HLS"
	FormatDASH Format = "MPEG-DASH"
)

// Manifest is the live-edge information extracted from one manifest fetch
type Manifest struct {
	Format         Format
	Live           bool
	TargetDuration float64 // seconds per segment
	MediaSequence  int64
	Segments       int
	Start          float64 // timeline position of the oldest listed segment
	End            float64 // timeline position of the live edge
}

// detectFormat decides what a manifest response carries from its path,
// Content-Type and first bytes
func detectFormat(resp *http.Response, head []byte) (Format, error) {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	urlPath := strings.ToLower(resp.Request.URL.Path)
	head = bytes.TrimSpace(head)

	// 1. HLS
	if strings.Contains(urlPath, ".m3u8") ||
		strings.Contains(contentType, "application/vnd.apple.mpegurl") ||
		strings.Contains(contentType, "application/x-mpegurl") ||
		bytes.HasPrefix(head, []byte("#EXTM3U")) {
		return FormatHLS, nil
	}

	// 2. MPEG-DASH
	if strings.Contains(urlPath, ".mpd") ||
		strings.Contains(contentType, "application/dash+xml") ||
		bytes.Contains(head, []byte("<MPD")) {
		return FormatDASH, nil
	}

	// 3. Web interface or anything else
	if strings.Contains(contentType, "text/html") {
		return "", fmt.Errorf("%w: web interface", ErrNotManifest)
	}
	return "", fmt.Errorf("%w: content type %q", ErrNotManifest, contentType)
}

func parseManifest(format Format, body []byte, now time.Time) (*Manifest, error) {
	switch format {
	case FormatHLS:
		return parseHLS(body)
	case FormatDASH:
		return parseDASH(body, now)
	default:
		return nil, ErrNotManifest
	}
}

// parseHLS reads a media playlist. The timeline is anchored on the media
// sequence so positions stay stable across playlist refreshes.
func parseHLS(body []byte) (*Manifest, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("hls: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("hls: master playlists are not supported")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("hls: unexpected playlist type %T", playlist)
	}

	m := &Manifest{
		Format:         FormatHLS,
		Live:           !media.Closed,
		TargetDuration: media.TargetDuration,
		MediaSequence:  int64(media.SeqNo),
	}

	var total float64
	for _, seg := range media.GetAllSegments() {
		if seg == nil {
			continue
		}
		total += seg.Duration
		m.Segments++
	}

	if m.TargetDuration <= 0 && m.Segments > 0 {
		m.TargetDuration = total / float64(m.Segments)
	}
	m.Start = float64(m.MediaSequence) * m.TargetDuration
	m.End = m.Start + total
	return m, nil
}

type mpd struct {
	XMLName                   xml.Name `xml:"MPD"`
	Type                      string   `xml:"type,attr"`
	AvailabilityStartTime     string   `xml:"availabilityStartTime,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MaxSegmentDuration        string   `xml:"maxSegmentDuration,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	TimeShiftBufferDepth      string   `xml:"timeShiftBufferDepth,attr"`
	Periods                   []struct {
		AdaptationSets []struct {
			Representations []struct {
				ID string `xml:"id,attr"`
			} `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

// parseDASH reads the MPD attributes that locate the live edge. A dynamic
// MPD's edge is wall clock minus availabilityStartTime.
func parseDASH(body []byte, now time.Time) (*Manifest, error) {
	var doc mpd
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("dash: %w", err)
	}

	m := &Manifest{Format: FormatDASH, Live: doc.Type == "dynamic"}
	for _, p := range doc.Periods {
		for _, as := range p.AdaptationSets {
			m.Segments += len(as.Representations)
		}
	}

	segment, err := firstDuration(doc.MaxSegmentDuration, doc.MinBufferTime)
	if err != nil {
		return nil, err
	}
	m.TargetDuration = segment.Seconds()

	if !m.Live {
		d, err := parseISODuration(doc.MediaPresentationDuration)
		if err != nil {
			return nil, fmt.Errorf("dash: mediaPresentationDuration: %w", err)
		}
		m.End = d.Seconds()
		return m, nil
	}

	ast, err := time.Parse(time.RFC3339, doc.AvailabilityStartTime)
	if err != nil {
		return nil, fmt.Errorf("dash: availabilityStartTime: %w", err)
	}
	m.End = now.Sub(ast).Seconds()
	if m.End < 0 {
		m.End = 0
	}
	if depth, err := parseISODuration(doc.TimeShiftBufferDepth); err == nil && depth > 0 {
		m.Start = m.End - depth.Seconds()
		if m.Start < 0 {
			m.Start = 0
		}
	}
	return m, nil
}

func firstDuration(values ...string) (time.Duration, error) {
	for _, v := range values {
		if v == "" {
			continue
		}
		d, err := parseISODuration(v)
		if err != nil {
			return 0, fmt.Errorf("dash: %w", err)
		}
		return d, nil
	}
	return 0, nil
}

// parseISODuration parses the xs:duration subset used by MPDs, e.g. PT1H2M3.5S
func parseISODuration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	rest := s[1:]
	inTime := false
	var total float64
	for len(rest) > 0 {
		if rest[0] == 'T' {
			inTime = true
			rest = rest[1:]
			continue
		}
		i := strings.IndexAny(rest, "YMWDHS")
		if i <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		switch unit := rest[i]; {
		case unit == 'D' && !inTime:
			total += n * 86400
		case unit == 'W' && !inTime:
			total += n * 7 * 86400
		case unit == 'H' && inTime:
			total += n * 3600
		case unit == 'M' && inTime:
			total += n * 60
		case unit == 'S' && inTime:
			total += n
		default:
			// years and months have no fixed length
			return 0, fmt.Errorf("unsupported duration unit in %q", s)
		}
		rest = rest[i+1:]
	}
	return time.Duration(total * float64(time.Second)), nil
}
