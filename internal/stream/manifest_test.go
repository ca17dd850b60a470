package stream

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestParseHLS(t *testing.T) {
	m, err := parseHLS([]byte(livePlaylist))
	if err != nil {
		t.Fatal(err)
	}
	if !m.Live || m.Segments != 3 || m.TargetDuration != 2 || m.MediaSequence != 10 {
		t.Errorf("manifest = %+v", m)
	}
	if m.Start != 20 || m.End != 26 {
		t.Errorf("window = [%v, %v], want [20, 26]", m.Start, m.End)
	}

	vod := "#EXTM3U\n#EXTINF:4.5,\na.ts\n#EXTINF:5.5,\nb.ts\n#EXT-X-ENDLIST\n"
	m, err = parseHLS([]byte(vod))
	if err != nil {
		t.Fatal(err)
	}
	if m.Live {
		t.Error("ENDLIST playlist reported as live")
	}
	if m.TargetDuration != 5 || m.End != 10 {
		t.Errorf("vod = %+v", m)
	}
}

func TestParseHLS_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"no header", "#EXTINF:2,\na.ts\n"},
		{"master playlist", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nlow.m3u8\n"},
		{"bad sequence", "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseHLS([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDASH(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dynamic := `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic"
     availabilityStartTime="2026-01-01T11:59:00Z"
     maxSegmentDuration="PT2S" timeShiftBufferDepth="PT30S">
  <Period><AdaptationSet><Representation id="v0"/></AdaptationSet></Period>
</MPD>`

	m, err := parseDASH([]byte(dynamic), now)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Live || m.End != 60 || m.Start != 30 || m.TargetDuration != 2 || m.Segments != 1 {
		t.Errorf("dynamic = %+v", m)
	}

	static := `<MPD type="static" mediaPresentationDuration="PT1M30.5S" minBufferTime="PT1.5S"></MPD>`
	m, err = parseDASH([]byte(static), now)
	if err != nil {
		t.Fatal(err)
	}
	if m.Live || m.End != 90.5 || m.TargetDuration != 1.5 {
		t.Errorf("static = %+v", m)
	}

	if _, err := parseDASH([]byte(`<MPD type="dynamic" availabilityStartTime="yesterday"/>`), now); err == nil {
		t.Error("bad availabilityStartTime should fail")
	}
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"PT2S", 2 * time.Second, false},
		{"PT1H2M3.5S", time.Hour + 2*time.Minute + 3500*time.Millisecond, false},
		{"P1DT1S", 24*time.Hour + time.Second, false},
		{"P1Y", 0, true},
		{"2S", 0, true},
		{"PTxS", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseISODuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		want        Format
		wantErr     bool
	}{
		{"hls by path", "/hls/k.m3u8", "", "", FormatHLS, false},
		{"hls by body", "/live", "text/plain", "#EXTM3U\n", FormatHLS, false},
		{"dash by type", "/live", "application/dash+xml", "", FormatDASH, false},
		{"dash by body", "/live", "", "<?xml?><MPD>", FormatDASH, false},
		{"html", "/live", "text/html", "<html>", "", true},
		{"binary", "/live", "video/mp2t", "\x47", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				Header:  http.Header{"Content-Type": []string{tt.contentType}},
				Request: &http.Request{URL: &url.URL{Path: tt.path}},
			}
			got, err := detectFormat(resp, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNotManifest) {
				t.Errorf("error %v does not wrap ErrNotManifest", err)
			}
			if got != tt.want {
				t.Errorf("format = %q, want %q", got, tt.want)
			}
		})
	}
}
