package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduard256/roverlive/internal/config"
	"github.com/eduard256/roverlive/internal/device"
	"github.com/eduard256/roverlive/internal/metrics"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/push"
	"github.com/eduard256/roverlive/internal/stream"
	"github.com/eduard256/roverlive/internal/utils/clock"
	"github.com/eduard256/roverlive/internal/utils/logger"
)

type fakeDeviceAPI struct {
	mu   sync.Mutex
	resp *device.Response
	sent []device.Command
}

func (f *fakeDeviceAPI) Send(ctx context.Context, cmd device.Command) (*device.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.resp, nil
}

type nopSink struct{}

func (nopSink) CommandChanged(models.CommandStatus)         {}
func (nopSink) FrameCaptured(models.CapturedFrame)          {}
func (nopSink) ImageUpdated(models.CapturedFrame)           {}
func (nopSink) BoxesUpdated(roverID string, _ []models.Box) {}

type testEnv struct {
	server  *Server
	manager *stream.Manager
	hub     *device.Hub
	api     *fakeDeviceAPI
	clock   *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	factory := stream.NewFactory(stream.FactoryConfig{}, clk, log)
	manager := stream.NewManager(stream.ManagerConfig{
		BaseURL:        "http://media.local",
		RetryDelay:     3 * time.Second,
		LatencyTick:    time.Second,
		LatencyCeiling: 10 * time.Second,
	}, factory, clk, log)
	t.Cleanup(manager.CloseAll)

	api := &fakeDeviceAPI{resp: &device.Response{OK: true, StatusCode: 200}}
	hub := device.NewHub(api, clk, device.Timeouts{Soft: 15 * time.Second, Hard: 30 * time.Second}, nopSink{}, log)
	t.Cleanup(hub.Close)

	cfg := config.LoadFrom("")
	server := NewServer(cfg, Deps{
		Sessions: manager,
		Hub:      hub,
		Metrics:  metrics.New(),
		Services: func() map[string]string { return map[string]string{"push": "none"} },
	}, log)

	return &testEnv{server: server, manager: manager, hub: hub, api: api, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) openIframeSession(t *testing.T) models.SessionInfo {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/sessions",
		`{"protocol":"iframe-embed","url":"http://media.local/embed/abc","rover_id":"r1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: %d %s", rec.Code, rec.Body.String())
	}
	var info models.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	return info
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "healthy" || body.Services["push"] != "none" || body.Services["api"] != "running" {
		t.Errorf("body = %+v", body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	info := env.openIframeSession(t)

	if info.State != models.StatePlaying || info.Projection != models.ProjectionEquirectangular {
		t.Errorf("opened session = %+v", info)
	}

	rec := env.do(t, http.MethodPut, "/api/v1/sessions/"+info.ID+"/projection", `{"mode":"dual-fisheye"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"projection":"dual-fisheye"`) {
		t.Errorf("projection: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/api/v1/sessions/"+info.ID+"/orientation", `{"preset":"back","fov":60}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("orientation: %d %s", rec.Code, rec.Body.String())
	}
	var cam struct{ Yaw, FOV float64 }
	json.Unmarshal(rec.Body.Bytes(), &cam)
	if cam.Yaw != 180 || cam.FOV != 60 {
		t.Errorf("camera = %+v", cam)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), info.ID) {
		t.Errorf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+info.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("close: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after close: %d", rec.Code)
	}
}

func TestOpenSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown protocol", `{"protocol":"webrtc"}`, http.StatusBadRequest},
		{"iframe without url", `{"protocol":"iframe-embed"}`, http.StatusBadRequest},
		{"bad projection", `{"protocol":"hls","projection":"cubemap"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/sessions", tt.body)
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error":true`) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

// pngHeader returns a PNG that declares width x height but carries no pixels
func pngHeader(width, height uint32) []byte {
	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:8], width)
	binary.BigEndian.PutUint32(chunk[8:12], height)
	chunk[12] = 8 // bit depth
	chunk[13] = 2 // truecolor

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestSessionFrameRejectsHugeDimensions(t *testing.T) {
	env := newTestEnv(t)
	info := env.openIframeSession(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+info.ID+"/frame",
		bytes.NewReader(pngHeader(100000, 100000)))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "too large") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSessionFrameAndView(t *testing.T) {
	env := newTestEnv(t)
	info := env.openIframeSession(t)

	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+info.ID+"/frame", &buf)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("frame: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/frame", "not an image")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad frame: %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID+"/view?w=32&h=16", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("view: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	view, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := view.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("view size = %v", b)
	}
	r, _, _, _ := view.At(16, 8).RGBA()
	if r>>8 < 150 {
		t.Errorf("view does not show the pushed frame, red = %d", r>>8)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID+"/view?w=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero width: %d", rec.Code)
	}
}

func TestShaderEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/projection/shader?mode=dual-fisheye", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sphere-inside") {
		t.Errorf("shader: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/projection/shader?mode=cubemap", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: %d", rec.Code)
	}
}

func TestRoverCommands(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/rovers/r1/live", `{"substation_id":"s1","live":1}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("live: %d %s", rec.Code, rec.Body.String())
	}
	var st models.CommandStatus
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Kind != models.CommandStartLive || st.Outcome != models.OutcomePending || st.RoverID != "r1" {
		t.Errorf("status = %+v", st)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/rovers/r1/connect", `{"substation_id":"s1","connect":0}`)
	if rec.Code != http.StatusAccepted {
		t.Errorf("disconnect: %d", rec.Code)
	}
	if got := env.api.sent[len(env.api.sent)-1]; got.Kind != models.CommandDisconnect {
		t.Errorf("sent %+v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/rovers/r1/live", `{"substation_id":"s1","live":2}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid live flag: %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/rovers/r1/config", `{"substation_id":"s1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty config: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/rovers/r1/config", `{"substation_id":"s1","ssid":"field-ap"}`)
	if rec.Code != http.StatusAccepted {
		t.Errorf("config: %d %s", rec.Code, rec.Body.String())
	}

	env.api.mu.Lock()
	env.api.resp = &device.Response{OK: false, StatusCode: 500, Message: "backend down"}
	env.api.mu.Unlock()
	rec = env.do(t, http.MethodPost, "/api/v1/rovers/r1/live", `{"substation_id":"s1","live":0}`)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "rejected") {
		t.Errorf("rejected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCaptureEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/rovers/r1/capture", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty capture: %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/rovers/r1/capture", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body.String())
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, nil)
	env.hub.Handle(push.CaptureMessage{RoverID: "r1", Image: buf.Bytes(), MIMEType: "image/jpeg"})

	rec = env.do(t, http.MethodGet, "/api/v1/rovers/r1/capture", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "data:image/jpeg;base64,") {
		t.Errorf("capture json: %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/rovers/r1/capture?format=raw", "")
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), buf.Bytes()) {
		t.Errorf("capture raw: %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/rovers/r1/capture/view?w=40&h=20&preset=left&mode=dual-fisheye", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("capture view: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/rovers/r1/capture/view?mode=cubemap", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad mode: %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/rovers/r1/capture", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("dismiss: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/rovers/r1/capture", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after dismiss: %d", rec.Code)
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/nope", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "roverlive_errors_total 1") {
		t.Errorf("metrics: %d\n%s", rec.Code, rec.Body.String())
	}
}
