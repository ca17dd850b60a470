package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eduard256/roverlive/internal/metrics"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/push"
)

type published struct {
	kind string
	data interface{}
}

type fakeBroadcaster struct {
	events []published
}

func (f *fakeBroadcaster) Publish(eventType string, data interface{}) {
	f.events = append(f.events, published{eventType, data})
}

func TestEventBridge(t *testing.T) {
	out := &fakeBroadcaster{}
	m := metrics.New()
	bridge := NewEventBridge(out, m)

	bridge.LatencyReported(models.LatencyReport{SessionID: "s1", Seconds: 1.5})
	bridge.SessionChanged(models.SessionInfo{ID: "s1", State: models.StateClosed})
	bridge.CommandChanged(models.CommandStatus{Kind: models.CommandConnect, Outcome: models.OutcomeFailed})
	bridge.FrameCaptured(models.CapturedFrame{RoverID: "r1", Image: []byte("abc")})
	bridge.BoxesUpdated("r1", []models.Box{{Label: "crack"}})

	var handled int
	bridge.Counting(func(push.Message) { handled++ })(push.StatusMessage{Kind: push.TypeLive})

	want := []string{EventLatency, EventSession, EventCommand, EventCapture, EventBoxes}
	if len(out.events) != len(want) {
		t.Fatalf("events = %+v", out.events)
	}
	for i, kind := range want {
		if out.events[i].kind != kind {
			t.Errorf("event %d = %s, want %s", i, out.events[i].kind, kind)
		}
	}
	if fe := out.events[3].data.(FrameEvent); fe.Size != 3 {
		t.Errorf("frame event = %+v", fe)
	}
	if handled != 1 {
		t.Error("push handler not called")
	}

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if strings.Contains(body, `session="s1"`) {
		t.Error("closed session latency still exported")
	}
	for _, s := range []string{
		`roverlive_device_commands_total{kind="connect",outcome="failed"} 1`,
		`roverlive_push_messages_total{type="insta_live"} 1`,
	} {
		if !strings.Contains(body, s) {
			t.Errorf("missing %s", s)
		}
	}
}
