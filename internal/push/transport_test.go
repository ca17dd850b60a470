package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any) {
	m.mu.Lock()
	m.warns = append(m.warns, msg)
	m.mu.Unlock()
}
func (m *mockLogger) Error(msg string, err error, args ...any) {}

func TestCalculateBackoff(t *testing.T) {
	cfg := ReconnectConfig{RetryDelay: time.Second, MaxRetryDelay: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRunWithReconnect_RetriesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	session := func(ctx context.Context) (bool, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return false, errors.New("refused")
	}

	cfg := ReconnectConfig{RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}
	err := runWithReconnect(ctx, "test", session, cfg, &mockLogger{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRoverFromTopic(t *testing.T) {
	tests := []struct {
		pattern, topic, want string
	}{
		{"rovers/+/events", "rovers/r7/events", "r7"},
		{"site/+/rover/+", "site/s1/rover/r2", "s1"},
		{"rovers/events", "rovers/events", ""},
		{"rovers/#", "rovers/r1/events", ""},
		{"rovers/+/events", "rovers", ""},
	}

	for _, tt := range tests {
		if got := roverFromTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("roverFromTopic(%q, %q) = %q, want %q", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("broker:1883"); got != "tcp://broker:1883" {
		t.Errorf("got %q", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("got %q", got)
	}
}

func TestWithRover(t *testing.T) {
	msg := withRover(CaptureMessage{}, "r9")
	if msg.Rover() != "r9" {
		t.Errorf("rover = %q", msg.Rover())
	}
	if _, ok := msg.(CaptureMessage); !ok {
		t.Errorf("variant changed to %T", msg)
	}
}

func TestDispatch_BadCaptureImageDeliversStatus(t *testing.T) {
	logger := &mockLogger{}
	var got []Message
	dispatch([]byte(`{"type":"insta_capture","data":{"status":0,"img":"%%%"}}`), "r7",
		func(msg Message) { got = append(got, msg) }, logger)

	if len(got) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(got))
	}
	cm, ok := got[0].(CaptureMessage)
	if !ok || cm.HasImage() || cm.Rover() != "r7" || cm.Status.Value != 0 {
		t.Errorf("message = %+v", got[0])
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v", logger.warns)
	}

	got = nil
	dispatch([]byte(`{"type":"image_update","data":{"img":"%%%"}}`), "r7",
		func(msg Message) { got = append(got, msg) }, logger)
	if len(got) != 0 {
		t.Error("image update without a decodable image was delivered")
	}
}

func TestWebSocketSource_DeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"battery","data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"insta_live","data":{"status":"1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"insta_capture","data":{"image":"%%%"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"insta_connect","data":{"status":-1}}`))
		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	log := &mockLogger{}
	src := NewWebSocketSource("ws"+strings.TrimPrefix(server.URL, "http"), DefaultReconnectConfig(), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(m Message) { received <- m })
	}()

	var got []Message
	for len(got) < 2 {
		select {
		case m := <-received:
			got = append(got, m)
		case <-ctx.Done():
			t.Fatalf("timed out, got %d messages", len(got))
		}
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if got[0].Type() != TypeLive || got[1].Type() != TypeConnect {
		t.Errorf("types = %s, %s", got[0].Type(), got[1].Type())
	}
	if sm := got[1].(StatusMessage); sm.Status.Meaningful() {
		t.Error("negative status must be delivered but not meaningful")
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.warns) == 0 || !strings.Contains(log.warns[0], "malformed") {
		t.Errorf("malformed capture should be logged, warns = %v", log.warns)
	}
}
