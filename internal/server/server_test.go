package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/journal"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/scheduler"
	"github.com/GriffinCanCode/gardenbot/internal/screen"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

// mockBot for testing.
type mockBot struct {
	mu       sync.Mutex
	snapshot orchestrator.Snapshot
	started  []scheduler.Params
	startErr error
	stops    int
	region   screen.Rect
	image    []byte
	entries  []journal.Entry
	limit    int
	events   chan journal.Entry
}

func newMockBot() *mockBot {
	return &mockBot{events: make(chan journal.Entry, 10)}
}

func (m *mockBot) Snapshot() orchestrator.Snapshot { return m.snapshot }

func (m *mockBot) StartSession(p scheduler.Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, p)
	return nil
}

func (m *mockBot) StopSession() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *mockBot) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *mockBot) SetRegion(r screen.Rect) { m.region = r }
func (m *mockBot) Image() []byte           { return m.image }

func (m *mockBot) Journal(n int) []journal.Entry {
	m.limit = n
	return m.entries
}

func (m *mockBot) JournalEvents() <-chan journal.Entry { return m.events }

func (m *mockBot) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "gardenbot_rounds_harvested_total 3\n")
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, PUT, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, PUT, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestStatus(t *testing.T) {
	bot := newMockBot()
	bot.snapshot.Category = "ripe"
	bot.snapshot.Phase = "active"
	bot.snapshot.RemainingRounds = 4
	h := New(bot).Handler()

	rec := do(t, h, "GET", "/api/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get(trace.TraceIDKey) == "" {
		t.Error("response should carry a trace id")
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["category"] != "ripe" || got["phase"] != "active" || got["remaining_rounds"] != float64(4) {
		t.Errorf("status body = %v", got)
	}
}

func TestSessionStart(t *testing.T) {
	bot := newMockBot()
	h := New(bot).Handler()

	rec := do(t, h, "POST", "/api/session/start", `{"rounds": 5, "objects": 2, "extra_delay_sec": 1.5}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	want := scheduler.Params{Rounds: 5, Objects: 2, ExtraDelay: 1500 * time.Millisecond}
	if len(bot.started) != 1 || bot.started[0] != want {
		t.Errorf("started = %+v, want %+v", bot.started, want)
	}
}

func TestSessionStartRejected(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"bad json", `{"rounds":`, nil, http.StatusBadRequest},
		{"unknown field", `{"rounds": 1, "speed": 2}`, nil, http.StatusBadRequest},
		{"negative delay", `{"rounds": 1, "extra_delay_sec": -1}`, nil, http.StatusBadRequest},
		{"delay overflows duration", `{"rounds": 1, "extra_delay_sec": 1e11}`, nil, http.StatusBadRequest},
		{"bot rejects", `{"rounds": 0}`, apperrors.New(apperrors.CodeInvalidArgument, "rounds must be greater than zero"), http.StatusBadRequest},
		{"internal failure", `{"rounds": 1}`, apperrors.New(apperrors.CodeInternal, "boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := newMockBot()
			bot.startErr = tt.startErr
			rec := do(t, New(bot).Handler(), "POST", "/api/session/start", tt.body)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(bot.started) != 0 {
				t.Errorf("started = %+v, want none", bot.started)
			}
			var body map[string]string
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body["error"] == "" || body["code"] == "" {
				t.Errorf("error body = %v, want error and code", body)
			}
		})
	}
}

func TestSessionStop(t *testing.T) {
	bot := newMockBot()
	rec := do(t, New(bot).Handler(), "POST", "/api/session/stop", "")

	if rec.Code != http.StatusOK || bot.stopCount() != 1 {
		t.Errorf("status = %d stops = %d, want 200 1", rec.Code, bot.stopCount())
	}
}

func TestRegion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"x": 10, "y": 20, "w": 300, "h": 40}`, http.StatusOK},
		{"empty", `{"x": 10, "y": 20, "w": 0, "h": 40}`, http.StatusBadRequest},
		{"negative origin", `{"x": -1, "y": 0, "w": 5, "h": 5}`, http.StatusBadRequest},
		{"not json", `10,20,300,40`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := newMockBot()
			rec := do(t, New(bot).Handler(), "PUT", "/api/region", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(bot.started) != 0 {
				t.Errorf("started = %+v, want none", bot.started)
			}
			if tt.want == http.StatusOK && bot.region != (screen.Rect{X: 10, Y: 20, W: 300, H: 40}) {
				t.Errorf("region = %v", bot.region)
			}
		})
	}
}

func TestRegionMethodNotAllowed(t *testing.T) {
	rec := do(t, New(newMockBot()).Handler(), "POST", "/api/region", `{"w": 1, "h": 1}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestCapture(t *testing.T) {
	bot := newMockBot()
	h := New(bot).Handler()

	if rec := do(t, h, "GET", "/api/capture", ""); rec.Code != http.StatusNoContent {
		t.Errorf("empty capture status = %d, want 204", rec.Code)
	}

	bot.image = []byte("\x89PNG\r\n\x1a\n0000")
	rec := do(t, h, "GET", "/api/capture", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

func TestJournal(t *testing.T) {
	bot := newMockBot()
	bot.entries = []journal.Entry{{Kind: journal.KindStatus, Headline: "Harvesting", Detail: "2 rounds left"}}
	h := New(bot).Handler()

	rec := do(t, h, "GET", "/api/journal", "")
	if rec.Code != http.StatusOK || bot.limit != JournalDefaultLimit {
		t.Errorf("status = %d limit = %d, want 200 %d", rec.Code, bot.limit, JournalDefaultLimit)
	}
	var got []journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || len(got) != 1 || got[0].Headline != "Harvesting" {
		t.Errorf("journal body = %s", rec.Body)
	}

	if rec := do(t, h, "GET", "/api/journal?limit=5", ""); rec.Code != http.StatusOK || bot.limit != 5 {
		t.Errorf("limit=5: status = %d limit = %d", rec.Code, bot.limit)
	}
	if rec := do(t, h, "GET", "/api/journal?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=x: status = %d, want 400", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	rec := do(t, New(newMockBot()).Handler(), "GET", "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gardenbot_rounds_harvested_total") {
		t.Errorf("metrics: status = %d body = %q", rec.Code, rec.Body)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit should be rejected")
	}
}

func dialWS(t *testing.T, ctx context.Context, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for s.connCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.connCount() == 0 {
		t.Fatal("connection was not registered")
	}
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bot := newMockBot()
	s := New(bot)
	go s.Run(ctx)
	conn := dialWS(t, ctx, s)

	bot.events <- journal.Entry{Kind: journal.KindStatus, Time: time.Now(), Headline: "Watering", Detail: "4 rounds left"}

	var msg EventMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "status" || msg.Headline != "Watering" || msg.Detail != "4 rounds left" {
		t.Errorf("message = %+v", msg)
	}
}

func TestWebSocketBroadcastOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(newMockBot())
	conn := dialWS(t, ctx, s)

	const n = 20
	for i := 0; i < n; i++ {
		s.broadcast(EventMessage{Type: "status", Headline: strconv.Itoa(i)})
	}
	for i := 0; i < n; i++ {
		var msg EventMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msg.Headline != strconv.Itoa(i) {
			t.Fatalf("message %d has headline %q, want %d", i, msg.Headline, i)
		}
	}
}

func TestClientQueueFull(t *testing.T) {
	c := newClient(nil)
	for i := 0; i < SendQueueSize; i++ {
		if !c.offer(i) {
			t.Fatalf("offer %d rejected below capacity", i)
		}
	}
	if c.offer(SendQueueSize) {
		t.Error("offer should fail on a full queue")
	}
	if got := <-c.send; got != 0 {
		t.Errorf("first queued = %v, want 0", got)
	}
}

func TestWebSocketCommands(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bot := newMockBot()
	bot.snapshot.Phase = "parked"
	conn := dialWS(t, ctx, New(bot))

	if err := wsjson.Write(ctx, conn, Message{Type: "status"}); err != nil {
		t.Fatal(err)
	}
	var snap SnapshotMessage
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Type != "snapshot" || snap.State.Phase != "parked" {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "bogus"}); err != nil {
		t.Fatal(err)
	}
	var errMsg ErrorMessage
	if err := wsjson.Read(ctx, conn, &errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg.Type != "error" {
		t.Errorf("reply = %+v, want error", errMsg)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "stop"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for bot.stopCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bot.stopCount() != 1 {
		t.Errorf("stops = %d, want 1", bot.stopCount())
	}
}

func TestRunStopsOnClosedEvents(t *testing.T) {
	bot := newMockBot()
	close(bot.events)
	done := make(chan struct{})
	go func() {
		New(bot).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run should return when the event channel closes")
	}
}
