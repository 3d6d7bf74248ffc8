package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/telemetry-bridge/internal/control"
	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/metrics"
	"github.com/sweeney/telemetry-bridge/internal/mqtt"
	"github.com/sweeney/telemetry-bridge/internal/query"
	"github.com/sweeney/telemetry-bridge/internal/status"
	"github.com/sweeney/telemetry-bridge/internal/store"
	"github.com/sweeney/telemetry-bridge/internal/ws"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ts      *httptest.Server
	mem     *store.Memory
	core    *control.Core
	tracker *status.Tracker
}

func newTestServer(t *testing.T) fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New("bridge", reg)

	mem := store.NewMemory()
	writer := store.NewWriter(mem, store.WriterOptions{})
	t.Cleanup(writer.Close)

	hub := ws.NewHub(m, nil)
	core := control.New(mqtt.NewActuator(mqtt.NewFakeClient(), "grupo2/cmd/led"), hub, writer, control.Options{Metrics: m})
	tracker := status.NewTracker(now.Add(-time.Minute), nil)

	srv := New(":0", Deps{
		Query:   query.New(mem, query.Options{Now: func() time.Time { return now }}),
		State:   core,
		Tracker: tracker,
		WS:      hub.Handler(core),
		Metrics: metrics.Handler(reg),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return fixture{ts: ts, mem: mem, core: core, tracker: tracker}
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return resp
}

func seed(t *testing.T, mem *store.Memory, ago time.Duration, temp float64, led logic.LedState) {
	t.Helper()
	if err := mem.Append(context.Background(), logic.Reading{Timestamp: now.Add(-ago), Temperature: logic.Float(temp), Led: led}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newTestServer(t)
	seed(t, f.mem, 30*time.Minute, 21.04, logic.LedOff)
	seed(t, f.mem, 10*time.Minute, 31, logic.LedOn)
	seed(t, f.mem, 3*time.Hour, 25, logic.LedOff)

	var points []query.HistoryPoint
	resp := getJSON(t, f.ts.URL+"/api/history?minutes=60", &points)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	want := []query.HistoryPoint{
		{TS: "2026-03-02T11:30:00.000Z", Temp: "21.0", Led: 0},
		{TS: "2026-03-02T11:50:00.000Z", Temp: "31.0", Led: 1},
	}
	if len(points) != len(want) {
		t.Fatalf("points: got %d, want %d", len(points), len(want))
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("point %d: got %+v, want %+v", i, points[i], want[i])
		}
	}
}

func TestHistoryDefaultWindow(t *testing.T) {
	f := newTestServer(t)
	seed(t, f.mem, 119*time.Minute, 20, logic.LedOff)
	seed(t, f.mem, 121*time.Minute, 20, logic.LedOff)

	for _, q := range []string{"", "?minutes=abc", "?minutes=-3"} {
		var points []query.HistoryPoint
		getJSON(t, f.ts.URL+"/api/history"+q, &points)
		if len(points) != 1 {
			t.Errorf("%q: got %d points, want 1", q, len(points))
		}
	}
}

func TestHistoryEmptyArray(t *testing.T) {
	f := newTestServer(t)

	resp, err := http.Get(f.ts.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body: got %q, want []", body)
	}
}

func TestHistoryError(t *testing.T) {
	f := newTestServer(t)
	f.mem.QueryError = errors.New("store offline")

	var body map[string]string
	resp := getJSON(t, f.ts.URL+"/api/history", &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Error("expected error field")
	}
	if !strings.Contains(body["message"], "store offline") {
		t.Errorf("message: got %q", body["message"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newTestServer(t)
	seed(t, f.mem, time.Hour, 20, logic.LedOff)
	seed(t, f.mem, 2*time.Hour, 30, logic.LedOn)

	var sum query.Summary
	getJSON(t, f.ts.URL+"/api/stats", &sum)
	want := query.Summary{Count: 2, AvgTemp: 25, MinTemp: 20, MaxTemp: 30, LedOnCount: 1}
	if sum != want {
		t.Errorf("stats: got %+v, want %+v", sum, want)
	}
}

func TestStatsEmptyObject(t *testing.T) {
	f := newTestServer(t)

	resp, err := http.Get(f.ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "{}" {
		t.Errorf("body: got %q, want {}", body)
	}
}

func TestStatsError(t *testing.T) {
	f := newTestServer(t)
	f.mem.QueryError = errors.New("timeout")

	var body map[string]string
	resp := getJSON(t, f.ts.URL+"/api/stats", &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Error("expected error field")
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestServer(t)
	f.tracker.SetMQTTConnected(true)
	f.core.HandleTemperature([]byte("33.5"), now)

	var body map[string]interface{}
	getJSON(t, f.ts.URL+"/health", &body)

	if body["status"] != "ok" {
		t.Errorf("status: got %v", body["status"])
	}
	if body["mqtt"] != true {
		t.Errorf("mqtt: got %v, want true", body["mqtt"])
	}
	if body["mongodb"] != false {
		t.Errorf("mongodb: got %v, want false", body["mongodb"])
	}
	if body["threshold"] != 30.0 {
		t.Errorf("threshold: got %v, want 30", body["threshold"])
	}
	if body["lastTemp"] != 33.5 {
		t.Errorf("lastTemp: got %v, want 33.5", body["lastTemp"])
	}
	if body["ledState"] != 1.0 {
		t.Errorf("ledState: got %v, want 1", body["ledState"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newTestServer(t)
	f.core.HandleThresholdChange("42", "test")

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "bridge_control_threshold_celsius 42") {
		t.Error("expected threshold gauge in metrics output")
	}
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	f := newTestServer(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env ws.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if env.Event != "threshold" {
		t.Errorf("first event: got %q, want threshold", env.Event)
	}
}

func TestCORSHeader(t *testing.T) {
	f := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	f := newTestServer(t)

	resp, err := http.Get(f.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestRecoversFromPanic(t *testing.T) {
	srv := New(":0", Deps{Query: panicQuerier{}, State: staticState{}, Tracker: status.NewTracker(now, nil)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
}

type panicQuerier struct{}

func (panicQuerier) History(context.Context, int) ([]query.HistoryPoint, error) { panic("boom") }
func (panicQuerier) Stats(context.Context) (*query.Summary, error)              { panic("boom") }

type staticState struct{}

func (staticState) State() logic.State { return logic.NewState(30) }
