package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AaronLay10/soundstage/internal/config"
	"github.com/AaronLay10/soundstage/internal/display"
	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/resources"
	"github.com/AaronLay10/soundstage/internal/sequencer"
	"github.com/AaronLay10/soundstage/internal/session"
	"github.com/AaronLay10/soundstage/internal/storage/postgres"
)

type fakeOperator struct {
	mu     sync.Mutex
	calls  []string
	err    error
	status session.Status
}

func (f *fakeOperator) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeOperator) Start(_ context.Context, scene string) error { return f.record("start " + scene) }
func (f *fakeOperator) Step(_ context.Context) error                { return f.record("step") }
func (f *fakeOperator) Jump(_ context.Context, scene string) error  { return f.record("jump " + scene) }

func (f *fakeOperator) Status(_ context.Context) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeOperator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeFrames struct {
	frame display.Frame
	ok    bool
}

func (f fakeFrames) Frame() (display.Frame, bool) { return f.frame, f.ok }

type fakeJournal struct {
	rows []postgres.EventRow
}

func (f fakeJournal) Query(_ context.Context, limit int) ([]postgres.EventRow, error) {
	return f.rows, nil
}

func newTestServer(op Operator, opts ...Option) (*Server, *events.Bus) {
	bus := events.NewBus(64)
	return New(config.APIConfig{Port: 8080}, bus, op, opts...), bus
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeOperator{})
	w := do(t, s, "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "soundstage" {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		session      bool
		mqtt, mqttOp bool
		pg, pgOp     bool
		wantCode     int
		wantMQTT     string
		wantPostgres string
	}{
		{"all ready", true, true, false, true, false, http.StatusOK, "ok", "ok"},
		{"session not ready", false, true, false, true, false, http.StatusServiceUnavailable, "ok", "ok"},
		{"optional mqtt unavailable", true, false, true, true, false, http.StatusOK, "unavailable", "ok"},
		{"required mqtt down", true, false, false, true, false, http.StatusServiceUnavailable, "not_ready", "ok"},
		{"optional postgres unavailable", true, true, false, false, true, http.StatusOK, "ok", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeOperator{})
			s.SetSessionReady(tt.session)
			s.SetMQTTState(tt.mqtt, tt.mqttOp)
			s.SetPostgresState(tt.pg, tt.pgOp)

			w := do(t, s, "GET", "/ready", "")
			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}

			var resp ReadinessResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Ready != (tt.wantCode == http.StatusOK) {
				t.Errorf("expected ready=%v", tt.wantCode == http.StatusOK)
			}
			if resp.Checks["mqtt"].Status != tt.wantMQTT {
				t.Errorf("expected mqtt status %q, got %q", tt.wantMQTT, resp.Checks["mqtt"].Status)
			}
			if resp.Checks["postgres"].Status != tt.wantPostgres {
				t.Errorf("expected postgres status %q, got %q", tt.wantPostgres, resp.Checks["postgres"].Status)
			}
			if !resp.Ready && resp.NotReadyMsg == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestOperatorEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		err      error
		wantCode int
		wantCall string
	}{
		{"step", "POST", "/operator/step", "", nil, http.StatusOK, "step"},
		{"start", "POST", "/operator/start", `{"scene":"tavern"}`, nil, http.StatusOK, "start tavern"},
		{"jump", "POST", "/operator/jump", `{"scene":"crypt"}`, nil, http.StatusOK, "jump crypt"},
		{"step via GET", "GET", "/operator/step", "", nil, http.StatusMethodNotAllowed, ""},
		{"start without scene", "POST", "/operator/start", `{}`, nil, http.StatusBadRequest, ""},
		{"jump bad json", "POST", "/operator/jump", `{`, nil, http.StatusBadRequest, ""},
		{"step before start", "POST", "/operator/step", "", sequencer.ErrInvalidState, http.StatusConflict, "step"},
		{"unknown scene", "POST", "/operator/jump", `{"scene":"nowhere"}`,
			&resources.MissingResourceError{Kind: "scene", ID: "nowhere"}, http.StatusNotFound, "jump nowhere"},
		{"cue cycle", "POST", "/operator/start", `{"scene":"a"}`,
			fmt.Errorf("start a: %w", &sequencer.CueCycleError{Chain: []string{"a", "b", "a"}}), http.StatusConflict, "start a"},
		{"session stopped", "POST", "/operator/step", "", session.ErrStopped, http.StatusServiceUnavailable, "step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &fakeOperator{err: tt.err, status: session.Status{State: "active", SceneID: "tavern"}}
			s, _ := newTestServer(op)

			w := do(t, s, tt.method, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}

			var resp OperatorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.OK != (tt.wantCode == http.StatusOK) {
				t.Errorf("unexpected ok=%v (error %q)", resp.OK, resp.Error)
			}
			if resp.OK && (resp.Status == nil || resp.Status.SceneID != "tavern") {
				t.Errorf("expected status in response, got %+v", resp.Status)
			}

			calls := op.Calls()
			if tt.wantCall == "" {
				if len(calls) != 0 {
					t.Errorf("expected no operator calls, got %v", calls)
				}
			} else if len(calls) != 1 || calls[0] != tt.wantCall {
				t.Errorf("expected call %q, got %v", tt.wantCall, calls)
			}
		})
	}
}

func TestStateEndpoint(t *testing.T) {
	op := &fakeOperator{status: session.Status{State: "active", SceneID: "tavern", Index: 2, ObjectID: "bell"}}
	s, _ := newTestServer(op)

	w := do(t, s, "GET", "/state", "")
	var st session.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if st != op.status {
		t.Errorf("expected %+v, got %+v", op.status, st)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s, bus := newTestServer(&fakeOperator{})
	for i := 0; i < 5; i++ {
		bus.Emit("info", "scene.started", "", map[string]interface{}{"i": i})
	}

	w := do(t, s, "GET", "/events?n=2", "")
	var got []events.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[1].Fields["i"] != float64(4) {
		t.Errorf("expected newest event last, got %+v", got[1])
	}
}

func TestArtEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, _ := newTestServer(&fakeOperator{})
		if w := do(t, s, "GET", "/art/current", ""); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("nothing shown", func(t *testing.T) {
		s, _ := newTestServer(&fakeOperator{}, WithFrames(fakeFrames{}))
		if w := do(t, s, "GET", "/art/current", ""); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("frame", func(t *testing.T) {
		frame := display.Frame{ArtID: "map", PNG: []byte("\x89PNG")}
		s, _ := newTestServer(&fakeOperator{}, WithFrames(fakeFrames{frame: frame, ok: true}))
		w := do(t, s, "GET", "/art/current", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("expected image/png, got %q", ct)
		}
		if w.Header().Get("X-Art-Id") != "map" || w.Body.String() != "\x89PNG" {
			t.Errorf("unexpected frame response")
		}
	})
}

func TestJournalEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeOperator{})
	if w := do(t, s, "GET", "/journal", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without journal, got %d", w.Code)
	}

	rows := []postgres.EventRow{{EventID: 1, Level: "error", Event: "system.error", MapRoot: "/maps"}}
	s, _ = newTestServer(&fakeOperator{}, WithJournal(fakeJournal{rows: rows}))
	w := do(t, s, "GET", "/journal?limit=10", "")
	var got []postgres.EventRow
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].Event != "system.error" {
		t.Errorf("unexpected journal rows %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, bus := newTestServer(&fakeOperator{status: session.Status{State: "active"}})
	s.SetMapName("campaign")
	s.SetMQTTState(true, false)
	bus.Emit("info", "scene.started", "", nil)

	w := do(t, s, "GET", "/metrics", "")
	body := w.Body.String()
	for _, want := range []string{
		`soundstage_scene_active{map="campaign"`,
		"soundstage_events_total{",
		"soundstage_uptime_seconds{",
		"soundstage_ws_clients{",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if !strings.Contains(body, "} 1\n# HELP soundstage_events_total") {
		t.Errorf("expected scene_active=1 in:\n%s", body)
	}
}

func TestFollowLinks(t *testing.T) {
	s, bus := newTestServer(&fakeOperator{})
	s.SetMQTTState(false, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.FollowLinks(ctx)
	waitFor(t, func() bool { return bus.SubscriberCount() == 1 }, "links subscription")

	bus.Emit("info", "mqtt.connected", "", nil)
	waitFor(t, func() bool {
		s.readiness.mu.RLock()
		defer s.readiness.mu.RUnlock()
		return s.readiness.mqttConnected
	}, "mqtt connected")
}

func TestUIServedOnlyAtRoot(t *testing.T) {
	s, _ := newTestServer(&fakeOperator{})
	if w := do(t, s, "GET", "/", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/ws/events") {
		t.Errorf("expected operator page at /, got %d", w.Code)
	}
	if w := do(t, s, "GET", "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", w.Code)
	}
}
