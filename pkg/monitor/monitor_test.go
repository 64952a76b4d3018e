package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ldd69/anvil/pkg/controller"
	"github.com/ldd69/anvil/pkg/runstate"
)

func TestMonitor_TracksLoopEvents(t *testing.T) {
	m := New(nil, "sess-1", "runs/phi4", 0.99)

	m.StateChanged(controller.StateTrain, runstate.RunState{Epochs: 1000, TrainTime: 60, LastAcceptance: 0.5})
	m.InvocationStarted(controller.Invocation{Kind: "train", Executable: "anvil-train", Index: 1, Total: 1})

	s := m.Snapshot()
	if s.State != "TRAIN" || s.Epochs != 1000 {
		t.Errorf("unexpected status %+v", s)
	}
	if s.Running == nil || s.Running.Executable != "anvil-train" {
		t.Fatalf("expected running invocation, got %+v", s.Running)
	}

	m.InvocationFinished(controller.Invocation{Kind: "train", Duration: 30 * time.Second}, nil)
	if m.Snapshot().Running != nil {
		t.Error("running invocation must clear on finish")
	}

	m.IterationRecorded(controller.Iteration{
		Number: 2,
		Record: runstate.IterationRecord{Epochs: 2000, TrainTime: 90, AcceptanceMean: 0.93},
	})
	s = m.Snapshot()
	if s.Iterations != 2 || s.Epochs != 2000 || s.LastAcceptance != 0.93 {
		t.Errorf("unexpected status after iteration %+v", s)
	}
	if s.Last == nil || s.Last.Session != "sess-1" {
		t.Errorf("expected last iteration stamped with session, got %+v", s.Last)
	}
}

func TestMonitor_BootstrapDoesNotCountAsIteration(t *testing.T) {
	m := New(nil, "s", "run", 0.99)
	m.IterationRecorded(controller.Iteration{Bootstrap: true, Record: runstate.IterationRecord{Epochs: 1000}})

	s := m.Snapshot()
	if s.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", s.Iterations)
	}
	if s.Epochs != 1000 {
		t.Errorf("Epochs = %d, want 1000", s.Epochs)
	}
}

func TestMonitor_StatusEndpoint(t *testing.T) {
	m := New(nil, "sess-1", "runs/phi4", 0.99)
	m.StateChanged(controller.StateSample, runstate.RunState{Epochs: 3000})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var s Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.State != "SAMPLE" || s.Epochs != 3000 || s.RunDir != "runs/phi4" || s.Target != 0.99 {
		t.Errorf("unexpected body %+v", s)
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status code = %d, want 405", rec.Code)
	}
}

func TestMonitor_BroadcastsToHub(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, hub, conn, ChannelStatus)

	m := New(hub, "sess-1", "run", 0.99)
	m.InvocationFinished(controller.Invocation{Kind: "sample", Executable: "anvil-sample", Index: 2, Total: 5},
		errors.New("exit status 1"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data InvocationData `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != EventTypeInvocation {
		t.Fatalf("type = %q", msg.Type)
	}
	if msg.Data.Index != 2 || msg.Data.Error != "exit status 1" || msg.Data.Session != "sess-1" {
		t.Errorf("unexpected data %+v", msg.Data)
	}
}

// -----------------------------------------------------------------------------
// Server Tests
// -----------------------------------------------------------------------------

func TestServer_RunServesRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(quietLogger())
	go hub.Run(ctx)

	m := New(hub, "sess-1", "run", 0.99)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, hub, m, quietLogger())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	waitFor(t, "listener", func() bool { return !strings.HasSuffix(srv.Addr(), ":0") })

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + srv.Addr() + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var s Status
	json.NewDecoder(resp.Body).Decode(&s)
	resp.Body.Close()
	if s.Session != "sess-1" {
		t.Errorf("session = %q", s.Session)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	hub := NewHub(quietLogger())
	srv := NewServer(ServerConfig{Addr: ln.Addr().String()}, hub, New(hub, "s", "run", 0.99), quietLogger())
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected bind failure")
	}
}

func TestNewServer_Defaults(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewHub(quietLogger()), New(nil, "s", "run", 0.99), quietLogger())
	if srv.Addr() != "localhost:8082" {
		t.Errorf("Addr() = %q", srv.Addr())
	}
	if srv.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", srv.config.ShutdownTimeout)
	}
}
