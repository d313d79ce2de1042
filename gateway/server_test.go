package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/kanban/bus"
	"github.com/smallnest/kanban/tasks"
)

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = s.Stop()
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() || s.Addr() == "" {
		t.Fatalf("server not running after Start")
	}
	return s.Addr()
}

func readNotification(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("GET /health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}
}

func TestStartTwiceFails(t *testing.T) {
	s, _ := newTestServer(t)
	startServer(t, s)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second Start() error = nil")
	}
}

func TestWebSocketReceivesChangeEvents(t *testing.T) {
	s, _ := newTestServer(t)
	addr := startServer(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if msg := readNotification(t, conn); msg["method"] != MethodConnected {
		t.Fatalf("first message = %v, want connected", msg)
	}

	resp, err := http.Post("http://"+addr+"/tasks", "application/json", strings.NewReader(`{"name":"live"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}

	msg := readNotification(t, conn)
	if msg["method"] != MethodStoreChanged {
		t.Fatalf("message = %v, want store.changed", msg)
	}
	params, _ := msg["params"].(map[string]interface{})
	if params["op"] != string(bus.OpCreated) || params["kind"] != string(tasks.KindTask) || params["entityId"] != float64(1) {
		t.Fatalf("params = %v", params)
	}

	// JSON-RPC request over the same connection
	if err := conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": 7, "method": "tasks.list"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rpc struct {
		ID     string            `json:"id"`
		Result []json.RawMessage `json:"result"`
		Error  *RPCError         `json:"error"`
	}
	if err := conn.ReadJSON(&rpc); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if rpc.ID != "7" || rpc.Error != nil || len(rpc.Result) != 1 {
		t.Fatalf("rpc response = %+v", rpc)
	}
}

func TestWatcherReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.csv")
	backend, err := tasks.NewFileSnapshotter(path, tasks.CSVCodec{Location: time.UTC})
	if err != nil {
		t.Fatalf("NewFileSnapshotter() error = %v", err)
	}
	store, err := tasks.LoadPersistentManager(backend, nil)
	if err != nil {
		t.Fatalf("LoadPersistentManager() error = %v", err)
	}
	if _, err := store.AddTask(tasks.NewTask("original", "")); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	eventBus := bus.NewEventBus(8)
	defer func() { _ = eventBus.Close() }()
	_, events := eventBus.Subscribe()

	s := NewServer(testGatewayConfig(), store, eventBus)
	if err := s.WatchFile(backend, store); err != nil {
		t.Fatalf("WatchFile() error = %v", err)
	}
	startServer(t, s)

	content := tasks.CSVHeader + "\n1,TASK,edited,DONE,,,,\n5,EPIC,added,NEW,,,,"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Op != bus.OpReloaded {
				continue
			}
			var got *tasks.Task
			_ = s.handler.WithStore(func(m tasks.Manager) error {
				got, _ = m.Task(1)
				return nil
			})
			if got == nil || got.Name != "edited" {
				t.Fatalf("task after reload = %+v", got)
			}
			return
		case <-deadline:
			t.Fatalf("store was not reloaded after external edit")
		}
	}
}
