package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/smallnest/kanban/bus"
	"github.com/smallnest/kanban/config"
	"github.com/smallnest/kanban/tasks"
)

func testGatewayConfig() *config.GatewayConfig {
	return &config.GatewayConfig{
		Host:          "127.0.0.1",
		Port:          0,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		WebSocketPath: "/ws",
	}
}

func newTestServer(t *testing.T) (*Server, *bus.EventBus) {
	t.Helper()
	eventBus := bus.NewEventBus(16)
	t.Cleanup(func() { _ = eventBus.Close() })
	store := tasks.NewInMemoryManager(nil)
	return NewServer(testGatewayConfig(), store, eventBus), eventBus
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) *TaskPayload {
	t.Helper()
	var p TaskPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return &p
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []*TaskPayload {
	t.Helper()
	var list []*TaskPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return list
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("task 3: %w", tasks.ErrNotFound), http.StatusNotFound},
		{tasks.ErrSelfReference, http.StatusNotFound},
		{fmt.Errorf("x: %w", tasks.ErrIntersection), http.StatusNotAcceptable},
		{tasks.ErrInvalidArgument, http.StatusInternalServerError},
		{tasks.ErrSaveFailed, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/tasks",
		`{"name":"Write","description":"docs","status":"NEW","startTime":"2024-01-10T10:00:00Z","duration":60}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /tasks status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeTask(t, rec)
	if created.ID != 1 || created.Type != tasks.KindTask || created.Duration == nil || *created.Duration != 60 {
		t.Fatalf("created = %+v", created)
	}
	if created.EndTime == nil || !created.EndTime.Equal(time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("endTime = %v", created.EndTime)
	}

	rec = do(t, h, http.MethodPost, "/tasks", `{"id":1,"name":"Write","status":"DONE"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /tasks update status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.Status != "DONE" || got.StartTime != nil {
		t.Fatalf("updated = %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/tasks/1", "")
	if rec.Code != http.StatusOK || decodeTask(t, rec).Status != "DONE" {
		t.Fatalf("GET /tasks/1 = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/history", "")
	if list := decodeList(t, rec); len(list) != 1 || list[0].ID != 1 {
		t.Fatalf("GET /history = %s", rec.Body.String())
	}

	if rec = do(t, h, http.MethodDelete, "/tasks/1", ""); rec.Code != http.StatusOK {
		t.Fatalf("DELETE /tasks/1 status = %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/tasks/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET deleted task status = %d", rec.Code)
	}
	if rec = do(t, h, http.MethodDelete, "/tasks/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE missing task status = %d", rec.Code)
	}
}

func TestEpicWithSubtasks(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/epics", `{"name":"Sprint"}`); rec.Code != http.StatusCreated {
		t.Fatalf("POST /epics status = %d", rec.Code)
	}
	for _, body := range []string{
		`{"name":"a","epic":1,"status":"DONE"}`,
		`{"name":"b","epic":1,"status":"NEW"}`,
	} {
		if rec := do(t, h, http.MethodPost, "/subtasks", body); rec.Code != http.StatusCreated {
			t.Fatalf("POST /subtasks status = %d, body %s", rec.Code, rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodGet, "/epics/1", "")
	epic := decodeTask(t, rec)
	if epic.Status != string(tasks.StatusInProgress) || len(epic.Subtasks) != 2 {
		t.Fatalf("epic = %+v", epic)
	}

	rec = do(t, h, http.MethodGet, "/epics/1/subtasks", "")
	if list := decodeList(t, rec); len(list) != 2 || list[0].Epic != 1 {
		t.Fatalf("GET /epics/1/subtasks = %s", rec.Body.String())
	}

	if rec = do(t, h, http.MethodGet, "/epics/9/subtasks", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("subtasks of missing epic status = %d", rec.Code)
	}

	if rec = do(t, h, http.MethodPost, "/subtasks", `{"name":"orphan","epic":9}`); rec.Code != http.StatusNotFound {
		t.Fatalf("subtask for missing epic status = %d", rec.Code)
	}

	if rec = do(t, h, http.MethodDelete, "/epics", ""); rec.Code != http.StatusOK {
		t.Fatalf("DELETE /epics status = %d", rec.Code)
	}
	if list := decodeList(t, do(t, h, http.MethodGet, "/subtasks", "")); len(list) != 0 {
		t.Fatalf("subtasks survived epic clear: %d", len(list))
	}
}

func TestPostIntersectionReturns406(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	first := `{"name":"T1","startTime":"2024-01-10T10:00:00Z","duration":60}`
	overlap := `{"name":"T2","startTime":"2024-01-10T10:30:00Z","duration":60}`
	adjacent := `{"name":"T3","startTime":"2024-01-10T11:00:00Z","duration":30}`

	if rec := do(t, h, http.MethodPost, "/tasks", first); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/tasks", overlap); rec.Code != http.StatusNotAcceptable {
		t.Fatalf("overlap status = %d, want 406", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/tasks", adjacent); rec.Code != http.StatusCreated {
		t.Fatalf("adjacent status = %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/prioritized", "")
	list := decodeList(t, rec)
	if len(list) != 2 || list[0].Name != "T1" || list[1].Name != "T3" {
		t.Fatalf("GET /prioritized = %s", rec.Body.String())
	}
}

func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/tasks", `{"name":`, http.StatusInternalServerError},
		{"non object", http.MethodPost, "/tasks", `[1,2]`, http.StatusInternalServerError},
		{"string id", http.MethodPost, "/tasks", `{"id":"1","name":"x"}`, http.StatusInternalServerError},
		{"bad status", http.MethodPost, "/tasks", `{"name":"x","status":"LATER"}`, http.StatusInternalServerError},
		{"string epic", http.MethodPost, "/subtasks", `{"name":"x","epic":"1"}`, http.StatusInternalServerError},
		{"duration overflow", http.MethodPost, "/tasks", `{"name":"x","duration":153722868}`, http.StatusInternalServerError},
		{"update missing", http.MethodPost, "/tasks", `{"id":42,"name":"x"}`, http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/tasks/abc", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/unknown", "", http.StatusNotFound},
		{"wrong kind", http.MethodGet, "/epics/1", "", http.StatusNotFound},
	}
	// id 1 is a task, so /epics/1 must not find it
	do(t, h, http.MethodPost, "/tasks", `{"name":"seed"}`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("%s %s status = %d, want %d (body %s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	s, eventBus := newTestServer(t)
	h := s.Handler()
	_, events := eventBus.Subscribe()

	do(t, h, http.MethodPost, "/tasks", `{"name":"a"}`)
	do(t, h, http.MethodPost, "/tasks", `{"id":1,"name":"b"}`)
	do(t, h, http.MethodDelete, "/tasks/1", "")
	do(t, h, http.MethodDelete, "/tasks", "")
	do(t, h, http.MethodDelete, "/tasks/1", "") // not found, no event

	want := []bus.Op{bus.OpCreated, bus.OpUpdated, bus.OpDeleted, bus.OpCleared}
	for _, op := range want {
		select {
		case evt := <-events:
			if evt.Op != op || evt.Kind != string(tasks.KindTask) {
				t.Fatalf("event = %+v, want op %s", evt, op)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", op)
		}
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}
}

func TestSaveFailureStillPublishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.csv")
	backend, err := tasks.NewFileSnapshotter(path, tasks.CSVCodec{Location: time.UTC})
	if err != nil {
		t.Fatalf("NewFileSnapshotter() error = %v", err)
	}
	store, err := tasks.LoadPersistentManager(backend, nil)
	if err != nil {
		t.Fatalf("LoadPersistentManager() error = %v", err)
	}

	eventBus := bus.NewEventBus(4)
	defer func() { _ = eventBus.Close() }()
	_, events := eventBus.Subscribe()
	h := NewServer(testGatewayConfig(), store, eventBus).Handler()

	// a directory at the file path makes every save fail
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	rec := do(t, h, http.MethodPost, "/tasks", `{"name":"a"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	select {
	case evt := <-events:
		if evt.Op != bus.OpCreated || evt.EntityID != 1 {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected created event for in-memory change")
	}
}

func TestUnstorableNameRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.csv")
	backend, err := tasks.NewFileSnapshotter(path, tasks.CSVCodec{Location: time.UTC})
	if err != nil {
		t.Fatalf("NewFileSnapshotter() error = %v", err)
	}
	store, err := tasks.LoadPersistentManager(backend, nil)
	if err != nil {
		t.Fatalf("LoadPersistentManager() error = %v", err)
	}

	eventBus := bus.NewEventBus(4)
	defer func() { _ = eventBus.Close() }()
	_, events := eventBus.Subscribe()
	h := NewServer(testGatewayConfig(), store, eventBus).Handler()

	if rec := do(t, h, http.MethodPost, "/tasks", `{"name":"a,b"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %+v", evt)
	default:
	}

	if rec := do(t, h, http.MethodPost, "/tasks", `{"name":"ok"}`); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), ",TASK,ok,") || strings.Contains(string(data), "a,b") {
		t.Fatalf("file content =\n%s", data)
	}
}

func TestHandleRequest(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s.Handler(), http.MethodPost, "/epics", `{"name":"E"}`)

	tests := []struct {
		name     string
		req      *JSONRPCRequest
		wantCode int
	}{
		{"list", &JSONRPCRequest{JSONRPC: "2.0", ID: "1", Method: "epics.list"}, 0},
		{"get", &JSONRPCRequest{JSONRPC: "2.0", ID: "2", Method: "epics.get", Params: map[string]interface{}{"id": float64(1)}}, 0},
		{"get missing", &JSONRPCRequest{JSONRPC: "2.0", ID: "3", Method: "tasks.get", Params: map[string]interface{}{"id": float64(1)}}, ErrorNotFound},
		{"missing param", &JSONRPCRequest{JSONRPC: "2.0", ID: "4", Method: "epic.subtasks"}, ErrorInvalidParams},
		{"unknown", &JSONRPCRequest{JSONRPC: "2.0", ID: "5", Method: "tasks.delete"}, ErrorMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.handler.HandleRequest(tt.req)
			if resp.ID != tt.req.ID {
				t.Fatalf("response id = %q, want %q", resp.ID, tt.req.ID)
			}
			if tt.wantCode == 0 {
				if resp.Error != nil {
					t.Fatalf("unexpected error %+v", resp.Error)
				}
				return
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Fatalf("error = %+v, want code %d", resp.Error, tt.wantCode)
			}
		})
	}

	if resp := s.handler.HandleRequest(nil); resp.Error == nil || resp.Error.Code != ErrorInvalidRequest {
		t.Fatalf("HandleRequest(nil) = %+v", resp)
	}

	resp := s.handler.HandleRequest(&JSONRPCRequest{JSONRPC: "2.0", ID: "h", Method: "health"})
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("health result = %#v", resp.Result)
	}
	methods, _ := result["methods"].([]string)
	if !slices.Contains(methods, "epic.subtasks") || !slices.Contains(methods, "tasks.get") {
		t.Fatalf("health methods = %v", methods)
	}
}
