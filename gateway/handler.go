package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/smallnest/kanban/bus"
	"github.com/smallnest/kanban/internal/logger"
	"github.com/smallnest/kanban/tasks"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// entityOps binds the store operations of one entity kind.
type entityOps struct {
	kind   tasks.Kind
	list   func() []*tasks.Task
	get    func(id int) (*tasks.Task, error)
	add    func(t *tasks.Task) (*tasks.Task, error)
	update func(t *tasks.Task) (*tasks.Task, error)
	remove func(id int) error
	clear  func() error
}

// Handler REST 与 JSON-RPC 请求处理器
//
// Every store access goes through mu; the store itself is not safe for
// concurrent use.
type Handler struct {
	mu       sync.Mutex
	store    tasks.Manager
	bus      *bus.EventBus
	registry *MethodRegistry

	taskOps    entityOps
	epicOps    entityOps
	subtaskOps entityOps
}

// NewHandler 创建处理器
func NewHandler(store tasks.Manager, eventBus *bus.EventBus) *Handler {
	h := &Handler{
		store:    store,
		bus:      eventBus,
		registry: NewMethodRegistry(),
		taskOps: entityOps{
			kind: tasks.KindTask, list: store.Tasks, get: store.Task,
			add: store.AddTask, update: store.UpdateTask,
			remove: store.DeleteTask, clear: store.DeleteAllTasks,
		},
		epicOps: entityOps{
			kind: tasks.KindEpic, list: store.Epics, get: store.Epic,
			add: store.AddEpic, update: store.UpdateEpic,
			remove: store.DeleteEpic, clear: store.DeleteAllEpics,
		},
		subtaskOps: entityOps{
			kind: tasks.KindSubtask, list: store.Subtasks, get: store.Subtask,
			add: store.AddSubtask, update: store.UpdateSubtask,
			remove: store.DeleteSubtask, clear: store.DeleteAllSubtasks,
		},
	}

	h.registerMethods()
	return h
}

// Routes 注册 REST 路由
func (h *Handler) Routes(mux *http.ServeMux) {
	for _, r := range []struct {
		prefix string
		ops    *entityOps
	}{
		{"/tasks", &h.taskOps},
		{"/epics", &h.epicOps},
		{"/subtasks", &h.subtaskOps},
	} {
		mux.HandleFunc("GET "+r.prefix, h.handleList(r.ops))
		mux.HandleFunc("POST "+r.prefix, h.handlePost(r.ops))
		mux.HandleFunc("DELETE "+r.prefix, h.handleClear(r.ops))
		mux.HandleFunc("GET "+r.prefix+"/{id}", h.handleGet(r.ops))
		mux.HandleFunc("DELETE "+r.prefix+"/{id}", h.handleDelete(r.ops))
	}
	mux.HandleFunc("GET /epics/{id}/subtasks", h.handleEpicSubtasks)
	mux.HandleFunc("GET /history", h.handleHistory)
	mux.HandleFunc("GET /prioritized", h.handlePrioritized)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
}

// WithStore runs fn while holding the store lock.
func (h *Handler) WithStore(fn func(store tasks.Manager) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.store)
}

func (h *Handler) handleList(ops *entityOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		list := ops.list()
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, NewTaskPayloads(list))
	}
}

func (h *Handler) handleGet(ops *entityOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		h.mu.Lock()
		t, err := ops.get(id)
		h.mu.Unlock()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewTaskPayload(t))
	}
}

func (h *Handler) handlePost(ops *entityOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			logger.Warn("Failed to read request body", zap.Error(err))
			writeError(w, err)
			return
		}
		decoded, err := decodeTaskBody(body, ops.kind)
		if err != nil {
			writeError(w, err)
			return
		}

		op := bus.OpCreated
		apply := ops.add
		if decoded.update {
			op = bus.OpUpdated
			apply = ops.update
		}

		h.mu.Lock()
		saved, err := apply(decoded.task)
		h.mu.Unlock()

		// a save failure still leaves the change applied in memory
		if saved != nil {
			h.publish(op, ops.kind, saved.ID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, NewTaskPayload(saved))
	}
}

func (h *Handler) handleDelete(ops *entityOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		h.mu.Lock()
		err := ops.remove(id)
		h.mu.Unlock()

		if err == nil || errors.Is(err, tasks.ErrSaveFailed) {
			h.publish(bus.OpDeleted, ops.kind, id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleClear(ops *entityOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		err := ops.clear()
		h.mu.Unlock()

		if err == nil || errors.Is(err, tasks.ErrSaveFailed) {
			h.publish(bus.OpCleared, ops.kind, 0)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleEpicSubtasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	list, err := h.store.EpicSubtasks(id)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTaskPayloads(list))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	list := h.store.History()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, NewTaskPayloads(list))
}

func (h *Handler) handlePrioritized(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	list := h.store.Prioritized()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, NewTaskPayloads(list))
}

func (h *Handler) publish(op bus.Op, kind tasks.Kind, id int) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(bus.NewChangeEvent(op, string(kind), id)); err != nil {
		logger.Warn("Failed to publish change event",
			zap.String("op", string(op)),
			zap.Int("id", id),
			zap.Error(err))
	}
}

// HandleRequest 处理 WebSocket 上的 JSON-RPC 请求
func (h *Handler) HandleRequest(req *JSONRPCRequest) *JSONRPCResponse {
	if req == nil {
		return NewErrorResponse("", ErrorInvalidRequest, "nil request")
	}

	h.mu.Lock()
	result, err := h.registry.Call(req.Method, req.Params)
	h.mu.Unlock()

	if err != nil {
		code := ErrorInternalError
		var mnf *MethodNotFoundError
		var ip *InvalidParamsError
		switch {
		case errors.As(err, &mnf):
			code = ErrorMethodNotFound
		case errors.As(err, &ip):
			code = ErrorInvalidParams
		case errors.Is(err, tasks.ErrNotFound):
			code = ErrorNotFound
		}
		logger.Debug("Method execution failed",
			zap.String("method", req.Method),
			zap.Error(err))
		return NewErrorResponse(req.ID, code, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

// registerMethods registers the read-only methods available over WebSocket.
// Callers hold h.mu.
func (h *Handler) registerMethods() {
	h.registry.Register("health", func(map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"status":  "ok",
			"time":    time.Now().Unix(),
			"methods": h.registry.Methods(),
		}, nil
	})
	h.registry.Register("history", func(map[string]interface{}) (interface{}, error) {
		return NewTaskPayloads(h.store.History()), nil
	})
	h.registry.Register("prioritized", func(map[string]interface{}) (interface{}, error) {
		return NewTaskPayloads(h.store.Prioritized()), nil
	})
	h.registry.Register("epic.subtasks", func(params map[string]interface{}) (interface{}, error) {
		id, err := intParam(params, "id")
		if err != nil {
			return nil, err
		}
		list, err := h.store.EpicSubtasks(id)
		if err != nil {
			return nil, err
		}
		return NewTaskPayloads(list), nil
	})

	for name, ops := range map[string]*entityOps{"tasks": &h.taskOps, "epics": &h.epicOps, "subtasks": &h.subtaskOps} {
		h.registry.Register(name+".list", func(map[string]interface{}) (interface{}, error) {
			return NewTaskPayloads(ops.list()), nil
		})
		h.registry.Register(name+".get", func(params map[string]interface{}) (interface{}, error) {
			id, err := intParam(params, "id")
			if err != nil {
				return nil, err
			}
			t, err := ops.get(id)
			if err != nil {
				return nil, err
			}
			return NewTaskPayload(t), nil
		})
	}
}

// pathID parses {id}; a malformed id answers 404.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// StatusFor maps store errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrIntersection):
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
