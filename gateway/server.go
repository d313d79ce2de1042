package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallnest/kanban/bus"
	"github.com/smallnest/kanban/config"
	"github.com/smallnest/kanban/internal/logger"
	"github.com/smallnest/kanban/tasks"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Reloader 可从后端重新加载的存储
type Reloader interface {
	Reload() error
}

// Server HTTP 网关服务器
type Server struct {
	config        *config.GatewayConfig
	wsConfig      WebSocketConfig
	bus           *bus.EventBus
	handler       *Handler
	server        *http.Server
	listener      net.Listener
	watcher       *Watcher
	subID         string
	mu            sync.RWMutex
	running       bool
	connections   map[string]*Connection
	connectionsMu sync.RWMutex
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	Path           string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// NewServer 创建网关服务器
func NewServer(cfg *config.GatewayConfig, store tasks.Manager, eventBus *bus.EventBus) *Server {
	path := cfg.WebSocketPath
	if path == "" {
		path = "/ws"
	}
	return &Server{
		config: cfg,
		wsConfig: WebSocketConfig{
			Path:           path,
			PingInterval:   30 * time.Second,
			PongTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 64 * 1024,
		},
		bus:         eventBus,
		handler:     NewHandler(store, eventBus),
		connections: make(map[string]*Connection),
	}
}

// Handler 返回完整路由，供 Start 和测试使用
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+s.wsConfig.Path, s.handleWebSocket)
	s.handler.Routes(mux)
	return logRequests(mux)
}

// WatchFile reloads store whenever detector reports an external change to
// its file. Must be called before Start.
func (s *Server) WatchFile(detector ChangeDetector, store Reloader) error {
	w, err := NewWatcher(detector.Path(), DefaultWatchDebounce, func() {
		s.reloadIfChanged(detector, store)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

// reloadIfChanged runs under the store lock so that our own saves, which
// update the detector's digest, are never mistaken for external edits.
func (s *Server) reloadIfChanged(detector ChangeDetector, store Reloader) {
	reloaded := false
	err := s.handler.WithStore(func(tasks.Manager) error {
		changed, err := detector.Changed()
		if err != nil || !changed {
			return err
		}
		if err := store.Reload(); err != nil {
			return err
		}
		reloaded = true
		return nil
	})
	if err != nil {
		logger.Error("Failed to reload task store", zap.String("path", detector.Path()), zap.Error(err))
		return
	}
	if reloaded {
		s.handler.publish(bus.OpReloaded, "", 0)
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.running = true

	subID, events := s.bus.Subscribe()
	s.subID = subID
	s.mu.Unlock()

	go func() {
		logger.Info("HTTP gateway server started",
			zap.String("addr", ln.Addr().String()),
			zap.String("ws_path", s.wsConfig.Path),
		)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP gateway server error", zap.Error(err))
		}
	}()

	go s.broadcastEvents(events)

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop 停止服务器
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	watcher := s.watcher
	s.watcher = nil
	subID := s.subID
	s.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logger.Warn("Failed to close store file watcher", zap.Error(err))
		}
	}
	s.bus.Unsubscribe(subID)
	s.closeAllConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown HTTP gateway server", zap.Error(err))
		return err
	}

	logger.Info("Gateway server stopped")
	return nil
}

// IsRunning 检查是否运行中
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ConnectionCount 当前 WebSocket 连接数
func (s *Server) ConnectionCount() int {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()
	return len(s.connections)
}

func (s *Server) addConnection(conn *Connection) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	s.connections[conn.ID] = conn
}

func (s *Server) removeConnection(id string) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	delete(s.connections, id)
}

func (s *Server) closeAllConnections() {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	for id, conn := range s.connections {
		conn.Close()
		delete(s.connections, id)
	}
}

// handleHealth 健康检查处理器
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"connections": s.ConnectionCount(),
	})
}

// handleWebSocket WebSocket 连接处理器
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	connection := NewConnection(conn, s.wsConfig)
	s.addConnection(connection)

	logger.Info("WebSocket connection established",
		zap.String("connection_id", connection.ID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	_ = connection.SendJSON(NewNotification(MethodConnected, map[string]interface{}{
		"connection_id": connection.ID,
		"version":       ProtocolVersion,
	}))

	go connection.heartbeat()
	go s.handleWebSocketMessages(connection)
}

// handleWebSocketMessages 处理 WebSocket 上的 JSON-RPC 请求
func (s *Server) handleWebSocketMessages(conn *Connection) {
	defer func() {
		conn.Close()
		s.removeConnection(conn.ID)
		logger.Info("WebSocket connection closed", zap.String("connection_id", conn.ID))
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket error",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		req, err := ParseRequest(data)
		if err != nil {
			logger.Debug("Failed to parse WebSocket message",
				zap.String("connection_id", conn.ID),
				zap.Error(err))
			_ = conn.SendJSON(NewErrorResponse("", ErrorParseError, "Parse error"))
			continue
		}

		if err := conn.SendJSON(s.handler.HandleRequest(req)); err != nil {
			logger.Warn("Failed to send WebSocket response",
				zap.String("connection_id", conn.ID),
				zap.Error(err))
		}
	}
}

// broadcastEvents 把变更事件推送给所有 WebSocket 连接
func (s *Server) broadcastEvents(events <-chan *bus.ChangeEvent) {
	for evt := range events {
		notif := NewNotification(MethodStoreChanged, evt)

		s.connectionsMu.RLock()
		for _, conn := range s.connections {
			if err := conn.SendJSON(notif); err != nil {
				logger.Warn("Failed to broadcast change event",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
			}
		}
		s.connectionsMu.RUnlock()
	}
}

// Connection WebSocket 连接
type Connection struct {
	*websocket.Conn
	ID           string
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
	done         chan struct{}
}

// NewConnection 创建连接
func NewConnection(ws *websocket.Conn, cfg WebSocketConfig) *Connection {
	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	c := &Connection{
		Conn:         ws,
		ID:           uuid.New().String(),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	if c.pongTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		})
	}
	return c
}

// SendJSON 发送 JSON 消息
func (c *Connection) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.WriteJSON(v)
}

// heartbeat 心跳
func (c *Connection) heartbeat() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close 关闭连接
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		err = c.Conn.Close()
	})
	return err
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade pass through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// logRequests 请求日志中间件
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.Debug("HTTP request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
