package gateway

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ProtocolVersion 当前协议版本
const ProtocolVersion = "1.0"

// Notification methods pushed to WebSocket clients.
const (
	MethodConnected    = "connected"
	MethodStoreChanged = "store.changed"
)

// JSONRPCRequest JSON-RPC 请求
type JSONRPCRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      string                 `json:"id,omitempty"` // 通知可以没有ID
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// UnmarshalJSON allows JSON-RPC id to be either string or number, and normalizes it to a string.
func (r *JSONRPCRequest) UnmarshalJSON(data []byte) error {
	var tmp struct {
		JSONRPC string                 `json:"jsonrpc"`
		ID      interface{}            `json:"id,omitempty"`
		Method  string                 `json:"method"`
		Params  map[string]interface{} `json:"params,omitempty"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	r.JSONRPC = tmp.JSONRPC
	r.Method = tmp.Method
	r.Params = tmp.Params

	switch v := tmp.ID.(type) {
	case nil:
		r.ID = ""
	case string:
		r.ID = v
	case float64:
		if math.Trunc(v) == v {
			r.ID = strconv.FormatInt(int64(v), 10)
		} else {
			r.ID = strconv.FormatFloat(v, 'f', -1, 64)
		}
	default:
		return fmt.Errorf("invalid id type: %T", tmp.ID)
	}

	return nil
}

// JSONRPCResponse JSON-RPC 响应
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// JSONRPCNotification 服务端推送
type JSONRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// RPCError RPC 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error codes
const (
	ErrorParseError     = -32700
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorInternalError  = -32603
	// ErrorNotFound is returned when the requested entity does not exist.
	ErrorNotFound = -32004
)

// NewErrorResponse 创建错误响应
func NewErrorResponse(id string, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(id string, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewNotification 创建通知
func NewNotification(method string, params interface{}) *JSONRPCNotification {
	return &JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params}
}

// MethodRegistry 方法注册表
type MethodRegistry struct {
	methods map[string]MethodHandler
}

// MethodNotFoundError is returned when a method is not registered.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("method not found: %s", e.Method)
}

// InvalidParamsError indicates request params are invalid.
type InvalidParamsError struct {
	Message string
}

func (e *InvalidParamsError) Error() string {
	return e.Message
}

// MethodHandler 方法处理器
type MethodHandler func(params map[string]interface{}) (interface{}, error)

// NewMethodRegistry 创建方法注册表
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		methods: make(map[string]MethodHandler),
	}
}

// Register 注册方法
func (r *MethodRegistry) Register(method string, handler MethodHandler) {
	r.methods[method] = handler
}

// Methods 已注册的方法名，按字母排序
func (r *MethodRegistry) Methods() []string {
	return slices.Sorted(maps.Keys(r.methods))
}

// Call 调用方法
func (r *MethodRegistry) Call(method string, params map[string]interface{}) (interface{}, error) {
	handler, ok := r.methods[method]
	if !ok {
		return nil, &MethodNotFoundError{Method: method}
	}
	if handler == nil {
		return nil, fmt.Errorf("nil handler for method: %s", method)
	}
	return handler(params)
}

// ParseRequest 解析请求
func ParseRequest(data []byte) (*JSONRPCRequest, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	if req.JSONRPC != "2.0" {
		return nil, fmt.Errorf("unsupported jsonrpc version: %s", req.JSONRPC)
	}

	if strings.TrimSpace(req.Method) == "" {
		return nil, fmt.Errorf("method is required")
	}

	return &req, nil
}

// intParam reads an integer param; JSON numbers arrive as float64.
func intParam(params map[string]interface{}, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, &InvalidParamsError{Message: fmt.Sprintf("%s is required", key)}
	}
	switch v := raw.(type) {
	case float64:
		if math.Trunc(v) != v {
			return 0, &InvalidParamsError{Message: fmt.Sprintf("%s must be an integer", key)}
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &InvalidParamsError{Message: fmt.Sprintf("%s must be an integer", key)}
		}
		return n, nil
	default:
		return 0, &InvalidParamsError{Message: fmt.Sprintf("%s must be an integer", key)}
	}
}
