package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"bakedbeans/core"
	"bakedbeans/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 5
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// rpcTokenEnv names the environment variable holding the bearer token that
// guards mutating methods when set.
const rpcTokenEnv = "BEANS_RPC_TOKEN"

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	node *core.Node

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
	metrics      *metrics.RPC
	nowFn        func() time.Time
}

func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	return &Server{
		node:         node,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
		metrics:      metrics.NewRPC(),
		nowFn:        time.Now,
	}
}

// Metrics exposes the server's prometheus handler for the metrics endpoint.
func (s *Server) Metrics() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	fmt.Printf("Starting JSON-RPC server on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.authToken)) == 1
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allowMutation(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	limiter, ok := s.rateLimiters[source]
	if !ok || now.Sub(limiter.windowStart) >= rateLimitWindow {
		s.rateLimiters[source] = &rateLimiter{count: 1, windowStart: now}
		return true
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func isMutation(method string) bool {
	switch method {
	case "beans_initialize", "beans_initUserState", "beans_buyBeans", "beans_bakeBeans", "beans_eatBeans":
		return true
	}
	return false
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON request", nil)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if isMutation(req.Method) {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
			return
		}
		if !s.allowMutation(clientHost(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	start := time.Now()
	result, rpcErr := s.dispatch(&req)
	outcome := "ok"
	if rpcErr != nil {
		outcome = "error"
	}
	s.metrics.Observe(req.Method, outcome, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	if rpcErr != nil {
		writeError(w, rpcErr.status, req.ID, rpcErr.code, rpcErr.message, rpcErr.data)
		return
	}
	writeResult(w, req.ID, result)
}

type handlerError struct {
	status  int
	code    int
	message string
	data    interface{}
}

func errInvalidParams(message string) *handlerError {
	return &handlerError{status: http.StatusBadRequest, code: codeInvalidParams, message: message}
}

func errServer(err error) *handlerError {
	return &handlerError{status: http.StatusOK, code: codeServerError, message: err.Error()}
}

func errUnauthorized(message string) *handlerError {
	return &handlerError{status: http.StatusUnauthorized, code: codeUnauthorized, message: message}
}

func (s *Server) dispatch(req *RPCRequest) (interface{}, *handlerError) {
	switch req.Method {
	case "beans_initialize":
		return s.handleInitialize(req)
	case "beans_initUserState":
		return s.handleInitUserState(req)
	case "beans_buyBeans":
		return s.handleBuyBeans(req)
	case "beans_bakeBeans":
		return s.handleBakeBeans(req)
	case "beans_eatBeans":
		return s.handleEatBeans(req)
	case "beans_getGlobalState":
		return s.handleGetGlobalState(req)
	case "beans_getUserState":
		return s.handleGetUserState(req)
	case "beans_getBalance":
		return s.handleGetBalance(req)
	default:
		return nil, &handlerError{status: http.StatusNotFound, code: codeMethodNotFound, message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}
