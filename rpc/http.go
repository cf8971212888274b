package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/codebestia/grainlify/core/events"
	"github.com/codebestia/grainlify/native/escrow"
	"github.com/codebestia/grainlify/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// ServerConfig carries the transport-level settings for the RPC server.
type ServerConfig struct {
	// AuthToken guards mutating methods when non-empty. Compared in constant
	// time against the request bearer token.
	AuthToken string
	// RequestsPerMinute/Burst configure the per-client-IP transport limiter.
	// Zero disables transport limiting; the on-ledger limiter still applies.
	RequestsPerMinute float64
	Burst             int
}

// Server exposes the escrow engine over JSON-RPC 2.0.
type Server struct {
	engine  *escrow.Engine
	sink    *events.MemorySink
	logger  *slog.Logger
	token   string
	limiter *ipRateLimiter
}

// NewServer constructs an RPC server around the supplied engine. The sink is
// optional; when present the escrow_listEvents method serves its contents.
func NewServer(engine *escrow.Engine, sink *events.MemorySink, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *ipRateLimiter
	if cfg.RequestsPerMinute > 0 {
		limiter = newIPRateLimiter(cfg.RequestsPerMinute, cfg.Burst)
	}
	return &Server{
		engine:  engine,
		sink:    sink,
		logger:  logger,
		token:   strings.TrimSpace(cfg.AuthToken),
		limiter: limiter,
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, a health probe,
// and the metrics registry.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/", s.handleRPC)
	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, nil, &rpcError{Code: codeInvalidRequest, Message: "unable to read request body"})
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, &rpcError{Code: codeParseError, Message: "invalid JSON payload"})
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		s.writeError(w, req.ID, &rpcError{Code: codeInvalidRequest, Message: "invalid JSON-RPC request"})
		return
	}

	if mutatingMethods[req.Method] && !s.authorized(r) {
		s.writeError(w, req.ID, &rpcError{Code: codeUnauthorized, Message: "unauthorized"})
		return
	}

	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		s.logger.Warn("rpc call failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("reason", rpcErr.Message),
		)
		s.writeError(w, req.ID, rpcErr)
		return
	}
	s.logger.Debug("rpc call served", slog.String("method", req.Method))
	s.writeResult(w, req.ID, result)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.token)) == 1
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, rpcErr *rpcError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(rpcErr.Code))
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func httpStatusFor(code int) int {
	switch code {
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeMethodNotFound:
		return http.StatusNotFound
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
