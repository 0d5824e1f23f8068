// Package rpc provides a JSON-RPC 2.0 server for the swap daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/internal/custody"
	"github.com/klingon-exchange/klingon-swap/internal/swap"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

// TrailSource returns the stored audit events of a swap.
type TrailSource interface {
	Trail(ctx context.Context, swapID string, limit int) ([]audit.Event, error)
}

// Config configures the Server.
type Config struct {
	Coordinator *swap.Coordinator
	Trail       TrailSource         // optional
	Hub         *WSHub              // optional, enables /ws
	Gatherer    prometheus.Gatherer // optional, enables /metrics
	DataDir     string
	Backend     string
	Logger      *logging.Logger
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	coordinator *swap.Coordinator
	custody     *custody.Adapter
	trail       TrailSource
	gatherer    prometheus.Gatherer
	log         *logging.Logger
	wsHub       *WSHub

	dataDir string
	backend string
	started time.Time

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Swap error codes, one per failure kind.
const (
	ValidationError    = -32001
	AuthorizationError = -32002
	StateError         = -32003
	CommitmentError    = -32004
	TimingError        = -32005
	TransferError      = -32006
)

// ErrInvalidParams marks malformed request parameters.
var ErrInvalidParams = errors.New("invalid params")

// NewServer creates a new JSON-RPC server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}

	s := &Server{
		coordinator: cfg.Coordinator,
		custody:     cfg.Coordinator.Custody(),
		trail:       cfg.Trail,
		gatherer:    cfg.Gatherer,
		wsHub:       cfg.Hub,
		dataDir:     cfg.DataDir,
		backend:     cfg.Backend,
		started:     time.Now(),
		log:         log.Component("rpc"),
		handlers:    make(map[string]Handler),
	}

	// Register handlers
	s.registerHandlers()

	return s, nil
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["node_info"] = s.nodeInfo

	// Swap methods
	s.handlers["swap_initiate"] = s.swapInitiate
	s.handlers["swap_complete"] = s.swapComplete
	s.handlers["swap_refund"] = s.swapRefund
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_list"] = s.swapList
	s.handlers["swap_newSecret"] = s.swapNewSecret

	// Ledger methods
	s.handlers["ledger_balance"] = s.ledgerBalance
	s.handlers["ledger_approve"] = s.ledgerApprove
	s.handlers["ledger_mint"] = s.ledgerMint
}

// Handler returns the HTTP handler serving JSON-RPC, /ws and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	if s.wsHub != nil {
		mux.HandleFunc("GET /ws", s.handleWS)
		mux.HandleFunc("GET /ws/", s.handleWS)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	if s.wsHub != nil {
		go s.wsHub.Run()
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", s.wsHub != nil, "metrics", s.gatherer != nil)
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.wsHub != nil {
		s.wsHub.Stop()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code, data := errorCode(err)
		if code == InternalError {
			s.log.Warn("RPC method failed", "method", req.Method, "error", err)
		}
		s.writeError(w, req.ID, code, err.Error(), data)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps a handler error to a JSON-RPC code and error data.
func errorCode(err error) (int, interface{}) {
	switch {
	case errors.Is(err, ErrInvalidParams):
		return InvalidParams, nil
	case errors.Is(err, swap.ErrValidation):
		return ValidationError, kindData(err)
	case errors.Is(err, swap.ErrAuthorization):
		return AuthorizationError, kindData(err)
	case errors.Is(err, swap.ErrState):
		return StateError, kindData(err)
	case errors.Is(err, swap.ErrCommitment):
		return CommitmentError, kindData(err)
	case errors.Is(err, swap.ErrTiming):
		return TimingError, kindData(err)
	case errors.Is(err, swap.ErrTransfer):
		return TransferError, kindData(err)
	default:
		return InternalError, nil
	}
}

func kindData(err error) map[string]string {
	return map[string]string{"kind": swap.KindName(err)}
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// decodeParams unmarshals params into v, marking failures as invalid params.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: params are required", ErrInvalidParams)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidParams, field)
}
