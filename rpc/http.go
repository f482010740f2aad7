package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crosslend/native/bridge"
	"crosslend/native/lending"
	"crosslend/native/oracle"
	"crosslend/observability/metrics"
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

// Server exposes the lending ledger and bridge journal over JSON-RPC 2.0.
type Server struct {
	logger      *slog.Logger
	engines     map[string]*lending.Engine
	defaultPool string
	pools       *lending.Registry
	feeds       map[string]*oracle.ManualFeed
	outbox      *bridge.Outbox
	metrics     *metrics.LendingMetrics
	limiter     *rateLimiter
	authToken   string
	handlers    map[string]handlerFunc
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// NewServer constructs a server routing requests to the given engines, keyed
// by pool identifier.
func NewServer(logger *slog.Logger, engines map[string]*lending.Engine, defaultPool string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:      logger,
		engines:     engines,
		defaultPool: defaultPool,
		feeds:       make(map[string]*oracle.ManualFeed),
		metrics:     metrics.Lending(),
	}
	s.handlers = map[string]handlerFunc{
		"lending_getPool":            s.handleGetPool,
		"lending_getPosition":        s.handleGetPosition,
		"lending_supply":             s.handleSupply,
		"lending_withdraw":           s.handleWithdraw,
		"lending_supplyCollateral":   s.handleSupplyCollateral,
		"lending_withdrawCollateral": s.handleWithdrawCollateral,
		"lending_borrow":             s.handleBorrow,
		"lending_repay":              s.handleRepay,
		"lending_swapPosition":       s.handleSwapPosition,
		"lending_accrueInterest":     s.handleAccrueInterest,
		"lending_withdrawFees":       s.handleWithdrawFees,
		"lending_convertToSupplyShares": s.handleConvert(
			func(e *lending.Engine, v *big.Int) (*big.Int, error) { return e.ConvertToSupplyShares(v) }),
		"lending_convertToSupplyAssets": s.handleConvert(
			func(e *lending.Engine, v *big.Int) (*big.Int, error) { return e.ConvertToSupplyAssets(v) }),
		"lending_convertToBorrowShares": s.handleConvert(
			func(e *lending.Engine, v *big.Int) (*big.Int, error) { return e.ConvertToBorrowShares(v) }),
		"lending_convertToBorrowAssets": s.handleConvert(
			func(e *lending.Engine, v *big.Int) (*big.Int, error) { return e.ConvertToBorrowAssets(v) }),
		"bridge_getDispatch":         s.handleGetDispatch,
		"bridge_listDispatches":      s.handleListDispatches,
		"oracle_setPrice":            s.handleSetPrice,
	}
	return s
}

// SetPoolRegistry wires the pair-to-pool lookup.
func (s *Server) SetPoolRegistry(registry *lending.Registry) { s.pools = registry }

// SetOutbox wires the bridge dispatch journal for read access.
func (s *Server) SetOutbox(outbox *bridge.Outbox) { s.outbox = outbox }

// SetManualFeed registers an owner-writable feed for oracle_setPrice.
func (s *Server) SetManualFeed(asset string, feed *oracle.ManualFeed) {
	if feed == nil {
		return
	}
	s.feeds[strings.ToUpper(strings.TrimSpace(asset))] = feed
}

// SetAuthToken enables bearer-token gating of admin methods.
func (s *Server) SetAuthToken(token string) { s.authToken = strings.TrimSpace(token) }

// SetRateLimit bounds request throughput per client address.
func (s *Server) SetRateLimit(requestsPerSecond float64, burst int) {
	s.limiter = newRateLimiter(requestsPerSecond, burst)
}

// Router assembles the HTTP routes: the JSON-RPC endpoint, health and
// Prometheus metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogging)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("rpc listening", "addr", addr)
	return server.ListenAndServe()
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.allow(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	handler(w, r, &req)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("rpc request",
			"requestId", requestID,
			"path", r.URL.Path,
			"remote", clientSource(r),
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	const scheme = "Bearer "
	if !strings.HasPrefix(header, scheme) {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, scheme))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if token != s.authToken {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) engineFor(poolID string) (*lending.Engine, string, *RPCError) {
	id := strings.TrimSpace(poolID)
	if id == "" {
		id = s.defaultPool
	}
	engine, ok := s.engines[id]
	if !ok || engine == nil {
		return nil, id, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown pool %q", id)}
	}
	return engine, id, nil
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
