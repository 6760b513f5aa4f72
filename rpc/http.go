package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"deedmarket/core"
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
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Mutating methods admit at most this sustained rate per source address.
const (
	txRatePerSecond = rate.Limit(2)
	txRateBurst     = 5
)

// Server exposes the marketplace node over a single JSON-RPC endpoint plus
// /metrics and /healthz.
type Server struct {
	node *core.Node

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	authToken string
}

// NewServer wraps the node. An empty token disables authentication for
// mutating methods; production configs always set one.
func NewServer(node *core.Node, authToken string) *Server {
	return &Server{
		node:      node,
		limiters:  make(map[string]*rate.Limiter),
		authToken: strings.TrimSpace(authToken),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start serves the router on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
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

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allowSource(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.mu.Lock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(txRatePerSecond, txRateBurst)
		s.limiters[host] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request_too_large", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	if handler.mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowSource(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate_limited", nil)
			return
		}
	}
	handler.fn(w, r, &req)
}

type methodHandler struct {
	fn       func(http.ResponseWriter, *http.Request, *RPCRequest)
	mutating bool
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"market_list":                       {fn: s.handleList, mutating: true},
		"market_updateListing":              {fn: s.handleUpdateListing, mutating: true},
		"market_delist":                     {fn: s.handleDelist, mutating: true},
		"market_purchase":                   {fn: s.handlePurchase, mutating: true},
		"market_placeBid":                   {fn: s.handlePlaceBid, mutating: true},
		"market_cancelBid":                  {fn: s.handleCancelBid, mutating: true},
		"market_acceptBid":                  {fn: s.handleAcceptBid, mutating: true},
		"market_completeBidPayment":         {fn: s.handleCompleteBidPayment, mutating: true},
		"market_cleanupBids":                {fn: s.handleCleanupBids, mutating: true},
		"market_withdrawPendingRefund":      {fn: s.handleWithdrawPendingRefund, mutating: true},
		"market_withdrawPendingTokenRefund": {fn: s.handleWithdrawPendingTokenRefund, mutating: true},
		"market_claimAsset":                 {fn: s.handleClaimAsset, mutating: true},
		"market_setAllowedToken":            {fn: s.handleSetAllowedToken, mutating: true},
		"market_setWhitelistEnabled":        {fn: s.handleSetWhitelistEnabled, mutating: true},
		"market_emergencyWithdraw":          {fn: s.handleEmergencyWithdraw, mutating: true},
		"market_getListing":                 {fn: s.handleGetListing},
		"market_getHighestBid":              {fn: s.handleGetHighestBid},
		"market_getActiveBids":              {fn: s.handleGetActiveBids},
		"market_getPendingRefund":           {fn: s.handleGetPendingRefund},
		"market_getPendingTokenRefund":      {fn: s.handleGetPendingTokenRefund},
		"market_getBalance":                 {fn: s.handleGetBalance},
		"market_getEvents":                  {fn: s.handleGetEvents},
	}
}
