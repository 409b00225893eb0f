package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZeusMonkey/cdl-loan/native/lending"
	"github.com/ZeusMonkey/cdl-loan/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
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

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	engine *lending.Engine
	log    *slog.Logger

	mu             sync.Mutex
	rateLimiters   map[string]*rateLimiter
	authToken      string
	limitPerWindow int
}

// NewServer wires the RPC surface over the loan ledger. authToken guards the
// parameter setters; an empty token disables them. limitPerMinute bounds
// calls per client IP, zero disables the limiter.
func NewServer(engine *lending.Engine, logger *slog.Logger, authToken string, limitPerMinute int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:         engine,
		log:            logger,
		rateLimiters:   make(map[string]*rateLimiter),
		authToken:      strings.TrimSpace(authToken),
		limitPerWindow: limitPerMinute,
	}
}

// Start serves the JSON-RPC endpoint together with the metrics and health
// endpoints, blocking until the listener fails.
func (s *Server) Start(addr, metricsPath string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	if metricsPath != "" && metricsPath != "/" {
		mux.Handle(metricsPath, promhttp.Handler())
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.log.Info("starting JSON-RPC server", "addr", addr)
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

// writeEngineError maps ledger errors onto JSON-RPC error codes: rejected
// inputs surface as invalid params, everything else as a server error.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	code := codeServerError
	status := http.StatusOK
	switch {
	case errors.Is(err, lending.ErrZeroAmount),
		errors.Is(err, lending.ErrZeroDuration),
		errors.Is(err, lending.ErrDurationTooLong),
		errors.Is(err, lending.ErrUnknownCollateralToken),
		errors.Is(err, lending.ErrInvalidParams),
		errors.Is(err, lending.ErrPoolInvalidAmount):
		code = codeInvalidParams
		status = http.StatusBadRequest
	}
	writeError(w, status, id, code, err.Error(), nil)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	if !s.allowSource(clientSource(r), time.Now()) {
		observability.LendingMetrics().ObserveRequest(req.Method, "throttled", 0)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	started := time.Now()
	recorder := &statusRecorder{ResponseWriter: w}
	s.dispatch(recorder, r, req)
	outcome := "ok"
	if recorder.failed {
		outcome = "error"
	}
	observability.LendingMetrics().ObserveRequest(req.Method, outcome, time.Since(started))
}

type statusRecorder struct {
	http.ResponseWriter
	failed bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if status >= http.StatusBadRequest {
		r.failed = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "lending_generateLoan":
		s.handleGenerateLoan(w, req)
	case "lending_generateLoanNative":
		s.handleGenerateLoanNative(w, req)
	case "lending_repayLoan":
		s.handleRepayLoan(w, req)
	case "lending_repayLoanNative":
		s.handleRepayLoanNative(w, req)
	case "lending_callLatePayment":
		s.handleCallLatePayment(w, req)
	case "lending_getLoan":
		s.handleGetLoan(w, req)
	case "lending_listLoans":
		s.handleListLoans(w, req)
	case "lending_activeLoan":
		s.handleActiveLoan(w, req)
	case "lending_amountToRepay":
		s.handleAmountToRepay(w, req)
	case "lending_cryptoScore":
		s.handleCryptoScore(w, req)
	case "lending_userCollateral":
		s.handleUserCollateral(w, req)
	case "lending_usdAmountForToken":
		s.handleUSDAmountForToken(w, req)
	case "lending_totalCollateralUSD":
		s.handleTotalCollateralUSD(w, req)
	case "lending_userActiveFundsLentUSD":
		s.handleUserActiveFundsLentUSD(w, req)
	case "lending_activeFundsLentUSD":
		s.handleActiveFundsLentUSD(w, req)
	case "lending_totalLockedCollateralUSD":
		s.handleTotalLockedCollateralUSD(w, req)
	case "lending_userLockedCollateralUSD":
		s.handleUserLockedCollateralUSD(w, req)
	case "lending_params":
		s.handleParams(w, req)
	case "pool_lock":
		s.handlePoolLock(w, req)
	case "pool_lockNative":
		s.handlePoolLockNative(w, req)
	case "pool_extract":
		s.handlePoolExtract(w, req)
	case "pool_info":
		s.handlePoolInfo(w, req)
	case "pool_position":
		s.handlePoolPosition(w, req)
	case "lending_setInterestPerDay",
		"lending_setPenalizationPerDay",
		"lending_setCollateralRatio",
		"lending_setMaxLoanDays",
		"lending_setLockDuration",
		"lending_setRepaidSplit",
		"lending_setCalledSplit":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdmin(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if s.limitPerWindow <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= s.limitPerWindow {
		return false
	}
	limiter.count++
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Parameter helpers ---

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("parameter object required")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
