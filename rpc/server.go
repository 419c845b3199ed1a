package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/state"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/indexer"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/fungible"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/tokens"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability/logging"
	telemetry "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability/otel"
)

const tracerName = "github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/rpc"

// Backend bundles the node components the RPC surface drives. Events and Hub
// are optional; without them the event methods and the websocket stream are
// unavailable and idempotency keys are ignored.
type Backend struct {
	State    *state.Manager
	Escrow   *escrow.Engine
	Registry *tokens.Registry
	Tokens   *fungible.Ledger
	Events   *indexer.Store
	Hub      *indexer.Hub
}

// ServerConfig carries the listener policy.
type ServerConfig struct {
	Auth           AuthConfig
	RateLimit      RateLimit
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type Server struct {
	backend Backend
	cfg     ServerConfig
	auth    *Authenticator
	limiter *rateLimiter
	log     *slog.Logger
	tracer  trace.Tracer
	methods map[string]method

	// idemMu serialises keyed creates so a replay cannot race the original.
	idemMu sync.Mutex

	mu      sync.Mutex
	httpSrv *http.Server
}

// call is one decoded request as seen by a method handler.
type call struct {
	r      *http.Request
	req    *RPCRequest
	caller common.Address
}

type method struct {
	auth bool
	fn   func(s *Server, c *call) (interface{}, error)
}

func NewServer(backend Backend, cfg ServerConfig, log *slog.Logger) (*Server, error) {
	if backend.State == nil || backend.Escrow == nil || backend.Registry == nil || backend.Tokens == nil {
		return nil, errors.New("rpc: state, escrow, registry and token ledger are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		backend: backend,
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
		log:     log.With("component", "rpc"),
		tracer:  telemetry.Tracer(tracerName),
		methods: methodTable(),
	}, nil
}

func methodTable() map[string]method {
	return map[string]method{
		"escrow_isTokenAllowed":                      {fn: (*Server).handleIsTokenAllowed},
		"escrow_updateTokensList":                    {auth: true, fn: (*Server).handleUpdateTokensList},
		"escrow_createAndDeposit":                    {auth: true, fn: (*Server).handleCreateAndDeposit},
		"escrow_markComplete":                        {auth: true, fn: orderTransition((*escrow.Engine).MarkComplete)},
		"escrow_markCompleteAndReleaseFundsToSeller": {auth: true, fn: orderTransition((*escrow.Engine).MarkCompleteAndReleaseFundsToSeller)},
		"escrow_releaseFundsToBuyer":                 {auth: true, fn: orderTransition((*escrow.Engine).ReleaseFundsToBuyer)},
		"escrow_claimFundsFromBuyer":                 {auth: true, fn: orderTransition((*escrow.Engine).ClaimFundsFromBuyer)},
		"escrow_claimFundsFromContract":              {auth: true, fn: orderTransition((*escrow.Engine).ClaimFundsFromContract)},
		"escrow_acceptRefund":                        {auth: true, fn: orderTransition((*escrow.Engine).AcceptRefund)},
		"escrow_refund":                              {auth: true, fn: orderTransition((*escrow.Engine).Refund)},
		"escrow_sellerAcceptIncHoldingTime":          {auth: true, fn: orderTransition((*escrow.Engine).SellerAcceptIncHoldingTime)},
		"escrow_buyerIncHoldingTime":                 {auth: true, fn: holdExtension((*escrow.Engine).BuyerIncHoldingTime)},
		"escrow_incHoldingTime":                      {auth: true, fn: holdExtension((*escrow.Engine).IncHoldingTime)},
		"escrow_disputeOrder":                        {auth: true, fn: orderTransition((*escrow.Engine).DisputeOrder)},
		"escrow_resolveDispute":                      {auth: true, fn: (*Server).handleResolveDispute},
		"escrow_orderDetails":                        {fn: (*Server).handleOrderDetails},
		"escrow_orders":                              {fn: (*Server).handleOrders},
		"escrow_orderEvents":                         {fn: (*Server).handleOrderEvents},
		"escrow_checkSolvency":                       {fn: (*Server).handleCheckSolvency},
		"escrow_info":                                {fn: (*Server).handleInfo},
		"token_balanceOf":                            {fn: (*Server).handleBalanceOf},
		"token_allowance":                            {fn: (*Server).handleAllowance},
		"token_approve":                              {auth: true, fn: (*Server).handleApprove},
		"token_mint":                                 {auth: true, fn: (*Server).handleMint},
	}
}

// Handler returns the instrumented HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.cors)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	r.Get("/ws", s.handleEventsWS)
	return otelhttp.NewHandler(r, "flyblox-rpc")
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.log.Info("JSON-RPC server listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+IdempotencyHeader)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// handle decodes one JSON-RPC request, authenticates and throttles the caller
// and dispatches to the method table.
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
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message, Data: err.Error()})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %s", req.Method)})
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method, trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer span.End()
	r = r.WithContext(ctx)
	start := time.Now()

	c := &call{r: r, req: req}
	key := "ip:" + clientID(r)
	if m.auth {
		caller, authErr := s.auth.Authenticate(r)
		if authErr != nil {
			s.log.Debug("rpc authentication failed",
				slog.String("method", req.Method),
				slog.String("authorization", logging.MaskBearer(r.Header.Get("Authorization"))),
				slog.String("reason", authErr.Message))
			s.finish(span, req.Method, start, authErr)
			writeError(w, http.StatusUnauthorized, req.ID, authErr)
			return
		}
		c.caller = caller
		key = "acct:" + caller.Hex()
		span.SetAttributes(attribute.String("rpc.caller", caller.Hex()))
	}
	if !s.limiter.Allow(key) {
		observability.RPC().RecordThrottle("rate_limit")
		rpcErr := &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"}
		s.finish(span, req.Method, start, rpcErr)
		writeError(w, http.StatusTooManyRequests, req.ID, rpcErr)
		return
	}

	result, err := m.fn(s, c)
	if err != nil {
		rpcErr := toRPCError(err)
		s.finish(span, req.Method, start, rpcErr)
		if rpcErr.Code == codeEscrowInternal || rpcErr.Code == codeServerError {
			s.log.Error("rpc method failed", "method", req.Method, "caller", c.caller.Hex(), "error", err)
		} else {
			s.log.Debug("rpc method rejected", "method", req.Method, "caller", c.caller.Hex(), "code", rpcErr.Code, "error", err)
		}
		writeError(w, statusFor(rpcErr), req.ID, rpcErr)
		return
	}
	s.finish(span, req.Method, start, nil)
	writeResult(w, req.ID, result)
}

func (s *Server) finish(span trace.Span, method string, start time.Time, rpcErr *RPCError) {
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.error_code", rpcErr.Code))
	}
	observability.RPC().Observe(method, code, time.Since(start))
}

// statusFor keeps domain failures at 200 and reports request problems as 4xx.
func statusFor(rpcErr *RPCError) int {
	switch rpcErr.Code {
	case codeInvalidParams:
		return http.StatusBadRequest
	case codeIdempotency:
		return http.StatusConflict
	case codeServerError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}
