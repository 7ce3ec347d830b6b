package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/FairForge/roomd/internal/auth"
	"github.com/FairForge/roomd/internal/ha"
	"github.com/FairForge/roomd/internal/ledger"
	"github.com/FairForge/roomd/internal/replication"
	"github.com/FairForge/roomd/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Options wires a Server to its collaborators
type Options struct {
	Addr       string
	Ledger     *ledger.Ledger
	Role       *ha.RoleState           // defaults to a fixed primary
	Replicator *replication.Replicator // nil disables replication
	Monitor    *ha.Monitor             // backup only
	Tokens     *auth.TokenService      // nil disables the admin api
	Metrics    *Metrics
	Limiter    *RateLimiter // nil disables rate limiting
	Logger     *zap.Logger
}

// Server is the allocation endpoint of one roomd process
type Server struct {
	ledger     *ledger.Ledger
	role       *ha.RoleState
	replicator *replication.Replicator
	monitor    *ha.Monitor
	tokens     *auth.TokenService
	metrics    *Metrics
	limiter    *RateLimiter
	validator  *validation.RequestValidator
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server

	accepting atomic.Bool
	startTime time.Time
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Role == nil {
		opts.Role = ha.NewRoleState(ha.RolePrimary)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	s := &Server{
		ledger:     opts.Ledger,
		role:       opts.Role,
		replicator: opts.Replicator,
		monitor:    opts.Monitor,
		tokens:     opts.Tokens,
		metrics:    opts.Metrics,
		limiter:    opts.Limiter,
		validator:  validation.NewRequestValidator(reservationRules),
		logger:     opts.Logger,
		router:     mux.NewRouter(),
		startTime:  time.Now(),
	}
	s.accepting.Store(true)

	s.metrics.WatchPool(s.ledger.Pool)
	s.metrics.WatchRole(s.role)
	if s.replicator.Enabled() {
		s.replicator.SetObserver(s.metrics.ObserveReplication)
		s.ledger.SetPublisher(s.replicator.Replicate)
	}
	if s.monitor != nil {
		s.monitor.Subscribe(s.metrics.ObserveTransition)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc(ReservationsPath, s.handleReserve).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Operator endpoints live on a chi router behind JWT auth
	s.router.PathPrefix("/admin").Handler(s.adminRoutes())

	s.router.Use(s.loggingMiddleware)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetAccepting switches between accepting and idle
func (s *Server) SetAccepting(accepting bool) {
	s.accepting.Store(accepting)
}

// Accepting reports whether the operator left the server accepting requests
func (s *Server) Accepting() bool {
	return s.accepting.Load()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"role":      s.role.Load().String(),
		"accepting": s.accepting.Load(),
		"uptime":    time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) Start() error {
	s.logger.Info("allocation server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on l
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("allocation server listening", zap.String("addr", l.Addr().String()))
	return s.httpServer.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-allocation error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, ErrorResponse{Error: msg})
}
