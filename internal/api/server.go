// Package api exposes the storage and integrity surface over HTTP for
// local tooling and the companion UI.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/middleware"
	"github.com/alarmvault/alarmvault/internal/monitor"
	"github.com/alarmvault/alarmvault/internal/scheduler"
	"github.com/alarmvault/alarmvault/internal/securestore"
	"github.com/alarmvault/alarmvault/internal/tamperlog"
)

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	addr       string
	log        *zap.Logger
	limiter    *middleware.RateLimiter

	store   *securestore.Store
	mon     *monitor.Monitor
	chain   *tamperlog.Chain   // optional
	sweeper *scheduler.Sweeper // optional
}

// Options carries the optional collaborators a server can surface
type Options struct {
	Chain     *tamperlog.Chain
	Sweeper   *scheduler.Sweeper
	RateLimit *middleware.RateLimitConfig
}

// NewServer wires the router and middleware chain around the given
// store and monitor.
func NewServer(addr string, store *securestore.Store, mon *monitor.Monitor, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		addr:    addr,
		log:     log,
		store:   store,
		mon:     mon,
		chain:   opts.Chain,
		sweeper: opts.Sweeper,
		limiter: middleware.NewRateLimiter(opts.RateLimit),
	}

	r := mux.NewRouter()
	s.registerRoutes(r)

	var handler http.Handler = r
	handler = s.limiter.Middleware(handler)
	handler = middleware.RequestLogging(log)(handler)
	handler = middleware.Recover(log)(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/integrity/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/integrity/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/integrity/events", s.handleTamperEvents).Methods(http.MethodGet)
	api.HandleFunc("/integrity/check", s.handleCheck).Methods(http.MethodPost)

	api.HandleFunc("/alarms", s.handleGetAlarms).Methods(http.MethodGet)
	api.HandleFunc("/alarms", s.handlePutAlarms).Methods(http.MethodPut)
	api.HandleFunc("/alarms/{id}", s.handleDeleteAlarm).Methods(http.MethodDelete)

	api.HandleFunc("/events", s.handleAuditLog).Methods(http.MethodGet)
	api.HandleFunc("/data", s.handleClearData).Methods(http.MethodDelete)
}

// Start begins serving. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.Info("api server listening", zap.String("addr", s.addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the limiter sweep
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the full middleware-wrapped handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.addr
}
