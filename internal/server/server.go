// Package server exposes the ingest and insights operations over
// a local REST API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amplihq/usagelens/internal/config"
	"github.com/amplihq/usagelens/internal/ingest"
	"github.com/amplihq/usagelens/internal/insights"
	"github.com/amplihq/usagelens/internal/store"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server for the ingest and insights API.
type Server struct {
	mu      sync.RWMutex
	cfg     config.Config
	store   *store.Store
	pipe    *ingest.Pipeline
	engine  *insights.Engine
	mux     *http.ServeMux
	httpSrv *http.Server
	cron    *cron.Cron
	version VersionInfo
}

// New creates a new Server.
func New(
	cfg config.Config, st *store.Store, pipe *ingest.Pipeline,
	engine *insights.Engine, opts ...Option,
) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		pipe:   pipe,
		engine: engine,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

func (s *Server) routes() {
	s.mux.Handle("POST /api/v1/sessions", s.withTimeout(s.handleIngestSession))
	s.mux.Handle("POST /api/v1/sessions/correct", s.withTimeout(s.handleCorrectSession))

	s.mux.Handle("GET /api/v1/insights", s.withTimeout(s.handleGetInsights))
	s.mux.Handle("GET /api/v1/tools", s.withTimeout(s.handleGetTools))
	s.mux.Handle("GET /api/v1/growth", s.withTimeout(s.handleGetGrowth))

	s.mux.Handle("GET /api/v1/tips", s.withTimeout(s.handleListTips))
	s.mux.Handle("POST /api/v1/tips/{id}/feedback", s.withTimeout(s.handleTipFeedback))

	s.mux.Handle("GET /api/v1/healthz", s.withTimeout(s.handleHealthz))
	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server and, when configured, the
// scheduled reconciliation sweep.
func (s *Server) ListenAndServe() error {
	if err := s.startReconciler(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and stops the
// reconciliation schedule.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	c := s.cron
	s.mu.RUnlock()
	if c != nil {
		c.Stop()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// startReconciler schedules the periodic window verification.
func (s *Server) startReconciler() error {
	if s.cfg.ReconcileSchedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.cfg.ReconcileSchedule, s.reconcileAll)
	if err != nil {
		return fmt.Errorf("scheduling reconciliation %q: %w",
			s.cfg.ReconcileSchedule, err)
	}
	c.Start()
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

// reconcileAll refolds every subject's windows and logs any
// drift. Drift is reported, never repaired in place.
func (s *Server) reconcileAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	subjects, err := s.pipe.Subjects(ctx)
	if err != nil {
		log.Printf("reconcile: listing subjects: %v", err)
		return
	}
	for _, subject := range subjects {
		drifts, err := s.pipe.Reconcile(ctx, subject)
		if err != nil {
			log.Printf("reconcile %s: %v", subject, err)
			continue
		}
		for _, d := range drifts {
			log.Printf(
				"reconcile %s: window %s field %s stored %v folded %v",
				d.SubjectID, d.Key, d.Field, d.Stored, d.Folded,
			)
		}
	}
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
