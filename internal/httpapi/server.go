// Package httpapi is the HTTP Facade of spec.md §2.9 and §6: status,
// config, image listing and full-size JPEG bytes (no thumbnails are
// generated), and manual capture. A collaborator
// per spec.md §1 — the HTML dashboard, its session-cookie auth, and
// static assets are intentionally out of scope; only the JSON `/api/*`
// surface lives here.
package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/capture"
	"github.com/ridgeline/snapshotd/internal/cleanup"
	"github.com/ridgeline/snapshotd/internal/gpio"
	"github.com/ridgeline/snapshotd/internal/health"
	"github.com/ridgeline/snapshotd/internal/imagestore"
	"github.com/ridgeline/snapshotd/internal/settings"
	"github.com/ridgeline/snapshotd/internal/uploader"
)

// Deps bundles every collaborator the facade reads from or writes to.
type Deps struct {
	Settings *settings.Store
	Store    *imagestore.Store
	Capture  *capture.Service
	GPIO     *gpio.Loop
	Health   *health.Monitor
	Cleanup  *cleanup.Worker
	Prober   *uploader.Prober
	Logger   *zap.Logger
	StartedAt time.Time
}

// Server wraps an http.Server over the routed handlers, following the
// teacher's web.Server lifecycle shape (Start/Stop, graceful
// shutdown, logging middleware).
type Server struct {
	deps   Deps
	logger *zap.Logger
	http   *http.Server
	hub    *triggerHub
}

// New builds a Server bound to bindAddr (host:port).
func New(deps Deps, bindAddr string) *Server {
	s := &Server{deps: deps, logger: deps.Logger, hub: newTriggerHub(deps.Logger)}

	router := mux.NewRouter()
	h := &handlers{deps: deps, hub: s.hub}

	router.HandleFunc("/api/status", h.status).Methods(http.MethodGet)
	router.HandleFunc("/api/stats", h.stats).Methods(http.MethodGet)
	router.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/api/images", h.listImages).Methods(http.MethodGet)
	router.HandleFunc("/api/images/by-date", h.imagesByDate).Methods(http.MethodGet)
	router.HandleFunc("/api/images/{filename}", h.imageBytes).Methods(http.MethodGet)
	router.HandleFunc("/api/capture/{source}", h.captureNow).Methods(http.MethodPost)
	router.HandleFunc("/api/cleanup/run", h.cleanupRun).Methods(http.MethodPost)
	router.HandleFunc("/api/gpio/status", h.gpioStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/gpio/stream", h.gpioStream).Methods(http.MethodGet)
	router.HandleFunc("/api/config/get", h.configGet).Methods(http.MethodGet)
	router.HandleFunc("/api/config/update", h.configUpdate).Methods(http.MethodPost)
	router.HandleFunc("/api/config/reload", h.configReload).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         bindAddr,
		Handler:      s.withMiddleware(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// withMiddleware adds CORS and access logging, mirroring the teacher's
// addMiddleware/loggingResponseWriter shape. Session-cookie auth is an
// explicit seam (spec.md §1/§9) left for the out-of-scope dashboard
// wrapper; it is not implemented here.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lw, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the wrapped writer so the websocket upgrade
// at /api/gpio/stream works behind the logging middleware.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Start binds the listening socket synchronously, so a bind failure
// (port already in use) surfaces to the caller before Start returns,
// then serves in the background.
func (s *Server) Start() error {
	s.logger.Info("starting http facade", zap.String("addr", s.http.Addr))
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http facade error", zap.Error(err))
		}
	}()
	return nil
}

// Publish forwards a trigger event to connected dashboards (best
// effort, spec.md §2.9's "collaborator" live surface).
func (s *Server) Publish(ev gpio.TriggerEvent) {
	s.hub.broadcast(ev)
}

// Stop gracefully shuts down the HTTP server within the given context.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http facade")
	s.hub.closeAll()
	return s.http.Shutdown(ctx)
}

func notFound(w http.ResponseWriter) {
	http.Error(w, "not found", http.StatusNotFound)
}

func badRequest(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusBadRequest)
}

func serverError(w http.ResponseWriter, err error) {
	http.Error(w, fmt.Sprintf("internal error: %v", err), http.StatusInternalServerError)
}
