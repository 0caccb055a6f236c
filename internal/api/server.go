package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/schedule"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/config"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// ChannelStatus exposes the push channel's state for introspection.
type ChannelStatus interface {
	State() models.ConnectionState
	Attempts() int
}

// WindowStatus exposes the afternoon window's state for introspection.
type WindowStatus interface {
	State() schedule.WindowState
}

// Refresher requests an asynchronous refresh for a role.
type Refresher interface {
	Request(role models.Role) bool
}

// Notifier receives host-environment transitions forwarded by the display
// layer.
type Notifier interface {
	Notify(ctx context.Context, ev models.LifecycleEvent)
}

// Server is the local status API: health, scheduler introspection and a
// manual refresh hook for operators.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	version string
	ref     *clock.Reference
	store   *store.Store
	reg     *registry.Registry
	channel   ChannelStatus
	window    WindowStatus
	coord     Refresher
	lifecycle Notifier
}

// NewServer creates the status API server; channel, window and lifecycle may
// be nil when those subsystems are disabled.
func NewServer(
	cfg *config.Config,
	version string,
	ref *clock.Reference,
	st *store.Store,
	reg *registry.Registry,
	channel ChannelStatus,
	window WindowStatus,
	coord Refresher,
	lc Notifier,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		ref:       ref,
		store:     st,
		reg:       reg,
		channel:   channel,
		window:    window,
		coord:     coord,
		lifecycle: lc,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Server.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/status", s.handleStatus).Methods("GET")
	apiV1.HandleFunc("/refresh/{role}", s.handleRefresh).Methods("POST")
	apiV1.HandleFunc("/notify/{event}", s.handleNotify).Methods("POST")
}

// Start runs the HTTP server; it blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting status API")

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		if strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("port %d is already in use", s.cfg.Server.Port)
		}
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type roleStatus struct {
	Date       string  `json:"date,omitempty"`
	Expected   string  `json:"expected"`
	Rows       int     `json:"rows"`
	AgeSeconds float64 `json:"age_seconds,omitempty"`
	Stale      bool    `json:"stale"`
}

type statusResponse struct {
	Version  string                `json:"version"`
	Date     string                `json:"date"`
	Timezone string                `json:"timezone"`
	Roles    map[string]roleStatus `json:"roles"`
	Channel  string                `json:"channel"`
	Attempts int                   `json:"reconnect_attempts"`
	Window   string                `json:"afternoon_window"`
	Timers   int                   `json:"tracked_timers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:  s.version,
		Date:     s.ref.Date(),
		Timezone: s.ref.Location().String(),
		Roles:    make(map[string]roleStatus),
		Channel:  "disabled",
		Window:   "disabled",
		Timers:   len(s.reg.Timers()),
	}
	if s.channel != nil {
		resp.Channel = s.channel.State().String()
		resp.Attempts = s.channel.Attempts()
	}
	if s.window != nil {
		resp.Window = s.window.State().String()
	}

	for _, role := range models.Roles() {
		rs := roleStatus{
			Expected: s.ref.DateFor(role),
			Stale:    s.store.IsStale(role),
		}
		if snap := s.store.Get(role, ""); snap != nil {
			rs.Date = snap.Date
			rs.Rows = len(snap.Rows)
		}
		if age, ok := s.store.Age(role); ok {
			rs.AgeSeconds = age.Seconds()
		}
		resp.Roles[string(role)] = rs
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	role := models.Role(mux.Vars(r)["role"])
	if !role.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
		return
	}
	accepted := s.coord.Request(role)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"role":     role,
		"accepted": accepted,
	})
}

// handleNotify lets the display layer forward host transitions only it can
// observe: the surface became visible, its window took focus, the network
// came back. Each one triggers the out-of-band freshness check.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["event"]
	ev, ok := models.ParseLifecycleEvent(name)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown lifecycle event %q", name))
		return
	}
	if s.lifecycle == nil {
		s.writeError(w, http.StatusServiceUnavailable, "lifecycle coordinator disabled")
		return
	}
	s.lifecycle.Notify(r.Context(), ev)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"event": string(ev)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithField("panic", rec).Error("Handler panicked")
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Server.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(next)
}
