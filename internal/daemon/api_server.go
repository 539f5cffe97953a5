package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sortline/internal/api"
	"sortline/internal/config"
	"sortline/internal/logging"
)

// apiServer exposes the daemon over HTTP: status and metrics reads, the
// Prometheus registry, and operator control actions. Control actions run
// through the security watchdog so repeated bad credentials lock the source
// out.
type apiServer struct {
	bind         string
	token        string
	requireToken bool
	logger       *slog.Logger
	daemon       *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if !cfg.API.Enabled {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:         bind,
		token:        cfg.API.Token,
		requireToken: cfg.API.RequireToken,
		logger:       logging.NewComponentLogger(logger, "api-server"),
		daemon:       d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/metrics", srv.handleMetrics)
	mux.HandleFunc("/api/alerts", srv.handleAlerts)
	mux.HandleFunc("/api/recovery", srv.handleRecovery)
	mux.HandleFunc("/api/classifications", srv.handleClassifications)
	mux.HandleFunc("/api/events", srv.handleEvents)
	mux.HandleFunc("/api/pause", srv.handleControl("pause", d.orch.Pause))
	mux.HandleFunc("/api/resume", srv.handleControl("resume", d.orch.Resume))
	mux.HandleFunc("/api/maintenance", srv.handleControl("maintenance", d.orch.EnterMaintenance))
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.MetricsResponse{
		Pipeline: s.daemon.counters.Snapshot(),
		System:   s.daemon.sampler.Summary(),
	})
}

func (s *apiServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.AlertsResponse{
		Alerts: s.daemon.sampler.Alerts(limitParam(r, 50)),
	})
}

func (s *apiServer) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecoveryResponse{
		Attempts: s.daemon.engine.History(limitParam(r, 50)),
	})
}

func (s *apiServer) handleClassifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	records, err := s.daemon.db.RecentClassifications(r.Context(), limitParam(r, 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClassificationsResponse{Classifications: records})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events, err := s.daemon.db.RecentEvents(r.Context(), limitParam(r, 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventsResponse{Events: events})
}

// handleControl wraps one state-changing action behind the access check.
func (s *apiServer) handleControl(name string, action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.authorize(r); err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err := action(); err != nil {
			s.writeJSON(w, http.StatusConflict, api.ControlResponse{
				OK:      false,
				State:   string(s.daemon.orch.State()),
				Message: err.Error(),
			})
			return
		}

		state := string(s.daemon.orch.State())
		s.logger.Info("control action applied",
			logging.String(logging.FieldEventType, "control_"+name),
			logging.String(logging.FieldState, state),
			logging.String("source", remoteHost(r)),
		)
		eventCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		_ = s.daemon.db.LogEvent(eventCtx, "control_"+name, "api-server", "info",
			fmt.Sprintf("operator action %s from %s", name, remoteHost(r)))
		cancel()

		s.writeJSON(w, http.StatusOK, api.ControlResponse{OK: true, State: state})
	}
}

// authorize runs the request through the watchdog's lockout tracking. A
// request with bad credentials counts against its source even when no token
// is configured but one is required.
func (s *apiServer) authorize(r *http.Request) error {
	return s.daemon.watchdog.Authorize(remoteHost(r), s.tokenOK(r))
}

func (s *apiServer) tokenOK(r *http.Request) bool {
	if s.token == "" {
		return !s.requireToken
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	presented := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) == 1
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func limitParam(r *http.Request, fallback int) int {
	value := strings.TrimSpace(r.URL.Query().Get("limit"))
	if value == "" {
		return fallback
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
