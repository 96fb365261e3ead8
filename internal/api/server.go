// Package api exposes a read-only HTTP interface over the dispatch queue:
// stats, failed e-mails, health, and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/busybox42/postbox/internal/metrics"
	"github.com/busybox42/postbox/internal/store"
)

// Server serves the operator API.
type Server struct {
	store      *store.Store
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server. Metrics may be nil; /metrics is only
// registered when instrumentation is attached.
func NewServer(listen string, st *store.Store, m *metrics.Metrics) *Server {
	s := &Server{
		store:   st,
		metrics: m,
		logger:  slog.Default().With("component", "api"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/queue/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/api/queue/failed", s.handleFailed).Methods(http.MethodGet)
	if m != nil {
		router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// failedEmail is the wire form of a failed record; body and variables stay
// private to the database.
type failedEmail struct {
	ID         int64      `json:"id"`
	Label      string     `json:"label,omitempty"`
	Recipients string     `json:"recipients"`
	Subject    string     `json:"subject"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	var id int64
	if raw := r.URL.Query().Get("id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
			return
		}
		id = parsed
	}

	emails, err := s.store.GetFailed(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]failedEmail, 0, len(emails))
	for _, email := range emails {
		out = append(out, failedEmail{
			ID:         email.ID,
			Label:      email.Label,
			Recipients: email.RecipientsString(),
			Subject:    email.Subject,
			Attempts:   email.Attempts,
			Error:      email.Error,
			CreatedAt:  email.CreatedAt,
			UpdatedAt:  email.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("API request failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
