// Package api exposes envoy's HTTP surface: health, status, a synchronous
// message endpoint, and conversation inspection.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/engine"
	"github.com/MikeSquared-Agency/envoy/internal/session"
	"github.com/MikeSquared-Agency/envoy/internal/watchdog"
)

// SweepReporter exposes the most recent watchdog sweep for the status
// endpoint. Nil when the watchdog is not running.
type SweepReporter interface {
	LastReport() watchdog.Report
}

type Server struct {
	router  *chi.Mux
	port    int
	engine  *engine.Engine
	store   session.Store
	reports SweepReporter
	logger  *slog.Logger
}

func NewServer(port int, apiToken string, eng *engine.Engine, store session.Store, reports SweepReporter, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		engine:  eng,
		store:   store,
		reports: reports,
		logger:  logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/envoy/status", s.status)

	router.Route("/api/v1/envoy", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/message", s.message)
		r.Get("/conversations/{id}", s.conversation)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware rejects requests without the configured bearer
// token. An empty token disables the check, for local runs.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				auth := r.Header.Get("Authorization")
				if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":  "envoy",
		"status": "active",
	}
	if s.reports != nil {
		body["last_sweep"] = s.reports.LastReport()
	}
	writeJSON(w, http.StatusOK, body)
}

type messageRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type messageResponse struct {
	Reply         string                `json:"reply"`
	Notifications []engine.Notification `json:"notifications,omitempty"`
}

// message runs one conversation turn synchronously. Same semantics as the
// NATS path; useful for scripting and local testing without a gateway.
func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid JSON: %v"}`, err), http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
		return
	}

	reply, err := s.engine.HandleMessage(r.Context(), req.UserID, req.ChannelID, req.Text)
	if err != nil {
		s.logger.Error("message turn failed", "user", req.UserID, "error", err)
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Reply:         reply.Text,
		Notifications: reply.Notify,
	})
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid conversation id"}`, http.StatusBadRequest)
		return
	}

	conv, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
			return
		}
		s.logger.Error("conversation lookup failed", "id", id, "error", err)
		http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
