// Package api serves the read-only HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"warmupd/pkg/types"
)

type Sessions interface {
	Snapshot() []types.Session
}

type Warmup interface {
	Status() types.WarmupStatus
}

type History interface {
	History() []types.HistoryRecord
}

type Templates interface {
	List() []string
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Connections interface {
	Count() int
}

// Deps are the read models behind the API. Health may be nil.
type Deps struct {
	Sessions    Sessions
	Warmup      Warmup
	History     History
	Templates   Templates
	Health      HealthChecker
	Connections Connections
	Logger      *zap.Logger
}

type Server struct {
	deps      Deps
	router    *http.ServeMux
	startedAt time.Time
	logger    *zap.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		deps:      deps,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
		logger:    deps.Logger.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.wrap(s.healthCheck))
	s.router.Handle("/api/sessions", s.wrap(s.listSessions))
	s.router.Handle("/api/warmup/status", s.wrap(s.warmupStatus))
	s.router.Handle("/api/warmup/history", s.wrap(s.warmupHistory))
	s.router.Handle("/api/templates", s.wrap(s.listTemplates))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// wrap applies CORS and JSON headers and restricts handlers to GET
func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	return s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})))
}

type SessionsResponse struct {
	Sessions []types.Session `json:"sessions"`
}

type HistoryResponse struct {
	Messages []types.HistoryRecord `json:"messages"`
}

type TemplatesResponse struct {
	Templates []string `json:"templates"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	Uptime      string    `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.encode(w, SessionsResponse{Sessions: s.deps.Sessions.Snapshot()})
}

func (s *Server) warmupStatus(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.deps.Warmup.Status())
}

// GET /api/warmup/history?limit=N returns the newest N records, oldest first
func (s *Server) warmupHistory(w http.ResponseWriter, r *http.Request) {
	history := s.deps.History.History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if limit < len(history) {
			history = history[len(history)-limit:]
		}
	}
	if history == nil {
		history = []types.HistoryRecord{}
	}
	s.encode(w, HistoryResponse{Messages: history})
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates := s.deps.Templates.List()
	if templates == nil {
		templates = []string{}
	}
	s.encode(w, TemplatesResponse{Templates: templates})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus := "healthy", "disabled"
	if s.deps.Health != nil {
		dbStatus = "healthy"
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.Count()
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.encode(w, resp)
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
