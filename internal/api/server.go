package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
	"github.com/MikeSquared-Agency/bartleby/internal/policy"
	"github.com/MikeSquared-Agency/bartleby/internal/session"
	"github.com/MikeSquared-Agency/bartleby/internal/store"
)

// Engine processes conversation turns. *session.Engine satisfies it.
type Engine interface {
	ProcessTurn(ctx context.Context, sessionID, raw string) *session.TurnResult
	Sessions() *session.Manager
}

// RecordStore persists saved records and the turn audit log. *store.Store
// satisfies it.
type RecordStore interface {
	SaveRecord(ctx context.Context, sessionID string, rec normalize.CanonicalRecord) (uuid.UUID, error)
	GetSavedRecord(ctx context.Context, id uuid.UUID) (*store.SavedRecord, error)
	ListSavedRecords(ctx context.Context, limit int) ([]store.SavedRecord, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]store.TurnRow, error)
}

// TemplateScores exposes the reliability tracker's current snapshot.
type TemplateScores interface {
	Snapshot() []policy.TemplateStat
}

type Server struct {
	router *chi.Mux
	port   int
	engine Engine
	db     RecordStore    // may be nil
	scores TemplateScores // may be nil
	logger *slog.Logger
}

func NewServer(port int, token string, engine Engine, db RecordStore, scores TemplateScores, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		engine: engine,
		db:     db,
		scores: scores,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/bartleby/status", s.status)
	router.Get("/api/v1/bartleby/templates", s.templateScores)
	router.Get("/api/v1/bartleby/sessions/{sessionID}/history", s.sessionHistory)
	router.Get("/api/v1/bartleby/sessions/{sessionID}/turns", s.sessionTurns)
	router.Get("/api/v1/bartleby/records/saved", s.listSavedRecords)
	router.Get("/api/v1/bartleby/records/saved/{id}", s.getSavedRecord)
	router.Get("/api/v1/bartleby/records/saved/{id}/export", s.exportSavedRecord)

	// Command submission can trigger CRM writes, so it sits behind the token
	// along with everything else that changes state.
	router.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Post("/api/v1/bartleby/command", s.command)
		r.Post("/api/v1/bartleby/records/save", s.saveRecord)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    "bartleby",
		"status":   "ready",
		"sessions": s.engine.Sessions().Len(),
	})
}

func (s *Server) templateScores(w http.ResponseWriter, r *http.Request) {
	if s.scores == nil {
		writeError(w, http.StatusServiceUnavailable, "template scoring not configured")
		return
	}
	stats := s.scores.Snapshot()
	if stats == nil {
		stats = []policy.TemplateStat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": stats,
		"count":     len(stats),
	})
}

// bearerAuth rejects requests that do not carry the configured token. An
// empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
