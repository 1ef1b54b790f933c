package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/bartleby/internal/intent"
	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
	"github.com/MikeSquared-Agency/bartleby/internal/present"
	"github.com/MikeSquared-Agency/bartleby/internal/store"
)

// CommandRequest is the payload for command submission. An empty session id
// starts a fresh conversation; the response carries the id to reuse.
type CommandRequest struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
}

// SaveRecordRequest names the session whose currently shown record should
// be pinned.
type SaveRecordRequest struct {
	SessionID string `json:"session_id"`
}

// command handles POST /api/v1/bartleby/command
func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	result := s.engine.ProcessTurn(r.Context(), req.SessionID, req.Command)
	writeJSON(w, http.StatusOK, result)
}

// sessionHistory handles GET /api/v1/bartleby/sessions/{sessionID}/history
//
// History lives in memory with the session, so an expired or unknown id is
// a 404 rather than an empty list.
func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.engine.Sessions().Peek(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	entries := sess.History()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"state":      sess.State(),
		"history":    entries,
		"count":      len(entries),
	})
}

// sessionTurns handles GET /api/v1/bartleby/sessions/{sessionID}/turns
func (s *Server) sessionTurns(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	turns, err := s.db.ListTurns(r.Context(), sessionID, queryLimit(r, 50))
	if err != nil {
		s.logger.Error("list turns failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load turns")
		return
	}
	if turns == nil {
		turns = []store.TurnRow{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
		"count":      len(turns),
	})
}

// saveRecord handles POST /api/v1/bartleby/records/save
func (s *Server) saveRecord(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	var req SaveRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, ok := s.engine.Sessions().Peek(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	rec, ok := sess.Selected()
	if !ok {
		writeError(w, http.StatusConflict, "no record is currently shown for this session")
		return
	}

	id, err := s.db.SaveRecord(r.Context(), req.SessionID, rec)
	if err != nil {
		s.logger.Error("save record failed", "session_id", req.SessionID, "record_id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save record")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           id,
		"record_id":    rec.ID,
		"entity_type":  rec.EntityType,
		"display_name": rec.DisplayName,
	})
}

// listSavedRecords handles GET /api/v1/bartleby/records/saved
func (s *Server) listSavedRecords(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	records, err := s.db.ListSavedRecords(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.logger.Error("list saved records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load records")
		return
	}
	if records == nil {
		records = []store.SavedRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// getSavedRecord handles GET /api/v1/bartleby/records/saved/{id}
func (s *Server) getSavedRecord(w http.ResponseWriter, r *http.Request) {
	sr := s.loadSavedRecord(w, r)
	if sr == nil {
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

// exportSavedRecord handles GET /api/v1/bartleby/records/saved/{id}/export
// and renders the record as a plain-text download.
func (s *Server) exportSavedRecord(w http.ResponseWriter, r *http.Request) {
	sr := s.loadSavedRecord(w, r)
	if sr == nil {
		return
	}

	rec := normalize.CanonicalRecord{
		ID:          sr.RecordID,
		EntityType:  intent.ParseEntity(sr.EntityType),
		DisplayName: sr.DisplayName,
		Fields:      sr.Fields,
	}
	text := present.Export(rec, time.Now())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="crm_record.txt"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// loadSavedRecord resolves the {id} route param and fetches the row. It
// writes the error response itself, so callers just bail on nil.
func (s *Server) loadSavedRecord(w http.ResponseWriter, r *http.Request) *store.SavedRecord {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return nil
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return nil
	}

	sr, err := s.db.GetSavedRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "saved record not found")
			return nil
		}
		s.logger.Error("load saved record failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load record")
		return nil
	}
	return sr
}

// queryLimit reads the limit query parameter, falling back when absent or
// unusable.
func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
