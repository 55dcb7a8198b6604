package api

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.transcripts.ListSessions()
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, s.logger)
}

// handleSessionGet returns a session's conversation history. With
// ?format=html the markdown content is rendered for display.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	messages, err := s.transcripts.History(id)
	if err != nil {
		s.logger.Error("session history failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	if r.URL.Query().Get("format") == "html" {
		html, err := renderHistoryHTML(messages)
		if err != nil {
			s.logger.Error("history render failed", "session", id, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "failed to render history")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   messages,
		"count":      len(messages),
	}, s.logger)
}

// handleSessionState returns the session's checkpoint trail: one
// entry per saved step, in append order. ?after=N resumes a listing
// past the given sequence number.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var afterSeq int64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		afterSeq = parsed
	}

	checkpoints, err := s.checkpoints.List(id, afterSeq, 0)
	if err != nil {
		s.logger.Error("session state failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load session state")
		return
	}

	type entry struct {
		Seq          int64  `json:"seq"`
		CreatedAt    string `json:"created_at"`
		Phase        string `json:"phase"`
		Iterations   int    `json:"iterations"`
		MessageCount int    `json:"message_count"`
		ByteSize     int64  `json:"byte_size"`
	}
	entries := make([]entry, len(checkpoints))
	for i, cp := range checkpoints {
		entries[i] = entry{
			Seq:          cp.Seq,
			CreatedAt:    cp.CreatedAt.Format(time.RFC3339Nano),
			Phase:        cp.State.Phase,
			Iterations:   cp.State.Iterations,
			MessageCount: cp.MessageCount,
			ByteSize:     cp.ByteSize,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id":  id,
		"checkpoints": entries,
		"count":       len(entries),
	}, s.logger)
}

// handleSessionDelete removes a session's history and saved state.
// Deleting an unknown session succeeds.
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.transcripts.Delete(id); err != nil {
		s.logger.Error("session delete failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if err := s.checkpoints.DeleteSession(id); err != nil {
		s.logger.Error("checkpoint delete failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session state")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
