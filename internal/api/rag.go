package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clerk-agent/clerk/internal/rag"
)

// AskRequest is a grounded question against a document collection.
type AskRequest struct {
	Question   string `json:"question"`
	Collection string `json:"collection"`
}

// AskResponse carries the grounded answer.
type AskResponse struct {
	Answer     string `json:"answer"`
	Collection string `json:"collection"`
}

// handleAsk answers a single question from a document collection.
// POST /v1/ask {"question": "...", "collection": "docs"}
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "grounded answering not configured")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || req.Collection == "" {
		s.errorResponse(w, http.StatusBadRequest, "question and collection are required")
		return
	}

	answer, err := s.answerer.Ask(r.Context(), req.Question, req.Collection, nil)
	if err != nil {
		if errors.Is(err, rag.ErrCollectionNotFound) {
			s.errorResponse(w, http.StatusNotFound, "collection not found")
			return
		}
		s.logger.Error("ask failed", "collection", req.Collection, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "ask failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, AskResponse{Answer: answer, Collection: req.Collection}, s.logger)
}

func (s *Server) handleCollectionList(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "grounded answering not configured")
		return
	}

	collections, err := s.answerer.Store().ListCollections()
	if err != nil {
		s.logger.Error("collection list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list collections")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"collections": collections,
		"count":       len(collections),
	}, s.logger)
}

func (s *Server) handleCollectionDelete(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "grounded answering not configured")
		return
	}

	name := r.PathValue("name")
	if err := s.answerer.Store().DeleteCollection(name); err != nil {
		s.logger.Error("collection delete failed", "collection", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete collection")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DocumentAddRequest ingests one document into a collection.
type DocumentAddRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// handleDocumentAdd chunks, embeds, and stores a document.
// POST /v1/collections/{name}/documents {"source": "billing.html", "content": "..."}
func (s *Server) handleDocumentAdd(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}

	var req DocumentAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "source and content are required")
		return
	}

	name := r.PathValue("name")
	n, err := s.ingester.Ingest(r.Context(), name, req.Source, req.Content)
	if err != nil {
		s.logger.Error("ingest failed", "collection", name, "source", req.Source, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "ingest failed: "+err.Error())
		return
	}

	s.logger.Info("document ingested", "collection", name, "source", req.Source, "chunks", n)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"collection": name,
		"source":     req.Source,
		"chunks":     n,
	}, s.logger)
}
