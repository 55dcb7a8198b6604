// Package api implements the HTTP and WebSocket API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clerk-agent/clerk/internal/agent"
	"github.com/clerk-agent/clerk/internal/buildinfo"
	"github.com/clerk-agent/clerk/internal/checkpoint"
	"github.com/clerk-agent/clerk/internal/connwatch"
	"github.com/clerk-agent/clerk/internal/mcp"
	"github.com/clerk-agent/clerk/internal/provider"
	"github.com/clerk-agent/clerk/internal/rag"
	"github.com/clerk-agent/clerk/internal/transcript"
	"github.com/clerk-agent/clerk/internal/web"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	loop        *agent.Loop
	manager     *mcp.Manager
	providers   *provider.Store
	transcripts *transcript.Store
	checkpoints *checkpoint.Store
	answerer    *rag.Answerer
	ingester    *rag.Ingester
	health      *connwatch.Manager
	logger      *slog.Logger
	server      *http.Server

	// One turn at a time per session. Checkpoint sequences assume a
	// single writer per session id.
	sessionMu sync.Mutex
	sessions  map[string]*sync.Mutex
}

// NewServer creates an API server. The answerer and ingester are
// optional; their endpoints report unavailable when nil.
func NewServer(address string, port int, loop *agent.Loop, manager *mcp.Manager,
	providers *provider.Store, transcripts *transcript.Store, checkpoints *checkpoint.Store,
	logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:     address,
		port:        port,
		loop:        loop,
		manager:     manager,
		providers:   providers,
		transcripts: transcripts,
		checkpoints: checkpoints,
		logger:      logger,
		sessions:    make(map[string]*sync.Mutex),
	}
}

// SetAnswerer configures grounded answering endpoints.
func (s *Server) SetAnswerer(a *rag.Answerer) {
	s.answerer = a
}

// SetIngester configures document ingestion endpoints.
func (s *Server) SetIngester(ing *rag.Ingester) {
	s.ingester = ing
}

// SetHealthWatcher includes backend connection status in the health
// endpoint.
func (s *Server) SetHealthWatcher(m *connwatch.Manager) {
	s.health = m
}

// Handler builds the route table. Split out from Start so tests can
// drive the mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /ws/chat", s.handleChatSocket)

	// Grounded answering
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("GET /ws/ask", s.handleAskSocket)

	// Sessions
	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("GET /v1/sessions/{id}/state", s.handleSessionState)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)

	// Tool providers
	mux.HandleFunc("GET /v1/providers", s.handleProviderList)
	mux.HandleFunc("POST /v1/providers", s.handleProviderCreate)
	mux.HandleFunc("GET /v1/providers/{id}", s.handleProviderGet)
	mux.HandleFunc("PUT /v1/providers/{id}", s.handleProviderUpdate)
	mux.HandleFunc("DELETE /v1/providers/{id}", s.handleProviderDelete)
	mux.HandleFunc("POST /v1/providers/{id}/enable", s.handleProviderEnable)
	mux.HandleFunc("POST /v1/providers/{id}/disable", s.handleProviderDisable)
	mux.HandleFunc("POST /v1/providers/reload", s.handleProviderReload)
	mux.HandleFunc("POST /v1/providers/test", s.handleProviderTest)
	mux.HandleFunc("GET /v1/providers/status", s.handleProviderStatus)
	mux.HandleFunc("GET /v1/tools", s.handleToolList)

	// Document collections
	mux.HandleFunc("GET /v1/collections", s.handleCollectionList)
	mux.HandleFunc("DELETE /v1/collections/{name}", s.handleCollectionDelete)
	mux.HandleFunc("POST /v1/collections/{name}/documents", s.handleDocumentAdd)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Chat web UI
	web.RegisterRoutes(mux)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "clerk",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if s.health != nil {
		body["services"] = s.health.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

// sessionLock returns the mutex serializing turns for one session.
func (s *Server) sessionLock(sessionID string) *sync.Mutex {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	mu, ok := s.sessions[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.sessions[sessionID] = mu
	}
	return mu
}

// ChatRequest is a chat turn request.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ChatResponse is a completed chat turn.
type ChatResponse struct {
	Response   string `json:"response"`
	SessionID  string `json:"session_id"`
	Model      string `json:"model"`
	Iterations int    `json:"iterations"`
	Aborted    bool   `json:"aborted,omitempty"`
}

// handleChat runs one agent turn and returns the answer.
// POST /v1/chat {"message": "how many contacts do we have?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	// Session identity belongs to the client. The server never mints
	// one, so a retry or reconnect always lands in the same session.
	if req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "session_id is required")
		return
	}
	sessionID := req.SessionID

	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	result, err := s.loop.Run(r.Context(), &agent.Request{
		SessionID: sessionID,
		Message:   req.Message,
		Model:     req.Model,
	})
	if err != nil {
		s.logger.Error("agent turn failed", "session", sessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:   result.Content,
		SessionID:  sessionID,
		Model:      result.Model,
		Iterations: result.Iterations,
		Aborted:    result.Aborted,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
