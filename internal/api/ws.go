package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/clerk-agent/clerk/internal/agent"
	"github.com/clerk-agent/clerk/internal/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to trusted interfaces; origin filtering
		// happens at the proxy.
		return true
	},
}

// wsEnvelope is the frame format on both chat sockets. Step frames
// carry tool progress; token frames carry streamed answer text; a
// turn ends with a result or error frame.
type wsEnvelope struct {
	Type      string           `json:"type"` // step, token, result, error
	SessionID string           `json:"session_id,omitempty"`
	Step      *agent.StepEvent `json:"step,omitempty"`
	Token     string           `json:"token,omitempty"`
	Result    *ChatResponse    `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// handleChatSocket runs agent turns over a WebSocket. Each inbound
// frame is a ChatRequest; the socket streams step events and tokens
// while the turn runs and closes the turn with a result frame.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		if req.Message == "" {
			if err := conn.WriteJSON(wsEnvelope{Type: "error", Error: "message is required"}); err != nil {
				return
			}
			continue
		}
		if req.SessionID == "" {
			if err := conn.WriteJSON(wsEnvelope{Type: "error", Error: "session_id is required"}); err != nil {
				return
			}
			continue
		}

		if err := s.runSocketTurn(r, conn, req.SessionID, &req); err != nil {
			return
		}
	}
}

// runSocketTurn executes one agent turn, writing progress frames to
// the socket. A non-nil return means the socket is unusable.
func (s *Server) runSocketTurn(r *http.Request, conn *websocket.Conn, sessionID string, req *ChatRequest) error {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	// Writes from the events callback and this function are all on
	// this goroutine, so the connection needs no extra locking.
	var writeErr error
	send := func(env wsEnvelope) {
		if writeErr != nil {
			return
		}
		env.SessionID = sessionID
		writeErr = conn.WriteJSON(env)
	}

	result, err := s.loop.Run(r.Context(), &agent.Request{
		SessionID: sessionID,
		Message:   req.Message,
		Model:     req.Model,
		Events: func(ev agent.StepEvent) {
			send(wsEnvelope{Type: "step", Step: &ev})
		},
	})
	if err != nil {
		s.logger.Error("agent turn failed", "session", sessionID, "error", err)
		send(wsEnvelope{Type: "error", Error: err.Error()})
		return writeErr
	}

	send(wsEnvelope{Type: "result", Result: &ChatResponse{
		Response:   result.Content,
		SessionID:  sessionID,
		Model:      result.Model,
		Iterations: result.Iterations,
		Aborted:    result.Aborted,
	}})
	return writeErr
}

// handleAskSocket answers grounded questions over a WebSocket,
// streaming answer tokens as they arrive. Each inbound frame is an
// AskRequest.
func (s *Server) handleAskSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.answerer == nil {
		conn.WriteJSON(wsEnvelope{Type: "error", Error: "grounded answering not configured"})
		return
	}

	for {
		var req AskRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		if req.Question == "" || req.Collection == "" {
			if err := conn.WriteJSON(wsEnvelope{Type: "error", Error: "question and collection are required"}); err != nil {
				return
			}
			continue
		}

		var writeErr error
		answer, err := s.answerer.Ask(r.Context(), req.Question, req.Collection, func(token string) {
			if writeErr != nil {
				return
			}
			writeErr = conn.WriteJSON(wsEnvelope{Type: "token", Token: token})
		})
		if writeErr != nil {
			return
		}
		if err != nil {
			msg := "ask failed: " + err.Error()
			if errors.Is(err, rag.ErrCollectionNotFound) {
				msg = "collection not found"
			}
			if err := conn.WriteJSON(wsEnvelope{Type: "error", Error: msg}); err != nil {
				return
			}
			continue
		}

		env := wsEnvelope{Type: "result", Result: &ChatResponse{Response: answer}}
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}
