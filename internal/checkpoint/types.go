// Package checkpoint provides durable snapshots of agent loop state,
// appended once per step so an interrupted turn can be resumed from
// the last stored position.
package checkpoint

import (
	"time"

	"github.com/clerk-agent/clerk/internal/llm"
)

// Phase names stored in checkpoint state. They mirror the agent loop's
// positions between persistence points.
const (
	PhaseAwaitingModel       = "awaiting_model"
	PhaseAwaitingToolResults = "awaiting_tool_results"
	PhaseDone                = "done"
	PhaseAborted             = "aborted"
)

// State holds the restorable snapshot of one agent turn.
type State struct {
	// Messages is the full conversation context at this point,
	// including system prompt, tool calls, and tool results.
	Messages []llm.Message `json:"messages"`

	// Iterations counts model round-trips consumed so far this turn.
	Iterations int `json:"iterations"`

	// Phase is where the loop stood when the snapshot was taken.
	Phase string `json:"phase"`
}

// Checkpoint is one appended snapshot within a session.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`

	State *State `json:"state"`

	// Metadata
	ByteSize     int64 `json:"byte_size"`     // Compressed size
	MessageCount int   `json:"message_count"` // Messages captured
}
