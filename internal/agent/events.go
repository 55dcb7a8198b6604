package agent

// StepKind identifies one observable step within an agent turn.
type StepKind string

const (
	// StepToolCall is emitted when the model requests a tool invocation.
	StepToolCall StepKind = "tool-call"

	// StepToolResult is emitted when a requested tool has executed,
	// whether it succeeded or returned an error payload.
	StepToolResult StepKind = "tool-result"

	// StepFinal is emitted once with the turn's user-facing answer.
	StepFinal StepKind = "final"

	// StepAbort is emitted when the turn stops without an answer:
	// iteration ceiling, model failure, or persistence failure.
	StepAbort StepKind = "abort"
)

// StepEvent is a progress notification for one step of a turn.
// Events are emitted in execution order; a turn ends with exactly one
// StepFinal or StepAbort.
type StepEvent struct {
	Kind      StepKind `json:"kind"`
	Iteration int      `json:"iteration"`

	// Tool call fields, set for StepToolCall and StepToolResult.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Payload carries the call arguments (StepToolCall), the tool
	// output (StepToolResult), the answer (StepFinal), or the reason
	// (StepAbort).
	Payload string `json:"payload,omitempty"`

	// IsError marks a StepToolResult whose payload is an error
	// message rather than tool output.
	IsError bool `json:"is_error,omitempty"`
}

// EventFunc receives step events during a turn. Callbacks run on the
// turn's goroutine; slow handlers slow the turn.
type EventFunc func(StepEvent)
