// Package agent implements the core agent loop: the model decides,
// tools execute, results feed back, until the model produces an
// answer or the turn hits its iteration ceiling. Every step is
// checkpointed so an interrupted turn can be inspected or resumed.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clerk-agent/clerk/internal/checkpoint"
	"github.com/clerk-agent/clerk/internal/llm"
	"github.com/clerk-agent/clerk/internal/mcp"
	"github.com/clerk-agent/clerk/internal/prompts"
	"github.com/clerk-agent/clerk/internal/tools"
	"github.com/clerk-agent/clerk/internal/transcript"
)

// DefaultMaxIterations bounds model round-trips within one turn.
const DefaultMaxIterations = 50

// Request is one user turn.
type Request struct {
	SessionID string
	Message   string

	// Model overrides the loop's default model when set.
	Model string

	// Events receives step notifications. Optional.
	Events EventFunc

	// OnToken streams the final answer token by token. Optional.
	OnToken llm.StreamCallback
}

// Result is the outcome of a completed turn.
type Result struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	Iterations int    `json:"iterations"`
	Aborted    bool   `json:"aborted"`
}

// Loop is the core agent execution loop.
type Loop struct {
	logger      *slog.Logger
	client      llm.Client
	model       string
	manager     *mcp.Manager
	checkpoints *checkpoint.Store
	transcripts *transcript.Store

	maxIterations int
}

// NewLoop creates an agent loop. A maxIterations of 0 uses the
// default ceiling.
func NewLoop(logger *slog.Logger, client llm.Client, model string, manager *mcp.Manager,
	checkpoints *checkpoint.Store, transcripts *transcript.Store, maxIterations int) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{
		logger:        logger,
		client:        client,
		model:         model,
		manager:       manager,
		checkpoints:   checkpoints,
		transcripts:   transcripts,
		maxIterations: maxIterations,
	}
}

// Run executes one turn. The turn's tool set is the flattened
// registry as of the start of the turn; a provider reload mid-turn
// does not change which tools this turn sees, and the turn's borrow
// keeps those providers connected until it completes.
func (l *Loop) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	model := req.Model
	if model == "" {
		model = l.model
	}

	registry, release := l.manager.Acquire()
	defer release()
	specs := registry.List()

	logger := l.logger.With("session", req.SessionID, "model", model)
	logger.Info("turn started", "tools", len(specs))

	messages, err := l.loadContext(req.SessionID, registry)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	if _, err := l.transcripts.Append(req.SessionID, transcript.SenderUser, req.Message); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}

	state := &checkpoint.State{Messages: messages}
	nudged := false

	for {
		if state.Iterations >= l.maxIterations {
			logger.Warn("iteration ceiling reached", "iterations", state.Iterations)
			return l.abort(req, state, prompts.MaxIterationsNotice)
		}
		state.Iterations++

		// Only the final answer streams to the caller; intermediate
		// reasoning around tool calls stays internal.
		resp, err := l.client.ChatStream(ctx, model, state.Messages, specs, req.OnToken)
		if err != nil {
			logger.Error("model call failed", "error", err, "iteration", state.Iterations)
			if _, aerr := l.abort(req, state, "The model backend failed: "+err.Error()); aerr != nil {
				return nil, aerr
			}
			return nil, fmt.Errorf("model call: %w", err)
		}

		state.Messages = append(state.Messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			content := resp.Message.Content
			if content == "" && !nudged {
				// One retry before giving up on an empty answer.
				nudged = true
				state.Messages = append(state.Messages, llm.Message{
					Role: "user", Content: prompts.EmptyResponseNudge,
				})
				continue
			}
			if content == "" {
				content = prompts.EmptyResponseFallback
			}
			return l.finish(req, state, model, content)
		}

		// The model requested tools. Snapshot this position, then
		// execute the batch strictly in issue order.
		state.Phase = checkpoint.PhaseAwaitingToolResults
		if err := l.persist(req.SessionID, state); err != nil {
			return l.abortPersist(req, state, err)
		}

		for _, call := range resp.Message.ToolCalls {
			args, _ := json.Marshal(call.Function.Arguments)
			l.emit(req, StepEvent{
				Kind:       StepToolCall,
				Iteration:  state.Iterations,
				ToolName:   call.Function.Name,
				ToolCallID: call.ID,
				Payload:    string(args),
			})
		}

		for _, call := range resp.Message.ToolCalls {
			result, isErr := l.execute(ctx, registry, call, logger)
			l.emit(req, StepEvent{
				Kind:       StepToolResult,
				Iteration:  state.Iterations,
				ToolName:   call.Function.Name,
				ToolCallID: call.ID,
				Payload:    result,
				IsError:    isErr,
			})

			state.Messages = append(state.Messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
			})
		}

		state.Phase = checkpoint.PhaseAwaitingModel
		if err := l.persist(req.SessionID, state); err != nil {
			return l.abortPersist(req, state, err)
		}
	}
}

// execute runs one tool call. A failed or unknown tool becomes an
// {"error": ...} payload the model can read and react to, never a Go
// error; only the payload's error flag distinguishes it from output.
func (l *Loop) execute(ctx context.Context, registry *tools.Registry, call llm.ToolCall, logger *slog.Logger) (string, bool) {
	name := call.Function.Name
	logger.Info("executing tool", "tool", name, "call_id", call.ID)

	result, err := registry.Execute(ctx, name, call.Function.Arguments)
	if err != nil {
		logger.Warn("tool failed", "tool", name, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload), true
	}
	return result, false
}

// finish records the answer and closes out the turn.
func (l *Loop) finish(req *Request, state *checkpoint.State, model, content string) (*Result, error) {
	state.Phase = checkpoint.PhaseDone
	if err := l.persist(req.SessionID, state); err != nil {
		return l.abortPersist(req, state, err)
	}

	if _, err := l.transcripts.Append(req.SessionID, transcript.SenderAssistant, content); err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}

	l.emit(req, StepEvent{Kind: StepFinal, Iteration: state.Iterations, Payload: content})
	l.logger.Info("turn completed", "session", req.SessionID, "iterations", state.Iterations)

	return &Result{
		Content:    content,
		Model:      model,
		Iterations: state.Iterations,
		Aborted:    false,
	}, nil
}

// abort closes out a turn that cannot produce an answer. The reason
// is recorded in the transcript so the session history explains the
// gap.
func (l *Loop) abort(req *Request, state *checkpoint.State, reason string) (*Result, error) {
	state.Phase = checkpoint.PhaseAborted
	if err := l.persist(req.SessionID, state); err != nil {
		// Both the turn and its final snapshot failed; surface the
		// persistence error, it is the one that needs an operator.
		return nil, fmt.Errorf("persist abort state: %w", err)
	}

	if _, err := l.transcripts.Append(req.SessionID, transcript.SenderAssistant, reason); err != nil {
		return nil, fmt.Errorf("record abort: %w", err)
	}

	l.emit(req, StepEvent{Kind: StepAbort, Iteration: state.Iterations, Payload: reason})

	return &Result{
		Content:    reason,
		Iterations: state.Iterations,
		Aborted:    true,
	}, nil
}

// abortPersist handles a failed checkpoint write: without durable
// state the turn cannot continue.
func (l *Loop) abortPersist(req *Request, state *checkpoint.State, err error) (*Result, error) {
	l.logger.Error("checkpoint write failed", "session", req.SessionID, "error", err)
	l.emit(req, StepEvent{
		Kind:      StepAbort,
		Iteration: state.Iterations,
		Payload:   "Failed to save session state.",
	})
	return nil, fmt.Errorf("persist state: %w", err)
}

// loadContext restores the session's model context from its latest
// checkpoint, or starts a fresh context with the system prompt.
func (l *Loop) loadContext(sessionID string, registry *tools.Registry) ([]llm.Message, error) {
	cp, err := l.checkpoints.Latest(sessionID)
	if err != nil {
		return nil, err
	}
	if cp != nil && len(cp.State.Messages) > 0 {
		return cp.State.Messages, nil
	}

	var summaries []string
	for _, name := range registry.Names() {
		t := registry.Get(name)
		summaries = append(summaries, name+": "+t.Description)
	}
	return []llm.Message{{Role: "system", Content: prompts.SystemPrompt(summaries)}}, nil
}

// persist appends the current state as a checkpoint.
func (l *Loop) persist(sessionID string, state *checkpoint.State) error {
	_, err := l.checkpoints.Append(sessionID, state)
	return err
}

// emit delivers a step event if the request wants them.
func (l *Loop) emit(req *Request, ev StepEvent) {
	if req.Events != nil {
		req.Events(ev)
	}
}
