package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clerk-agent/clerk/internal/httpkit"
)

// OpenAIClient talks to any OpenAI-compatible chat completions API
// (OpenAI itself, vLLM, llama.cpp server, LM Studio, and friends).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// baseURL should include the version prefix, e.g. "https://api.openai.com/v1".
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute)),
	}
}

// The OpenAI wire format carries tool call arguments as a JSON string,
// not an object. These types handle the conversion at the boundary so
// the rest of clerk only sees map[string]any.

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiChatRequest struct {
	Model    string           `json:"model"`
	Messages []openaiMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openaiStreamChunk struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func toOpenAIMessages(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		om := openaiMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			otc := openaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Function.Name
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAICalls(calls []openaiToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, oc := range calls {
		var args map[string]any
		if oc.Function.Arguments != "" {
			// Malformed arguments become an empty map; the tool
			// reports the missing fields instead of us guessing.
			_ = json.Unmarshal([]byte(oc.Function.Arguments), &args)
		}
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, NewToolCall(oc.ID, oc.Function.Name, args))
	}
	return out
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	body, err := c.post(ctx, openaiChatRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Tools:    tools,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var raw openaiChatResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	choice := raw.Choices[0]
	msg := Message{
		Role:      "assistant",
		Content:   choice.Message.Content,
		ToolCalls: fromOpenAICalls(choice.Message.ToolCalls),
	}
	assignCallIDs(msg.ToolCalls)

	return &ChatResponse{
		Model:        raw.Model,
		CreatedAt:    time.Unix(raw.Created, 0),
		Message:      msg,
		Done:         true,
		InputTokens:  raw.Usage.PromptTokens,
		OutputTokens: raw.Usage.CompletionTokens,
	}, nil
}

// ChatStream sends a streaming chat request using server-sent events.
func (c *OpenAIClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, model, messages, tools)
	}

	body, err := c.post(ctx, openaiChatRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
		Tools:    tools,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var (
		contentBuilder strings.Builder
		respModel      string
		created        int64
		// Tool calls arrive fragmented across deltas, keyed by index.
		callIDs  = map[int]string{}
		names    = map[int]string{}
		argBufs  = map[int]*strings.Builder{}
		maxIndex = -1
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Model != "" {
			respModel = chunk.Model
		}
		if chunk.Created != 0 {
			created = chunk.Created
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			callback(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			if tc.Index > maxIndex {
				maxIndex = tc.Index
			}
			if tc.ID != "" {
				callIDs[tc.Index] = tc.ID
			}
			if tc.Function.Name != "" {
				names[tc.Index] = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				b := argBufs[tc.Index]
				if b == nil {
					b = &strings.Builder{}
					argBufs[tc.Index] = b
				}
				b.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	var toolCalls []ToolCall
	for i := 0; i <= maxIndex; i++ {
		var args map[string]any
		if b := argBufs[i]; b != nil {
			_ = json.Unmarshal([]byte(b.String()), &args)
		}
		if args == nil {
			args = map[string]any{}
		}
		toolCalls = append(toolCalls, NewToolCall(callIDs[i], names[i], args))
	}
	assignCallIDs(toolCalls)

	return &ChatResponse{
		Model:     respModel,
		CreatedAt: time.Unix(created, 0),
		Message: Message{
			Role:      "assistant",
			Content:   contentBuilder.String(),
			ToolCalls: toolCalls,
		},
		Done: true,
	}, nil
}

// Ping checks if the endpoint is reachable.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.auth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (c *OpenAIClient) post(ctx context.Context, req openaiChatRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.auth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *OpenAIClient) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
