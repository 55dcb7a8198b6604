package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/clerk-agent/clerk/internal/agent"
	"github.com/clerk-agent/clerk/internal/checkpoint"
	"github.com/clerk-agent/clerk/internal/llm"
	"github.com/clerk-agent/clerk/internal/mcp"
	"github.com/clerk-agent/clerk/internal/provider"
	"github.com/clerk-agent/clerk/internal/rag"
	"github.com/clerk-agent/clerk/internal/tools"
	"github.com/clerk-agent/clerk/internal/transcript"
)

// scriptedClient returns queued responses in order, repeating the
// last entry once exhausted.
type scriptedClient struct {
	responses []llm.Message
	calls     int
}

func (c *scriptedClient) Chat(ctx context.Context, model string, messages []llm.Message, toolSpecs []map[string]any) (*llm.ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, toolSpecs, nil)
}

func (c *scriptedClient) ChatStream(_ context.Context, _ string, _ []llm.Message, _ []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	i := c.calls
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	c.calls++
	msg := c.responses[i]
	if callback != nil && msg.Content != "" {
		callback(msg.Content)
	}
	return &llm.ChatResponse{Message: msg, Done: true}, nil
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

type testServer struct {
	*Server
	http *httptest.Server
	db   *sql.DB
}

func newTestServer(t *testing.T, client llm.Client, builtins ...*tools.Tool) *testServer {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	checkpoints, err := checkpoint.NewStore(db)
	if err != nil {
		t.Fatalf("checkpoint store: %v", err)
	}
	transcripts, err := transcript.NewStore(db)
	if err != nil {
		t.Fatalf("transcript store: %v", err)
	}
	providers, err := provider.NewStore(db)
	if err != nil {
		t.Fatalf("provider store: %v", err)
	}

	manager := mcp.NewManager(nil, builtins...)
	loop := agent.NewLoop(nil, client, "test-model", manager, checkpoints, transcripts, 0)

	srv := NewServer("", 0, loop, manager, providers, transcripts, checkpoints, nil)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &testServer{Server: srv, http: hs, db: db}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(ts.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func countTool() *tools.Tool {
	return &tools.Tool{
		Name:        "records",
		Description: "Query business records.",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "42", nil
		},
	}
}

func TestChatEndpoint(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{
			llm.NewToolCall("c1", "records", map[string]any{"action": "count", "model": "contact"}),
		}},
		{Role: "assistant", Content: "There are 42 contacts."},
	}}
	ts := newTestServer(t, client, countTool())

	resp := ts.postJSON(t, "/v1/chat", ChatRequest{Message: "How many contacts?", SessionID: "s-chat"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[ChatResponse](t, resp)
	if body.Response != "There are 42 contacts." {
		t.Errorf("response = %q", body.Response)
	}
	if body.SessionID != "s-chat" {
		t.Errorf("session = %q", body.SessionID)
	}

	// The turn shows up in the session list with a derived title.
	list := decode[map[string]any](t, ts.get(t, "/v1/sessions"))
	if list["count"].(float64) != 1 {
		t.Errorf("sessions = %v", list)
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}})

	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"empty request", ChatRequest{}},
		{"missing session id", ChatRequest{Message: "hi"}},
		{"missing message", ChatRequest{SessionID: "s-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.postJSON(t, "/v1/chat", tt.req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			resp.Body.Close()
		})
	}

	// A rejected turn must leave no trace: no fabricated session.
	list := decode[map[string]any](t, ts.get(t, "/v1/sessions"))
	if list["count"].(float64) != 0 {
		t.Errorf("sessions = %v, want none", list)
	}
}

func TestSessionLifecycle(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		{Role: "assistant", Content: "**Bold** answer."},
	}}
	ts := newTestServer(t, client)

	chat := decode[ChatResponse](t, ts.postJSON(t, "/v1/chat", ChatRequest{
		Message: "Say something bold", SessionID: "s-1",
	}))
	if chat.SessionID != "s-1" {
		t.Fatalf("session = %q", chat.SessionID)
	}

	history := decode[map[string]any](t, ts.get(t, "/v1/sessions/s-1"))
	if history["count"].(float64) != 2 {
		t.Errorf("history = %v", history)
	}

	// HTML rendering converts the assistant's markdown.
	resp := ts.get(t, "/v1/sessions/s-1?format=html")
	html, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if !strings.Contains(string(html), "<strong>Bold</strong>") {
		t.Errorf("html missing rendered markdown:\n%s", html)
	}

	// Delete removes history and state, and repeats cleanly.
	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodDelete, "/v1/sessions/s-1", nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("delete #%d status = %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	history = decode[map[string]any](t, ts.get(t, "/v1/sessions/s-1"))
	if history["count"].(float64) != 0 {
		t.Errorf("history after delete = %v", history)
	}
	if n, _ := ts.checkpoints.Count("s-1"); n != 0 {
		t.Errorf("checkpoints after delete = %d", n)
	}
}

func TestSessionState(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{
			llm.NewToolCall("c1", "records", map[string]any{"action": "count", "model": "contact"}),
		}},
		{Role: "assistant", Content: "There are 42 contacts."},
	}}
	ts := newTestServer(t, client, countTool())

	resp := ts.postJSON(t, "/v1/chat", ChatRequest{Message: "How many contacts?", SessionID: "s-1"})
	resp.Body.Close()

	state := decode[map[string]any](t, ts.get(t, "/v1/sessions/s-1/state"))
	if state["count"].(float64) != 3 {
		t.Fatalf("state = %v", state)
	}
	entries := state["checkpoints"].([]any)
	last := entries[len(entries)-1].(map[string]any)
	if last["phase"] != "done" || last["seq"].(float64) != 3 {
		t.Errorf("last checkpoint = %v", last)
	}

	// Resume listing past a known sequence number.
	tail := decode[map[string]any](t, ts.get(t, "/v1/sessions/s-1/state?after=2"))
	if tail["count"].(float64) != 1 {
		t.Errorf("tail = %v", tail)
	}
}

func TestProviderCRUD(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}})

	created := decode[provider.Provider](t, ts.postJSON(t, "/v1/providers", map[string]any{
		"name":      "docs-tools",
		"transport": "network",
		"endpoint":  "http://localhost:9000/mcp",
	}))
	if created.ID == "" || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	got := decode[provider.Provider](t, ts.get(t, "/v1/providers/"+created.ID))
	if got.Name != "docs-tools" {
		t.Errorf("got = %+v", got)
	}

	updated := decode[provider.Provider](t, ts.do(t, http.MethodPut, "/v1/providers/"+created.ID, map[string]any{
		"name":      "docs-tools",
		"transport": "network",
		"endpoint":  "http://localhost:9001/mcp",
	}))
	if updated.Endpoint != "http://localhost:9001/mcp" {
		t.Errorf("updated = %+v", updated)
	}

	resp := ts.postJSON(t, "/v1/providers/"+created.ID+"/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("disable status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	list := decode[map[string]any](t, ts.get(t, "/v1/providers"))
	if list["count"].(float64) != 1 {
		t.Errorf("list = %v", list)
	}

	resp = ts.do(t, http.MethodDelete, "/v1/providers/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.get(t, "/v1/providers/"+created.ID)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProviderValidation(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}})

	resp := ts.postJSON(t, "/v1/providers", map[string]any{
		"name":      "broken",
		"transport": "network",
		// endpoint missing
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProviderReloadEmpty(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}}, countTool())

	body := decode[map[string]any](t, ts.postJSON(t, "/v1/providers/reload", nil))
	names, ok := body["tools"].([]any)
	if !ok || len(names) != 1 || names[0] != "records" {
		t.Errorf("reload = %v", body)
	}
}

func TestToolList(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}}, countTool())

	body := decode[map[string]any](t, ts.get(t, "/v1/tools"))
	if body["count"].(float64) != 1 {
		t.Errorf("tools = %v", body)
	}
}

// stubEmbedder returns the same vector for everything, which is
// enough to exercise the endpoints.
type stubEmbedder struct{}

func (stubEmbedder) Generate(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func setupRAG(t *testing.T, ts *testServer, client llm.Client) {
	t.Helper()
	store, err := rag.NewStore(ts.db)
	if err != nil {
		t.Fatalf("rag store: %v", err)
	}
	ts.SetAnswerer(rag.NewAnswerer(store, stubEmbedder{}, client, "test-model", 0, nil))
	ts.SetIngester(rag.NewIngester(store, stubEmbedder{}))
}

func TestAskEndpoint(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		{Role: "assistant", Content: "Post the invoice."},
	}}
	ts := newTestServer(t, client)
	setupRAG(t, ts, client)

	resp := ts.postJSON(t, "/v1/collections/docs/documents", DocumentAddRequest{
		Source:  "billing.html",
		Content: "Invoices are validated by posting them.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	answer := decode[AskResponse](t, ts.postJSON(t, "/v1/ask", AskRequest{
		Question: "How do I validate an invoice?", Collection: "docs",
	}))
	if answer.Answer != "Post the invoice." {
		t.Errorf("answer = %q", answer.Answer)
	}

	resp = ts.postJSON(t, "/v1/ask", AskRequest{Question: "q", Collection: "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown collection status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAskUnconfigured(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}})

	resp := ts.postJSON(t, "/v1/ask", AskRequest{Question: "q", Collection: "docs"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCollectionEndpoints(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}}
	ts := newTestServer(t, client)
	setupRAG(t, ts, client)

	resp := ts.postJSON(t, "/v1/collections/docs/documents", DocumentAddRequest{
		Source: "a.html", Content: "text",
	})
	resp.Body.Close()

	list := decode[map[string]any](t, ts.get(t, "/v1/collections"))
	if list["count"].(float64) != 1 {
		t.Errorf("collections = %v", list)
	}

	resp = ts.do(t, http.MethodDelete, "/v1/collections/docs", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestChatSocket(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{
			llm.NewToolCall("c1", "records", map[string]any{"action": "count", "model": "contact"}),
		}},
		{Role: "assistant", Content: "There are 42 contacts."},
	}}
	ts := newTestServer(t, client, countTool())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.http.URL, "/ws/chat"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ChatRequest{Message: "How many contacts?", SessionID: "ws-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var kinds []string
	var result *ChatResponse
	for result == nil {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch env.Type {
		case "step":
			kinds = append(kinds, string(env.Step.Kind))
		case "result":
			result = env.Result
		case "error":
			t.Fatalf("error frame: %s", env.Error)
		}
	}

	want := []string{"tool-call", "tool-result", "final"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("steps = %v, want %v", kinds, want)
	}
	if result.Response != "There are 42 contacts." || result.SessionID != "ws-1" {
		t.Errorf("result = %+v", result)
	}
}

func TestChatSocketRequiresSession(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "hello"}}}
	ts := newTestServer(t, client, countTool())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.http.URL, "/ws/chat"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ChatRequest{Message: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != "error" || !strings.Contains(env.Error, "session_id") {
		t.Errorf("frame = %+v, want session_id error", env)
	}
	if client.calls != 0 {
		t.Errorf("model called %d times for a rejected turn", client.calls)
	}

	// The socket stays usable after a rejected frame.
	if err := conn.WriteJSON(ChatRequest{Message: "hi", SessionID: "ws-2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == "result" {
			break
		}
	}
	if env.Result.SessionID != "ws-2" {
		t.Errorf("result session = %q", env.Result.SessionID)
	}
}

func TestAskSocket(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		{Role: "assistant", Content: "Post the invoice."},
	}}
	ts := newTestServer(t, client)
	setupRAG(t, ts, client)

	resp := ts.postJSON(t, "/v1/collections/docs/documents", DocumentAddRequest{
		Source: "billing.html", Content: "Invoices are validated by posting them.",
	})
	resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.http.URL, "/ws/ask"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(AskRequest{Question: "How do I validate?", Collection: "docs"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var tokens strings.Builder
	var result *ChatResponse
	for result == nil {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch env.Type {
		case "token":
			tokens.WriteString(env.Token)
		case "result":
			result = env.Result
		case "error":
			t.Fatalf("error frame: %s", env.Error)
		}
	}

	if result.Response != "Post the invoice." {
		t.Errorf("result = %+v", result)
	}
	if tokens.String() != result.Response {
		t.Errorf("streamed %q, result %q", tokens.String(), result.Response)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{responses: []llm.Message{{Role: "assistant", Content: "x"}}})

	for _, path := range []string{"/health", "/v1/version", "/"} {
		resp := ts.get(t, path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
