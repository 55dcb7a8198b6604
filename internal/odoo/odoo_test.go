package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeInstance is an httptest server speaking the /jsonrpc envelope.
type fakeInstance struct {
	t        *testing.T
	logins   int
	executed []executedCall
}

type executedCall struct {
	model  string
	method string
	args   []any
}

func (f *fakeInstance) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/jsonrpc" {
		f.t.Errorf("path = %q", r.URL.Path)
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Fatalf("decode request: %v", err)
	}

	write := func(result any) {
		data, _ := json.Marshal(result)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: data}
		json.NewEncoder(w).Encode(resp)
	}

	switch {
	case req.Params.Service == "common" && req.Params.Method == "login":
		f.logins++
		if req.Params.Args[1] == "wrong" {
			write(false)
			return
		}
		write(7)

	case req.Params.Service == "object" && req.Params.Method == "execute_kw":
		model := req.Params.Args[3].(string)
		method := req.Params.Args[4].(string)
		f.executed = append(f.executed, executedCall{
			model:  model,
			method: method,
			args:   req.Params.Args[5:],
		})

		switch method {
		case "search_count":
			write(42)
		case "search_read":
			write([]map[string]any{{"id": 1, "name": "Azure Interior"}})
		case "fields_get":
			write(map[string]any{"name": map[string]any{"type": "char"}})
		case "create":
			write(99)
		case "write", "unlink":
			write(true)
		default:
			resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
				Code: 200, Message: "Odoo Server Error",
			}}
			json.NewEncoder(w).Encode(resp)
		}

	default:
		f.t.Errorf("unexpected call: %s.%s", req.Params.Service, req.Params.Method)
	}
}

func newFakeClient(t *testing.T) (*Client, *fakeInstance) {
	t.Helper()
	f := &fakeInstance{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		URL:      srv.URL,
		Database: "prod",
		Username: "agent",
		Password: "secret",
	})
	return client, f
}

func TestLoginOnceAndCount(t *testing.T) {
	client, f := newFakeClient(t)
	ctx := context.Background()

	n, err := client.SearchCount(ctx, "res.partner", nil)
	if err != nil {
		t.Fatalf("SearchCount: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}

	// Second call reuses the cached uid.
	if _, err := client.SearchCount(ctx, "res.partner", nil); err != nil {
		t.Fatalf("SearchCount: %v", err)
	}
	if f.logins != 1 {
		t.Errorf("logins = %d, want 1", f.logins)
	}
}

func TestLoginRejected(t *testing.T) {
	f := &fakeInstance{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, Database: "prod", Username: "wrong", Password: "nope"})
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected login failure")
	}
}

func TestRecordsToolCount(t *testing.T) {
	client, f := newFakeClient(t)
	tool := NewRecordsTool(client)

	if tool.Name != "records" {
		t.Errorf("name = %q", tool.Name)
	}

	result, err := tool.Handler(context.Background(), map[string]any{
		"action": "count",
		"model":  "contact",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if result != "42" {
		t.Errorf("result = %q, want \"42\"", result)
	}

	last := f.executed[len(f.executed)-1]
	if last.model != "contact" || last.method != "search_count" {
		t.Errorf("executed %s.%s", last.model, last.method)
	}
}

func TestRecordsToolList(t *testing.T) {
	client, f := newFakeClient(t)
	tool := NewRecordsTool(client)

	result, err := tool.Handler(context.Background(), map[string]any{
		"action": "list",
		"model":  "res.partner",
		"domain": []any{[]any{"is_company", "=", true}},
		"fields": []any{"name"},
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if !strings.Contains(result, "Azure Interior") {
		t.Errorf("result = %q", result)
	}

	last := f.executed[len(f.executed)-1]
	if last.method != "search_read" {
		t.Errorf("method = %q", last.method)
	}
	// Domain and fields are forwarded positionally.
	if len(last.args) != 2 {
		t.Fatalf("args = %v", last.args)
	}
}

func TestRecordsToolMutations(t *testing.T) {
	client, f := newFakeClient(t)
	tool := NewRecordsTool(client)
	ctx := context.Background()

	result, err := tool.Handler(ctx, map[string]any{
		"action": "create",
		"model":  "res.partner",
		"values": map[string]any{"name": "New Co"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result != `{"id": 99}` {
		t.Errorf("create result = %q", result)
	}

	result, err = tool.Handler(ctx, map[string]any{
		"action": "update",
		"model":  "res.partner",
		"ids":    []any{float64(99)},
		"values": map[string]any{"name": "Renamed Co"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result != `{"updated": true}` {
		t.Errorf("update result = %q", result)
	}

	if _, err := tool.Handler(ctx, map[string]any{
		"action": "delete",
		"model":  "res.partner",
	}); err == nil {
		t.Error("delete without ids should fail")
	}

	last := f.executed[len(f.executed)-1]
	if last.method != "write" {
		t.Errorf("last executed = %q", last.method)
	}
}

func TestRecordsToolUnknownAction(t *testing.T) {
	client, _ := newFakeClient(t)
	tool := NewRecordsTool(client)

	// Unknown actions come back as a payload the model can read, not
	// as an execution failure.
	result, err := tool.Handler(context.Background(), map[string]any{
		"action": "teleport",
		"model":  "res.partner",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("result not JSON: %q", result)
	}
	if payload["error"] != "Unknown action: teleport" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRecordsToolSchema(t *testing.T) {
	client, _ := newFakeClient(t)
	tool := NewRecordsTool(client)

	result, err := tool.Handler(context.Background(), map[string]any{
		"action": "schema",
		"model":  "res.partner",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if !strings.Contains(result, "char") {
		t.Errorf("result = %q", result)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	client, _ := newFakeClient(t)

	_, err := client.ExecuteKw(context.Background(), "res.partner", "explode", []any{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Odoo Server Error") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "res.partner.explode") {
		t.Errorf("error lacks call context: %v", err)
	}
}

func TestCoercions(t *testing.T) {
	if got := stringSlice([]any{"a", 1, "b"}); len(got) != 2 || got[1] != "b" {
		t.Errorf("stringSlice = %v", got)
	}
	if got := intSlice([]any{float64(3), "x", 4}); len(got) != 2 || got[0] != 3 {
		t.Errorf("intSlice = %v", got)
	}
	if stringSlice(nil) != nil || intSlice("nope") != nil {
		t.Error("non-array inputs should yield nil")
	}
}
