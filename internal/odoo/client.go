// Package odoo is a JSON-RPC client for an Odoo record system. It
// authenticates once, caches the user ID, and exposes the model
// operations the records tool dispatches to.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/clerk-agent/clerk/internal/httpkit"
)

// Config holds connection settings for a record system instance.
type Config struct {
	// URL is the instance base URL, e.g. "https://erp.example.com:8069".
	URL string

	// Database is the database name to authenticate against.
	Database string

	Username string
	Password string
}

// Client talks to one record system instance.
type Client struct {
	cfg        Config
	httpClient *http.Client
	nextID     atomic.Int64

	mu  sync.Mutex
	uid int // 0 until login succeeds
}

// NewClient creates a record system client. No connection is made
// until the first call.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpkit.NewClient(),
	}
}

// rpcRequest is the Odoo JSON-RPC envelope.
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("record system error: %s", e.Data.Message)
	}
	return fmt.Sprintf("record system error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC round trip against the /jsonrpc endpoint.
func (c *Client) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.URL, "/") + "/jsonrpc"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, fmt.Errorf("record system returned %d: %s", httpResp.StatusCode, errBody)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// login authenticates and caches the numeric user ID. Safe to call
// repeatedly; only the first successful call hits the wire.
func (c *Client) login(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid != 0 {
		return c.uid, nil
	}

	result, err := c.call(ctx, "common", "login",
		[]any{c.cfg.Database, c.cfg.Username, c.cfg.Password})
	if err != nil {
		return 0, fmt.Errorf("login: %w", err)
	}

	var uid int
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, fmt.Errorf("login rejected for %s on %s", c.cfg.Username, c.cfg.Database)
	}

	c.uid = uid
	return uid, nil
}

// ExecuteKw invokes a model method with positional args via the object
// service. The result is returned as raw JSON for the caller to shape.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any) (json.RawMessage, error) {
	uid, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	callArgs := []any{c.cfg.Database, uid, c.cfg.Password, model, method}
	callArgs = append(callArgs, args...)

	result, err := c.call(ctx, "object", "execute_kw", callArgs)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", model, method, err)
	}
	return result, nil
}

// SearchRead returns records matching the domain, restricted to the
// given fields (all fields when empty).
func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string) (json.RawMessage, error) {
	if domain == nil {
		domain = []any{}
	}
	if fields == nil {
		fields = []string{}
	}
	return c.ExecuteKw(ctx, model, "search_read", []any{domain, fields})
}

// SearchCount returns the number of records matching the domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain []any) (int, error) {
	if domain == nil {
		domain = []any{}
	}
	result, err := c.ExecuteKw(ctx, model, "search_count", []any{domain})
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(result, &n); err != nil {
		return 0, fmt.Errorf("unmarshal count: %w", err)
	}
	return n, nil
}

// FieldsGet returns the model's field schema.
func (c *Client) FieldsGet(ctx context.Context, model string) (json.RawMessage, error) {
	return c.ExecuteKw(ctx, model, "fields_get", []any{})
}

// Create inserts a record and returns its new ID.
func (c *Client) Create(ctx context.Context, model string, values map[string]any) (int, error) {
	result, err := c.ExecuteKw(ctx, model, "create", []any{values})
	if err != nil {
		return 0, err
	}
	var id int
	if err := json.Unmarshal(result, &id); err != nil {
		return 0, fmt.Errorf("unmarshal created id: %w", err)
	}
	return id, nil
}

// Write updates the given record IDs with the values.
func (c *Client) Write(ctx context.Context, model string, ids []int, values map[string]any) (bool, error) {
	result, err := c.ExecuteKw(ctx, model, "write", []any{ids, values})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return false, fmt.Errorf("unmarshal write result: %w", err)
	}
	return ok, nil
}

// Unlink deletes the given record IDs.
func (c *Client) Unlink(ctx context.Context, model string, ids []int) (bool, error) {
	result, err := c.ExecuteKw(ctx, model, "unlink", []any{ids})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return false, fmt.Errorf("unmarshal unlink result: %w", err)
	}
	return ok, nil
}

// Ping verifies the instance is reachable and credentials are valid.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.login(ctx)
	return err
}
