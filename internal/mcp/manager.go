package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/clerk-agent/clerk/internal/tools"
)

// Transport kinds accepted in a ServerConfig.
const (
	TransportNetwork    = "network"
	TransportSubprocess = "subprocess"
)

// ServerConfig describes how to reach one tool provider.
type ServerConfig struct {
	Name      string
	Transport string // TransportNetwork or TransportSubprocess
	Endpoint  string // network: MCP server URL
	Command   string // subprocess: executable to run
	Args      []string
	Headers   map[string]string // network: extra HTTP headers
	Env       []string          // subprocess: extra environment
}

// ProviderStatus reports the outcome of connecting one provider during
// a Reload or Test.
type ProviderStatus struct {
	Name      string   `json:"name"`
	Connected bool     `json:"connected"`
	Error     string   `json:"error,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// aggregate is one immutable generation of the flattened tool set.
// Reload builds a fresh aggregate and swaps it in; borrowers that hold
// the previous generation keep a consistent, working view for the rest
// of their turn. The generation's clients are torn down only when it
// is both retired and unborrowed.
type aggregate struct {
	registry *tools.Registry
	clients  []*Client
	statuses []ProviderStatus

	refs      atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
}

// close tears down the generation's provider clients exactly once.
func (a *aggregate) close(logger *slog.Logger) error {
	var firstErr error
	a.closeOnce.Do(func() {
		for _, c := range a.clients {
			if err := c.Close(); err != nil {
				logger.Warn("closing stale provider client", "provider", c.Name(), "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}

// releaseRef drops one borrow. The last borrower of a retired
// generation closes it.
func (a *aggregate) releaseRef(logger *slog.Logger) {
	if a.refs.Add(-1) == 0 && a.retired.Load() {
		a.close(logger)
	}
}

// Manager aggregates every enabled tool provider plus the native tools
// into a single flattened registry. The live aggregate is replaced
// atomically on Reload so agent turns never observe a half-built set.
type Manager struct {
	logger   *slog.Logger
	builtins []*tools.Tool

	// dial builds a transport for a config. Swapped in tests.
	dial func(cfg ServerConfig) (Transport, error)

	reloadMu sync.Mutex
	current  atomic.Pointer[aggregate]
}

// NewManager creates a manager whose flattened set always includes the
// given built-in tools. No providers are connected until Reload.
func NewManager(logger *slog.Logger, builtins ...*tools.Tool) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:   logger,
		builtins: builtins,
		dial:     dialTransport,
	}

	reg := tools.NewRegistry()
	for _, t := range builtins {
		reg.Register(t)
	}
	m.current.Store(&aggregate{registry: reg})
	return m
}

// dialTransport constructs the real transport for a provider config.
func dialTransport(cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportNetwork:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("provider %s: network transport requires an endpoint", cfg.Name)
		}
		return NewHTTPTransport(HTTPConfig{URL: cfg.Endpoint, Headers: cfg.Headers}), nil
	case TransportSubprocess:
		if cfg.Command == "" {
			return nil, fmt.Errorf("provider %s: subprocess transport requires a command", cfg.Name)
		}
		return NewStdioTransport(StdioConfig{Command: cfg.Command, Args: cfg.Args, Env: cfg.Env}), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

// connect dials, initializes, and discovers tools for one provider.
// Returns the connected client and its namespaced bridged tools.
func (m *Manager) connect(ctx context.Context, cfg ServerConfig) (*Client, []*tools.Tool, error) {
	transport, err := m.dial(cfg)
	if err != nil {
		return nil, nil, err
	}

	client := NewClient(cfg.Name, transport, m.logger)
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	bridged := make([]*tools.Tool, 0, len(defs))
	for _, td := range defs {
		bridged = append(bridged, bridgeTool(client, ToolName(cfg.Name, td.Name), td))
	}
	return client, bridged, nil
}

// Reload rebuilds the flattened tool set from the given provider
// configs and swaps it in atomically. A provider that fails to connect
// is reported in its status and skipped; the remaining providers and
// the built-in tools still form a working set. The previous
// generation's clients are closed once no in-flight turn still holds
// it, so a reload never cuts off a dispatched tool call.
func (m *Manager) Reload(ctx context.Context, configs []ServerConfig) []ProviderStatus {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	next := &aggregate{registry: tools.NewRegistry()}
	for _, t := range m.builtins {
		next.registry.Register(t)
	}

	for _, cfg := range configs {
		status := ProviderStatus{Name: cfg.Name}

		client, bridged, err := m.connect(ctx, cfg)
		if err != nil {
			status.Error = err.Error()
			next.statuses = append(next.statuses, status)
			m.logger.Warn("provider connection failed",
				"provider", cfg.Name,
				"error", err,
			)
			continue
		}

		for _, t := range bridged {
			t.Provider = cfg.Name
			next.registry.Register(t)
			status.Tools = append(status.Tools, t.Name)
		}
		status.Connected = true
		next.clients = append(next.clients, client)
		next.statuses = append(next.statuses, status)
	}

	prev := m.current.Swap(next)

	m.logger.Info("tool providers reloaded",
		"providers", len(configs),
		"connected", len(next.clients),
		"tools", len(next.registry.Names()),
	)

	m.retire(prev)

	return next.statuses
}

// retire marks a replaced generation for teardown. If nothing borrows
// it the clients close now; otherwise the last release closes them.
func (m *Manager) retire(prev *aggregate) {
	if prev == nil {
		return
	}
	prev.retired.Store(true)
	if prev.refs.Load() == 0 {
		prev.close(m.logger)
	}
}

// Test connects the given provider, discovers its tools, and tears the
// connection down again. The live tool set is not touched.
func (m *Manager) Test(ctx context.Context, cfg ServerConfig) ProviderStatus {
	status := ProviderStatus{Name: cfg.Name}

	client, bridged, err := m.connect(ctx, cfg)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer client.Close()

	status.Connected = true
	for _, t := range bridged {
		status.Tools = append(status.Tools, t.Name)
	}
	return status
}

// Registry returns the current flattened registry for one-off reads.
// Callers that keep issuing tool calls against the snapshot (an agent
// turn, say) use Acquire instead so a reload cannot tear down the
// providers underneath them.
func (m *Manager) Registry() *tools.Registry {
	return m.current.Load().registry
}

// Acquire borrows the current flattened registry. The borrow keeps the
// generation's provider clients alive across reloads; the returned
// release must be called when the borrower is done, and is safe to
// call more than once.
func (m *Manager) Acquire() (*tools.Registry, func()) {
	for {
		a := m.current.Load()
		a.refs.Add(1)
		if !a.retired.Load() {
			var once sync.Once
			release := func() {
				once.Do(func() { a.releaseRef(m.logger) })
			}
			return a.registry, release
		}
		// Lost the race with a reload; drop the borrow and take the
		// replacement generation.
		a.releaseRef(m.logger)
	}
}

// Tools returns the current flattened tool list in model wire shape.
func (m *Manager) Tools() []map[string]any {
	return m.current.Load().registry.List()
}

// Statuses returns the per-provider outcomes of the last Reload.
func (m *Manager) Statuses() []ProviderStatus {
	return m.current.Load().statuses
}

// Close shuts down all connected provider clients immediately. This is
// the shutdown path; it does not wait for borrowers.
func (m *Manager) Close() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	reg := tools.NewRegistry()
	for _, t := range m.builtins {
		reg.Register(t)
	}
	prev := m.current.Swap(&aggregate{registry: reg})

	prev.retired.Store(true)
	return prev.close(m.logger)
}
