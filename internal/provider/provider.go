// Package provider persists tool provider definitions. Each row
// describes one MCP-style server the agent can draw tools from, over
// either a network endpoint or a local subprocess.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clerk-agent/clerk/internal/mcp"
)

// Provider is one stored tool provider definition.
type Provider struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // mcp.TransportNetwork or mcp.TransportSubprocess
	Endpoint  string            `json:"endpoint,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Env       []string          `json:"env,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ServerConfig converts the stored definition into a connection config.
func (p *Provider) ServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:      p.Name,
		Transport: p.Transport,
		Endpoint:  p.Endpoint,
		Command:   p.Command,
		Args:      p.Args,
		Headers:   p.Headers,
		Env:       p.Env,
	}
}

// ValidationError reports a rejected provider definition. The request
// never reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid provider: %s %s", e.Field, e.Reason)
}

// Validate checks a provider definition before it is stored. Transport
// determines which connection field is mandatory.
func (p *Provider) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}

	switch p.Transport {
	case mcp.TransportNetwork:
		if strings.TrimSpace(p.Endpoint) == "" {
			return &ValidationError{Field: "endpoint", Reason: "is required for network transport"}
		}
	case mcp.TransportSubprocess:
		if strings.TrimSpace(p.Command) == "" {
			return &ValidationError{Field: "command", Reason: "is required for subprocess transport"}
		}
	default:
		return &ValidationError{
			Field:  "transport",
			Reason: fmt.Sprintf("must be %q or %q", mcp.TransportNetwork, mcp.TransportSubprocess),
		}
	}

	return nil
}

// newID generates a provider row ID. V7 keeps rows roughly insertion
// ordered when listed by primary key.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// marshalJSON serializes optional JSON columns, mapping empty values
// to empty strings so the column stays NULL-ish and cheap to scan.
func marshalJSON(v any) (string, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return "", nil
		}
	case map[string]string:
		if len(t) == 0 {
			return "", nil
		}
	case map[string]any:
		if len(t) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data), nil
}
