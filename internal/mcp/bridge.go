package mcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/clerk-agent/clerk/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// ToolName generates a namespaced tool name from a provider name and
// the provider's own tool name. Both components are sanitized to
// contain only lowercase alphanumeric characters and underscores.
// Namespacing guarantees two providers exporting the same tool name
// never collide in the flattened registry.
func ToolName(providerName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(providerName), sanitize(mcpToolName))
}

// bridgeTool creates a registry tool that proxies calls to an MCP server.
func bridgeTool(client *Client, name string, td ToolDefinition) *tools.Tool {
	// Capture the original MCP tool name for the call.
	mcpName := td.Name

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  td.InputSchema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return client.CallTool(ctx, mcpName, args)
		},
	}
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	// Collapse consecutive underscores.
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}
