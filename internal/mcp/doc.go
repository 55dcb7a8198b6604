// Package mcp implements MCP (Model Context Protocol) client support,
// allowing clerk to connect to external tool providers and expose
// their tools to the agent loop.
//
// MCP uses JSON-RPC 2.0 over two transports: stdio (subprocess) and
// streamable HTTP. The client discovers tools via tools/list and invokes
// them via tools/call. Discovered tools are bridged into clerk's tool
// registry so they appear as native tools to the model.
//
// The Manager aggregates clients for every enabled provider into a
// single flattened registry that can be rebuilt at runtime without
// interrupting in-flight agent turns.
//
// This implementation covers the client/host side only; clerk does not
// act as an MCP server.
package mcp
