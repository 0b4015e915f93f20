// Package server provides the MCP tool server of npamcp.
package server

// ToolServer defines the interface for the MCP server that handles
// private access tool calls from MCP clients.
type ToolServer interface {
	// Initialize registers the tools.
	Initialize() error

	// Start serves MCP requests on stdio until the stream closes.
	Start() error

	// Stop cancels in-flight tool calls.
	Stop() error
}
