// Package mcp connects Godel to external MCP (Model Context Protocol)
// tool servers.
//
// MCP is JSON-RPC 2.0 over either a subprocess's stdin/stdout or
// streamable HTTP. A Client performs the initialize handshake, lists
// tools with tools/list and invokes them with tools/call. The Manager
// owns one Client per configured server and bridges the discovered
// tools into a tools.Registry as mcp_<server>_<tool>.
//
// Only the client side is implemented.
package mcp
