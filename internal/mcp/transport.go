package mcp

import "context"

// Transport carries JSON-RPC messages to one MCP server.
type Transport interface {
	// Send delivers req and waits for the response with the same id.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify delivers a notification; no response is expected.
	Notify(ctx context.Context, notif *Notification) error

	// Close releases the transport. For stdio this ends the subprocess.
	Close() error
}
