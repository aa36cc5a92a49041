package mcp

import "context"

// Transport is the interface for MCP server communication.
// Implementations handle the details of sending JSON-RPC requests and
// receiving responses over a specific transport (stdio or HTTP).
type Transport interface {
	// Start establishes the transport: spawning the subprocess for
	// stdio, validating configuration for HTTP. Safe to call once.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC request and blocks until its response
	// arrives, the context is done, or the transport fails. The
	// transport handles framing, encoding, and correlation by id.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources. For
	// stdio transports this terminates the subprocess and fails any
	// outstanding requests with KindStopped. Idempotent.
	Close() error
}
