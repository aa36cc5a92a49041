// Package mcp implements the client side of MCP (Model Context
// Protocol): JSON-RPC 2.0 over two interchangeable transports, a
// subprocess's standard streams (newline-delimited) or single-shot
// HTTP POSTs.
//
// The stdio transport runs one background reader that correlates
// responses to waiters by request id, so several calls can be in
// flight at once and responses may arrive out of order. The Client
// layered on top performs the initialize handshake, caches the tools
// catalog declared by the remote, and exposes typed tools/list and
// tools/call operations to the agent loop.
//
// Transport failures from both variants share one taxonomy
// (TransportError) so callers never branch on the transport in use.
// The server side of the protocol lives in package mcpserver.
package mcp
