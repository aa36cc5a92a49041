package mcp

import "fmt"

// TransportKind classifies transport-level failures. The taxonomy is
// shared by the stdio and HTTP transports so callers never need to know
// which variant they are talking through.
type TransportKind int

const (
	// KindStartupFailed means the remote never completed the
	// initialize handshake (process died immediately, endpoint
	// unreachable, or the startup timeout elapsed).
	KindStartupFailed TransportKind = iota
	// KindTimeout means a call's deadline elapsed before its
	// response arrived. The remote may still be processing it.
	KindTimeout
	// KindProcessExited means the child process terminated while a
	// response was still outstanding.
	KindProcessExited
	// KindStopped means the transport was closed while a response
	// was still outstanding.
	KindStopped
	// KindConnectionFailed covers HTTP-level failures: connection
	// refused, TLS errors, and non-2xx status codes.
	KindConnectionFailed
)

// String returns the kind name for logs and error text.
func (k TransportKind) String() string {
	switch k {
	case KindStartupFailed:
		return "startup_failed"
	case KindTimeout:
		return "timeout"
	case KindProcessExited:
		return "process_exited"
	case KindStopped:
		return "stopped"
	case KindConnectionFailed:
		return "connection_failed"
	}
	return "unknown"
}

// TransportError is a failure at the transport layer, below the
// JSON-RPC protocol. Protocol-level errors travel as *RPCError instead.
type TransportError struct {
	Kind TransportKind
	Err  error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcp transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("mcp transport %s", e.Kind)
}

// Unwrap returns the underlying cause, if any.
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolKind classifies client-side protocol violations detected
// before or after a frame crosses the wire.
type ProtocolKind int

const (
	// KindMalformedEnvelope means a body or frame could not be
	// decoded as a JSON-RPC envelope.
	KindMalformedEnvelope ProtocolKind = iota
	// KindUnknownMethod means the remote rejected the method name.
	KindUnknownMethod
	// KindUnknownTool means a tool name is absent from the cached
	// capability catalog. Detected client-side, never forwarded.
	KindUnknownTool
	// KindInvalidParams means arguments failed structural validation.
	KindInvalidParams
)

// String returns the kind name for logs and error text.
func (k ProtocolKind) String() string {
	switch k {
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindUnknownMethod:
		return "unknown_method"
	case KindUnknownTool:
		return "unknown_tool"
	case KindInvalidParams:
		return "invalid_params"
	}
	return "unknown"
}

// ProtocolError is a JSON-RPC protocol violation observed by the client.
type ProtocolError struct {
	Kind   ProtocolKind
	Detail string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mcp protocol %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("mcp protocol %s", e.Kind)
}

// ToolError is a tool that ran and failed: either the server answered
// with a JSON-RPC error object, or the result carried isError. These
// are recoverable — the orchestrator folds them back into the
// conversation instead of aborting the turn.
type ToolError struct {
	Tool    string
	Message string
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}
