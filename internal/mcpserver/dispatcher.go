// Package mcpserver implements the server side of MCP: a JSON-RPC 2.0
// dispatcher routing initialize, tools/list, and tools/call to a fixed
// table of tool handlers, served over either a stdio line loop or a
// single-shot HTTP handler. Tool business logic stays behind the
// Handler type; the dispatcher owns framing, the error taxonomy, and
// result encoding.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// protocolVersion is the MCP protocol version this server declares.
const protocolVersion = "2024-11-05"

// Handler executes one tool invocation. The returned value is encoded
// by the server's result encoder; a returned error (or panic) becomes
// a JSON-RPC error with the generic failure code, never a crash of the
// serving loop.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool couples a descriptor with its handler. Name must be unique
// within one server.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// descriptor is the wire form of a tool in tools/list results.
type descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// contentBlock is a single item in a tools/call result.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResultEncoder converts a handler's return value into content blocks.
// The default serializes the value as JSON in a single text block;
// deployments whose model backend prefers another shape can swap it.
type ResultEncoder func(v any) ([]contentBlock, error)

// method is the closed set of dispatchable MCP methods. Routing is an
// exhaustive switch over this enum rather than open-ended string
// branching, so adding a method is a compile-checked change.
type method int

const (
	methodUnknown method = iota
	methodInitialize
	methodToolsList
	methodToolsCall
	methodPing
)

// parseMethod maps a wire method name onto the enum.
func parseMethod(name string) method {
	switch name {
	case "initialize":
		return methodInitialize
	case "tools/list":
		return methodToolsList
	case "tools/call":
		return methodToolsCall
	case "ping":
		return methodPing
	}
	return methodUnknown
}

// request is the server-side view of an incoming envelope. The id is
// kept raw so whatever the client sent (number, string, null) is
// echoed back unchanged.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is the server-side outgoing envelope. Exactly one of Result
// and Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes, mirroring the client's view in package mcp.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailure    = -32000
)

// Config configures a Server.
type Config struct {
	// Name and Version identify this server in initialize responses.
	Name    string
	Version string

	// Tools is the static tool table. Names must be unique.
	Tools []Tool

	// Encode overrides the default JSON-text result encoder.
	Encode ResultEncoder

	// Logger is the structured logger for dispatch diagnostics.
	Logger *slog.Logger
}

// Server dispatches decoded JSON-RPC requests to tool handlers. The
// tool table is fixed at construction; Handle is safe for concurrent
// use.
type Server struct {
	name    string
	version string
	tools   []Tool
	byName  map[string]Tool
	encode  ResultEncoder
	logger  *slog.Logger
}

// New creates a Server from the given config. Duplicate tool names or
// tools without a handler are construction errors.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	encode := cfg.Encode
	if encode == nil {
		encode = jsonTextEncoder
	}

	byName := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		byName[t.Name] = t
	}

	return &Server{
		name:    cfg.Name,
		version: cfg.Version,
		tools:   cfg.Tools,
		byName:  byName,
		encode:  encode,
		logger:  logger,
	}, nil
}

// jsonTextEncoder serializes a handler result as JSON inside a single
// text content block.
func jsonTextEncoder(v any) ([]contentBlock, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return []contentBlock{{Type: "text", Text: string(data)}}, nil
}

// HandleRaw decodes one frame and dispatches it. The returned response
// is nil only when the frame must be dropped entirely: invalid JSON
// with no recoverable id, or a notification (well-formed request
// without an id). Decode failures never propagate; the serving loops
// keep reading.
func (s *Server) HandleRaw(ctx context.Context, raw []byte) *response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		id := scrapeID(raw)
		if id == nil {
			s.logger.Debug("dropping undecodable frame", "error", err)
			return nil
		}
		return errorResponse(id, codeParseError, "parse error")
	}

	if req.Method == "" {
		if len(req.ID) == 0 {
			s.logger.Debug("dropping frame without method or id")
			return nil
		}
		return errorResponse(req.ID, codeInvalidRequest, "missing method")
	}

	if len(req.ID) == 0 {
		// Notification: execute nothing, answer nothing. The only
		// notification we expect is notifications/initialized.
		s.logger.Debug("notification received", "method", req.Method)
		return nil
	}

	return s.dispatch(ctx, &req)
}

// dispatch routes a well-formed request by method.
func (s *Server) dispatch(ctx context.Context, req *request) *response {
	switch parseMethod(req.Method) {
	case methodInitialize:
		return s.handleInitialize(req)
	case methodToolsList:
		return s.handleToolsList(req)
	case methodToolsCall:
		return s.handleToolsCall(ctx, req)
	case methodPing:
		return okResponse(req.ID, map[string]any{})
	case methodUnknown:
	}
	return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
}

func (s *Server) handleInitialize(req *request) *response {
	return okResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	})
}

func (s *Server) handleToolsList(req *request) *response {
	descs := make([]descriptor, 0, len(s.tools))
	for _, t := range s.tools {
		descs = append(descs, descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return okResponse(req.ID, map[string]any{"tools": descs})
}

// callParams is the expected shape of tools/call params.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req *request) *response {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "missing tool name")
	}

	tool, ok := s.byName[params.Name]
	if !ok {
		return errorResponse(req.ID, codeToolFailure, fmt.Sprintf("unknown tool %s", params.Name))
	}

	s.logger.Debug("tool call", "tool", params.Name)

	result, err := s.invoke(ctx, tool, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, codeToolFailure, err.Error())
	}

	blocks, err := s.encode(result)
	if err != nil {
		return errorResponse(req.ID, codeToolFailure, err.Error())
	}
	return okResponse(req.ID, map[string]any{"content": blocks})
}

// invoke runs a handler with panic recovery. A panicking tool must
// degrade to a JSON-RPC error, never take down the serving loop.
func (s *Server) invoke(ctx context.Context, tool Tool, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool handler panicked", "tool", tool.Name, "panic", r)
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, args)
}

// scrapeID attempts a best-effort id extraction from a frame that
// failed full decoding. Returns nil when no id is recoverable.
func scrapeID(raw []byte) json.RawMessage {
	var partial struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return nil
	}
	return partial.ID
}

func okResponse(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, msg string) *response {
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
