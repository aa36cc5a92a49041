package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quetzalai/quetzal/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// Default timeouts applied when ClientConfig leaves them zero.
const (
	defaultStartupTimeout = 8 * time.Second
	defaultCallTimeout    = 30 * time.Second
)

// ToolDefinition is an MCP tool as returned by tools/list. Definitions
// are immutable once fetched; the catalog is owned by the Client for
// the lifetime of one session.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ServerInfo identifies the remote server, from the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what an MCP server supports.
type serverCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// WireLogger records raw JSON-RPC traffic. Satisfied by *rpclog.Writer;
// a nil logger disables wire logging.
type WireLogger interface {
	Log(direction string, payload any)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name labels this server connection in logs.
	Name string

	// StartupTimeout bounds the initialize handshake.
	StartupTimeout time.Duration

	// CallTimeout bounds each individual call.
	CallTimeout time.Duration

	// WireLog, when non-nil, receives every sent and received frame.
	WireLog WireLogger

	// Logger is the structured logger for client diagnostics.
	Logger *slog.Logger
}

// Client connects to a single MCP server and provides typed access to
// the protocol operations (initialize, tools/list, tools/call). It
// owns the capability catalog, populated once at Start and re-fetched
// only on an explicit Resync.
type Client struct {
	name           string
	transport      Transport
	logger         *slog.Logger
	wire           WireLogger
	startupTimeout time.Duration
	callTimeout    time.Duration
	nextID         atomic.Int64

	mu         sync.RWMutex
	serverInfo ServerInfo
	catalog    []ToolDefinition
	byName     map[string]ToolDefinition
}

// NewClient creates an MCP client over the given transport.
func NewClient(transport Transport, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	startup := cfg.StartupTimeout
	if startup <= 0 {
		startup = defaultStartupTimeout
	}
	call := cfg.CallTimeout
	if call <= 0 {
		call = defaultCallTimeout
	}
	return &Client{
		name:           cfg.Name,
		transport:      transport,
		logger:         logger.With("mcp_server", cfg.Name),
		wire:           cfg.WireLog,
		startupTimeout: startup,
		callTimeout:    call,
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// Start brings up the transport, performs the initialize handshake
// under the startup timeout, and populates the capability catalog.
// Any failure before the handshake completes surfaces as a
// TransportError with KindStartupFailed.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, c.startupTimeout)
	defer cancel()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "quetzal",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(hctx, "initialize", params)
	if err != nil {
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("initialize: %w", err)}
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("unmarshal initialize result: %w", err)}
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	// Complete the handshake before fetching the catalog.
	if err := c.transport.Notify(hctx, NewNotification("notifications/initialized", nil)); err != nil {
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("send initialized notification: %w", err)}
	}

	// The first catalog fetch is still part of startup; classify its
	// failures with the rest of the handshake.
	if err := c.Resync(ctx); err != nil {
		return &TransportError{Kind: KindStartupFailed, Err: err}
	}
	return nil
}

// Resync re-fetches the capability catalog from the server. Called
// once by Start; a later explicit call replaces the cached catalog
// (e.g., after the remote signals a capability change).
func (c *Client) Resync(ctx context.Context) error {
	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	byName := make(map[string]ToolDefinition, len(result.Tools))
	for _, td := range result.Tools {
		if _, dup := byName[td.Name]; dup {
			return &ProtocolError{Kind: KindMalformedEnvelope, Detail: fmt.Sprintf("duplicate tool name %q in catalog", td.Name)}
		}
		byName[td.Name] = td
	}

	c.mu.Lock()
	c.catalog = result.Tools
	c.byName = byName
	c.mu.Unlock()

	c.logger.Info("discovered MCP tools", "count", len(result.Tools))
	return nil
}

// Tools returns the cached capability catalog.
func (c *Client) Tools() []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// HasTool reports whether name exists in the cached catalog.
func (c *Client) HasTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byName[name]
	return ok
}

// ServerInfo returns the identity declared in the initialize response.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// CallTool invokes a tool by name with the given arguments. A name
// absent from the cached catalog is rejected client-side with
// KindUnknownTool, never forwarded. The result is flattened from the
// response content blocks into a single string; a server-declared tool
// failure (JSON-RPC error or isError result) returns a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if !c.HasTool(name) {
		return "", &ProtocolError{Kind: KindUnknownTool, Detail: name}
	}

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", &ToolError{Tool: name, Message: rpcErr.Message}
		}
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	text := extractText(result.Content)
	if result.IsError {
		return "", &ToolError{Tool: name, Message: text}
	}
	return text, nil
}

// Ping checks whether the MCP server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Close shuts down the client and its transport.
func (c *Client) Close() error {
	c.logger.Info("closing MCP client")
	return c.transport.Close()
}

// send issues a JSON-RPC request under the per-call timeout and checks
// for protocol-level errors. Ids are allocated monotonically per client.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	req := NewRequest(id, method, params)

	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if c.wire != nil {
		c.wire.Log("send", req)
	}

	resp, err := c.transport.Send(cctx, req)
	if err != nil {
		return nil, err
	}

	if c.wire != nil {
		c.wire.Log("recv", resp)
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
