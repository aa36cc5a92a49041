package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/quetzalai/quetzal/internal/mcp"
)

// ToolCaller is the slice of the MCP client the agent depends on. It
// is satisfied by *mcp.Client and by test fakes.
type ToolCaller interface {
	Tools() []mcp.ToolDefinition
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Registry aggregates the tool catalogs of several MCP servers into
// one flat namespace and routes calls to the owning server. Catalogs
// are snapshotted at construction; rebuild after a client Resync.
type Registry struct {
	catalog []mcp.ToolDefinition
	owner   map[string]ToolCaller
}

// NewRegistry builds a registry over the given named clients. A tool
// name exported by two servers is a configuration error.
func NewRegistry(clients map[string]ToolCaller) (*Registry, error) {
	r := &Registry{owner: make(map[string]ToolCaller)}

	// Deterministic order so collisions report stably.
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string)
	for _, server := range names {
		c := clients[server]
		for _, def := range c.Tools() {
			if prev, dup := seen[def.Name]; dup {
				return nil, fmt.Errorf("tool %q exported by both %s and %s", def.Name, prev, server)
			}
			seen[def.Name] = server
			r.catalog = append(r.catalog, def)
			r.owner[def.Name] = c
		}
	}
	return r, nil
}

// Tools returns the aggregated catalog.
func (r *Registry) Tools() []mcp.ToolDefinition {
	return r.catalog
}

// CallTool routes a call to the server owning the tool.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c, ok := r.owner[name]
	if !ok {
		return "", &mcp.ProtocolError{Kind: mcp.KindUnknownTool, Detail: name}
	}
	return c.CallTool(ctx, name, args)
}

// Declarations maps the catalog into the tool-declaration shape the
// model backend consumes.
func (r *Registry) Declarations() []map[string]any {
	decls := make([]map[string]any, 0, len(r.catalog))
	for _, def := range r.catalog {
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		decls = append(decls, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  schema,
			},
		})
	}
	return decls
}
