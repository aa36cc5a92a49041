package fel

import (
	"context"
	"fmt"

	"github.com/quetzalai/quetzal/internal/mcpserver"
)

// Tools returns the FEL tool table for an MCP server.
func Tools() []mcpserver.Tool {
	return []mcpserver.Tool{
		{
			Name:        "fel_validate",
			Description: "Validate FEL XML totals (subtotal, VAT 12%, total) and required fields.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"xml_path": map[string]any{"type": "string"},
				},
				"required": []any{"xml_path"},
			},
			Handler: handleValidate,
		},
		{
			Name:        "fel_render",
			Description: "Render a verification voucher (text + QR PNG) from FEL XML.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"xml_path": map[string]any{"type": "string"},
					"out_path": map[string]any{"type": []any{"string", "null"}},
				},
				"required": []any{"xml_path"},
			},
			Handler: handleRender,
		},
		{
			Name:        "fel_batch",
			Description: "Render a directory of FEL XMLs; outputs manifest.json",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dir_xml": map[string]any{"type": "string"},
					"out_dir": map[string]any{"type": []any{"string", "null"}},
				},
				"required": []any{"dir_xml"},
			},
			Handler: handleBatch,
		},
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func handleValidate(ctx context.Context, args map[string]any) (any, error) {
	xmlPath, err := stringArg(args, "xml_path")
	if err != nil {
		return nil, err
	}
	inv, err := ReadInvoice(xmlPath)
	if err != nil {
		return nil, err
	}
	return Validate(inv), nil
}

func handleRender(ctx context.Context, args map[string]any) (any, error) {
	xmlPath, err := stringArg(args, "xml_path")
	if err != nil {
		return nil, err
	}
	return Render(xmlPath, optionalString(args, "out_path"))
}

func handleBatch(ctx context.Context, args map[string]any) (any, error) {
	dirXML, err := stringArg(args, "dir_xml")
	if err != nil {
		return nil, err
	}
	return Batch(dirXML, optionalString(args, "out_dir"))
}
