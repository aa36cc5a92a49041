package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatParsesResponse(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", r.Header.Get("x-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := anthropicResponse{
			Role:  "assistant",
			Model: "claude-sonnet-4-20250514",
			Content: []anthropicContent{
				{Type: "text", Text: "I'll check the invoice."},
				{Type: "tool_use", ID: "toolu_1", Name: "fel_validate", Input: map[string]any{"xml_path": "/data/in/a.xml"}},
			},
			StopReason: "tool_use",
			Usage:      anthropicUsage{InputTokens: 120, OutputTokens: 45},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", nil, WithBaseURL(srv.URL))
	got, err := c.Chat(context.Background(), "claude-sonnet-4-20250514",
		[]Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "validate the invoice"},
		},
		[]map[string]any{{
			"type": "function",
			"function": map[string]any{
				"name":        "fel_validate",
				"description": "validate",
				"parameters":  map[string]any{"type": "object"},
			},
		}},
	)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if got.Message.Content != "I'll check the invoice." {
		t.Errorf("Content = %q", got.Message.Content)
	}
	if len(got.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(got.Message.ToolCalls))
	}
	tc := got.Message.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Function.Name != "fel_validate" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments["xml_path"] != "/data/in/a.xml" {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
	if got.InputTokens != 120 || got.OutputTokens != 45 {
		t.Errorf("tokens = %d/%d, want 120/45", got.InputTokens, got.OutputTokens)
	}

	// The wire request carries the extracted system prompt and the
	// converted tool declaration.
	if gotReq.System != "be brief" {
		t.Errorf("wire system = %q", gotReq.System)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Name != "fel_validate" {
		t.Errorf("wire tools = %+v", gotReq.Tools)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", nil, WithBaseURL(srv.URL))
	_, err := c.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", apiErr.Status)
	}
}

func TestConvertToAnthropicToolFlow(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "validate it"},
		{
			Role:    "assistant",
			Content: "on it",
			ToolCalls: []ToolCall{
				NewToolCall("toolu_9", "fel_validate", map[string]any{"xml_path": "/a.xml"}),
			},
		},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "toolu_9"},
	}

	converted, system := convertToAnthropic(messages)
	if system != "" {
		t.Errorf("system = %q, want empty", system)
	}
	if len(converted) != 3 {
		t.Fatalf("len = %d, want 3", len(converted))
	}

	// Assistant tool calls become tool_use content blocks.
	blocks := converted[1].Content.([]anthropicContent)
	if len(blocks) != 2 || blocks[0].Type != "text" || blocks[1].Type != "tool_use" {
		t.Fatalf("assistant blocks = %+v", blocks)
	}
	if blocks[1].ID != "toolu_9" {
		t.Errorf("tool_use id = %q, want toolu_9", blocks[1].ID)
	}

	// Tool results become user-role tool_result blocks keyed by id.
	results := converted[2].Content.([]anthropicContent)
	if converted[2].Role != "user" {
		t.Errorf("tool result role = %q, want user", converted[2].Role)
	}
	if len(results) != 1 || results[0].Type != "tool_result" || results[0].ToolUseID != "toolu_9" {
		t.Fatalf("tool_result = %+v", results)
	}
}

func TestConvertToolsSkipsMalformed(t *testing.T) {
	tools := []map[string]any{
		{"type": "function"}, // no function payload
		{
			"type": "function",
			"function": map[string]any{
				"name": "good",
			},
		},
	}
	got := convertToolsToAnthropic(tools)
	if len(got) != 1 || got[0].Name != "good" {
		t.Fatalf("converted = %+v, want only good", got)
	}
	// Missing parameters default to an empty object schema.
	if got[0].InputSchema == nil {
		t.Error("InputSchema is nil")
	}
}
