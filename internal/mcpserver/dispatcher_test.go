package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		Name:    "test-server",
		Version: "0.0.1",
		Tools: []Tool{
			{
				Name:        "echo",
				Description: "echoes its input",
				InputSchema: map[string]any{"type": "object"},
				Handler: func(_ context.Context, args map[string]any) (any, error) {
					return map[string]any{"echo": args["msg"]}, nil
				},
			},
			{
				Name:        "fail",
				Description: "always fails",
				InputSchema: map[string]any{"type": "object"},
				Handler: func(context.Context, map[string]any) (any, error) {
					return nil, fmt.Errorf("deliberate failure")
				},
			},
			{
				Name:        "panic",
				Description: "always panics",
				InputSchema: map[string]any{"type": "object"},
				Handler: func(context.Context, map[string]any) (any, error) {
					panic("boom")
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNewRejectsDuplicateTools(t *testing.T) {
	h := func(context.Context, map[string]any) (any, error) { return nil, nil }
	_, err := New(Config{Tools: []Tool{
		{Name: "dup", Handler: h},
		{Name: "dup", Handler: h},
	}})
	if err == nil {
		t.Fatal("expected duplicate name error, got nil")
	}
}

// roundTrip feeds one frame through HandleRaw and decodes the response.
func roundTrip(t *testing.T, s *Server, frame string) *response {
	t.Helper()
	resp := s.HandleRaw(context.Background(), []byte(frame))
	if resp == nil {
		t.Fatalf("HandleRaw(%s) returned nil response", frame)
	}
	return resp
}

func TestInitialize(t *testing.T) {
	s := testServer(t)
	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v, want %v", result["protocolVersion"], protocolVersion)
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "test-server" {
		t.Errorf("serverInfo.name = %v, want test-server", info["name"])
	}
}

func TestToolsListCatalog(t *testing.T) {
	s := testServer(t)
	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	tools := resp.Result.(map[string]any)["tools"].([]descriptor)
	if len(tools) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(tools))
	}
	for _, d := range tools {
		if d.Name == "" || len(d.InputSchema) == 0 {
			t.Errorf("descriptor %+v missing name or inputSchema", d)
		}
	}
}

func TestToolsCall(t *testing.T) {
	s := testServer(t)
	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}`)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	blocks := resp.Result.(map[string]any)["content"].([]contentBlock)
	if len(blocks) != 1 || blocks[0].Type != "text" {
		t.Fatalf("content = %+v, want one text block", blocks)
	}
	if blocks[0].Text != `{"echo":"hi"}` {
		t.Errorf("text = %q, want %q", blocks[0].Text, `{"echo":"hi"}`)
	}
}

func TestToolsCallFailures(t *testing.T) {
	s := testServer(t)
	cases := []struct {
		name     string
		frame    string
		wantCode int
	}{
		{"unknown tool", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope"}}`, codeToolFailure},
		{"handler error", `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"fail"}}`, codeToolFailure},
		{"handler panic", `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"panic"}}`, codeToolFailure},
		{"missing name", `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{}}`, codeInvalidParams},
		{"bad params shape", `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":5}}`, codeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := roundTrip(t, s, tc.frame)
			if resp.Error == nil {
				t.Fatal("expected error response, got result")
			}
			if resp.Error.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", resp.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	s := testServer(t)
	resp := roundTrip(t, s, `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeMethodNotFound)
	}
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	s := testServer(t)
	if resp := s.HandleRaw(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); resp != nil {
		t.Errorf("notification answered: %+v", resp)
	}
}

func TestMalformedFrames(t *testing.T) {
	s := testServer(t)

	// Unrecoverable garbage: dropped.
	if resp := s.HandleRaw(context.Background(), []byte(`{{{`)); resp != nil {
		t.Errorf("garbage frame answered: %+v", resp)
	}

	// Salvageable id: parse error echoed back.
	resp := s.HandleRaw(context.Background(), []byte(`{"id":10,"method":5}`))
	if resp == nil || resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("resp = %+v, want parse error with recovered id", resp)
	}
}

// TestServeStdioSession drives a full stdio session and checks frames
// survive interleaved garbage.
func TestServeStdioSession(t *testing.T) {
	s := testServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`this is not JSON at all`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hola"}}}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := s.ServeStdio(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("ServeStdio failed: %v", err)
	}

	var ids []float64
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("non-JSON response line: %s", scanner.Text())
		}
		ids = append(ids, resp["id"].(float64))
		if resp["error"] != nil {
			t.Errorf("unexpected error for id %v: %v", resp["id"], resp["error"])
		}
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("response ids = %v, want [1 2 3]", ids)
	}
}

func TestServeHTTPEnvelope(t *testing.T) {
	s := testServer(t)

	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	req := httptest.NewRequest("POST", "/mcp", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp["error"] != nil {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestServeHTTPProtocolErrorsAre200(t *testing.T) {
	s := testServer(t)

	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"no/such"}`)
	req := httptest.NewRequest("POST", "/mcp", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200 for protocol-level error", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	errObj := resp["error"].(map[string]any)
	if errObj["code"].(float64) != codeMethodNotFound {
		t.Errorf("code = %v, want %d", errObj["code"], codeMethodNotFound)
	}
}

func TestServeHTTPRejectsGet(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/mcp", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != 405 {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
