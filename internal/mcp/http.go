package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/quetzalai/quetzal/internal/httpkit"
)

// HTTPConfig configures an HTTP MCP transport that communicates with a
// remote MCP server using one JSON-RPC envelope per POST.
type HTTPConfig struct {
	// URL is the MCP server endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request
	// (e.g., Authorization).
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport communicates with an MCP server over HTTP. Each
// JSON-RPC request is a single POST; correlation is implicit in the
// request/response pairing, so no background reader or pending map is
// needed. Transport-level failures are mapped onto the same
// TransportError taxonomy as the stdio variant so callers stay
// transport-agnostic.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPTransport creates an HTTP transport for the given config.
// The underlying HTTP client is constructed via httpkit.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)), // deadlines come from ctx
		logger:     logger,
	}
}

// Start validates the endpoint. There is no persistent connection to
// establish; the initialize handshake is an ordinary Send.
func (t *HTTPTransport) Start(_ context.Context) error {
	if t.url == "" {
		return &TransportError{Kind: KindStartupFailed, Err: errors.New("empty endpoint URL")}
	}
	return nil
}

// Send posts one JSON-RPC envelope and decodes the response envelope
// from the body. A 200 status is expected for both protocol-level
// success and protocol-level error; the JSON-RPC error field
// distinguishes the latter.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Kind: KindMalformedEnvelope, Detail: fmt.Sprintf("decode response body: %v", err)}
	}
	return &resp, nil
}

// Notify posts a JSON-RPC notification. 200 and 202 are both accepted;
// the body, if any, is discarded.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	_, err := t.post(ctx, notif)
	return err
}

// post marshals payload, POSTs it, and returns the response body.
// Failures are classified into the shared TransportError taxonomy.
func (t *HTTPTransport) post(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		return nil, &TransportError{Kind: KindConnectionFailed, Err: fmt.Errorf("POST %s: %w", t.url, err)}
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, &TransportError{
			Kind: KindConnectionFailed,
			Err:  fmt.Errorf("server returned %d: %s", httpResp.StatusCode, errBody),
		}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, &TransportError{Kind: KindConnectionFailed, Err: fmt.Errorf("read response body: %w", err)}
	}
	return body, nil
}

// Close is a no-op for HTTP transports. The underlying HTTP client
// manages its own connection pool via httpkit.
func (t *HTTPTransport) Close() error {
	return nil
}
