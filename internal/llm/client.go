// Package llm provides model backend clients for the agent loop.
package llm

import "context"

// Client is the interface every model backend implements.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
