// Package agent runs the tool-use loop: ship the conversation and the
// tool catalog to the model, execute whatever tools it asks for, feed
// the results back, and repeat until the model answers in plain text
// or the hop budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/quetzalai/quetzal/internal/llm"
	"github.com/quetzalai/quetzal/internal/mcp"
	"github.com/quetzalai/quetzal/internal/sandbox"
	"github.com/quetzalai/quetzal/internal/trace"
)

const (
	// DefaultMaxHops bounds model→tools round trips per turn.
	DefaultMaxHops = 3

	// fallbackAnswer is returned when the model produced no usable text.
	fallbackAnswer = "(no answer)"

	// nudge steers the hop after tool results toward a plain answer.
	nudge = "Return one concise answer in the user's language; do not show raw JSON."
)

// TurnState is the terminal state of one chat turn.
type TurnState int

const (
	// StateDone means the model answered within the hop budget.
	StateDone TurnState = iota
	// StateAborted means the budget ran out before a text answer.
	StateAborted
)

func (s TurnState) String() string {
	if s == StateAborted {
		return "aborted"
	}
	return "done"
}

// HopTrace records what one hop did, for debug output.
type HopTrace struct {
	Hop          int
	ToolCalls    []string
	TextLen      int
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	Answer       string
	State        TurnState
	Session      string
	Hops         int
	InputTokens  int
	OutputTokens int
	Trace        []HopTrace

	// Messages is the updated history including this turn.
	Messages []llm.Message
}

// Config configures an Engine.
type Config struct {
	LLM          llm.Client
	Model        string
	Tools        *Registry
	Sandbox      *sandbox.Sandbox
	Store        *trace.Store // nil disables the tool-call journal
	MaxHops      int
	SystemPrompt string
	Logger       *slog.Logger
}

// Engine drives chat turns against a model and a tool registry.
type Engine struct {
	llm          llm.Client
	model        string
	tools        *Registry
	sandbox      *sandbox.Sandbox
	store        *trace.Store
	maxHops      int
	systemPrompt string
	logger       *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:          cfg.LLM,
		model:        cfg.Model,
		tools:        cfg.Tools,
		sandbox:      cfg.Sandbox,
		store:        cfg.Store,
		maxHops:      maxHops,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With("component", "agent"),
	}, nil
}

// errorPayload is the structured tool-result body used when a tool
// invocation fails. The failure goes back into the conversation so
// the model can react; it never aborts the turn.
type errorPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func errorResult(err error) string {
	data, _ := json.Marshal(errorPayload{OK: false, Error: err.Error()})
	return string(data)
}

// ChatTurn runs one turn: history plus the new user message, up to
// maxHops model calls. Transport and inference failures are returned
// as errors; tool and sandbox failures are folded into the
// conversation instead.
func (e *Engine) ChatTurn(ctx context.Context, history []llm.Message, userText string) (*TurnResult, error) {
	sessionID, _ := uuid.NewV7()
	session := sessionID.String()

	messages := make([]llm.Message, 0, len(history)+2)
	if e.systemPrompt != "" && !hasSystem(history) {
		messages = append(messages, llm.Message{Role: "system", Content: e.systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	decls := e.tools.Declarations()

	e.logger.Info("turn started",
		"session", session,
		"model", e.model,
		"tools", len(decls),
		"max_hops", e.maxHops,
	)

	result := &TurnResult{Session: session}
	startTime := time.Now()

	for hop := 0; hop < e.maxHops; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		hopStart := time.Now()
		resp, err := e.llm.Chat(ctx, e.model, messages, decls)
		if err != nil {
			return nil, fmt.Errorf("model call failed (hop %d): %w", hop, err)
		}

		result.Hops = hop + 1
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		ht := HopTrace{
			Hop:          hop,
			TextLen:      len(resp.Message.Content),
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
		for _, tc := range resp.Message.ToolCalls {
			ht.ToolCalls = append(ht.ToolCalls, tc.Function.Name)
		}

		e.logger.Debug("hop complete",
			"session", session,
			"hop", hop,
			"tool_calls", len(resp.Message.ToolCalls),
			"text_len", len(resp.Message.Content),
			"elapsed", time.Since(hopStart).Round(time.Millisecond),
		)

		// No tool calls: the model answered.
		if len(resp.Message.ToolCalls) == 0 {
			messages = append(messages, resp.Message)
			ht.Elapsed = time.Since(hopStart)
			result.Trace = append(result.Trace, ht)

			answer := resp.Message.Content
			if answer == "" {
				answer = fallbackAnswer
			}
			result.Answer = answer
			result.State = StateDone
			result.Messages = messages

			e.logger.Info("turn done",
				"session", session,
				"hops", result.Hops,
				"input_tokens", result.InputTokens,
				"output_tokens", result.OutputTokens,
				"elapsed", time.Since(startTime).Round(time.Millisecond),
			)
			return result, nil
		}

		// Execute the requested tools in order.
		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			content, err := e.invokeTool(ctx, session, hop, tc)
			if err != nil {
				return nil, fmt.Errorf("tool %s failed (hop %d): %w", tc.Function.Name, hop, err)
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}

		messages = append(messages, llm.Message{Role: "user", Content: nudge})

		ht.Elapsed = time.Since(hopStart)
		result.Trace = append(result.Trace, ht)
	}

	e.logger.Warn("hop budget exhausted",
		"session", session,
		"max_hops", e.maxHops,
	)
	result.Answer = fallbackAnswer
	result.State = StateAborted
	result.Messages = messages
	return result, nil
}

// invokeTool sanitizes, executes, and journals one tool call. Sandbox
// and tool failures come back as an error payload string for the model
// to react to; a transport failure is returned as an error, since the
// server behind the tool is gone and further hops cannot reach it.
func (e *Engine) invokeTool(ctx context.Context, session string, hop int, tc llm.ToolCall) (string, error) {
	args := tc.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	content, callErr := e.callSanitized(ctx, tc.Function.Name, args)

	rec := trace.Record{
		Session:   session,
		Hop:       hop,
		Tool:      tc.Function.Name,
		Arguments: args,
		OK:        callErr == nil,
		Duration:  time.Since(start),
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	if err := e.store.Append(ctx, rec); err != nil {
		e.logger.Warn("trace append failed", "session", session, "error", err)
	}

	if callErr != nil {
		var terr *mcp.TransportError
		if errors.As(callErr, &terr) {
			e.logger.Error("transport failed",
				"session", session,
				"tool", tc.Function.Name,
				"error", callErr,
			)
			return "", callErr
		}
		var viol *sandbox.Violation
		if errors.As(callErr, &viol) {
			e.logger.Warn("sandbox violation",
				"session", session,
				"tool", tc.Function.Name,
				"path", viol.Path,
			)
		} else {
			e.logger.Error("tool call failed",
				"session", session,
				"tool", tc.Function.Name,
				"error", callErr,
			)
		}
		return errorResult(callErr), nil
	}

	e.logger.Debug("tool call done",
		"session", session,
		"tool", tc.Function.Name,
		"result_len", len(content),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return content, nil
}

// callSanitized applies the path sandbox before dispatching the call.
func (e *Engine) callSanitized(ctx context.Context, name string, args map[string]any) (string, error) {
	if e.sandbox != nil {
		clean, err := e.sandbox.Sanitize(args)
		if err != nil {
			return "", err
		}
		args = clean
	}
	return e.tools.CallTool(ctx, name, args)
}

func hasSystem(messages []llm.Message) bool {
	for _, m := range messages {
		if m.Role == "system" {
			return true
		}
	}
	return false
}
