// Package rpclog writes a JSONL log of raw JSON-RPC traffic, one
// entry per line, for offline inspection of a session's wire activity.
package rpclog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// entry is one logged frame.
type entry struct {
	Time      string `json:"time"`
	Direction string `json:"direction"`
	Data      any    `json:"data"`
}

// Writer appends wire frames to a session-scoped JSONL file. A nil
// *Writer is valid and discards everything, so callers never have to
// branch on whether logging is enabled.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

// Open creates the log file mcp_rpc_<session>.jsonl under dir,
// creating dir if needed.
func Open(dir, session string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("mcp_rpc_%s.jsonl", session))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open rpc log: %w", err)
	}
	return &Writer{f: f, logger: logger}, nil
}

// Path returns the underlying file path, or "" for a nil Writer.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.f.Name()
}

// Log appends one frame. Failures are logged and swallowed: wire
// logging must never break the session it observes.
func (w *Writer) Log(direction string, payload any) {
	if w == nil {
		return
	}
	e := entry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Direction: direction,
		Data:      payload,
	}
	data, err := json.Marshal(e)
	if err != nil {
		// Unmarshalable payload: record the failure in its place.
		e.Data = fmt.Sprintf("<unencodable: %v>", err)
		data, err = json.Marshal(e)
		if err != nil {
			w.logger.Warn("rpc log encode failed", "error", err)
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		w.logger.Warn("rpc log write failed", "error", err)
	}
}

// Close flushes and closes the file. Safe on nil.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
