package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stopGracePeriod is how long Close waits for the subprocess to exit
// after stdin is closed before killing it.
const stopGracePeriod = 5 * time.Second

// StdioConfig configures a stdio MCP transport that communicates with
// a subprocess over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). These are appended to the current
	// process environment.
	Env []string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// callResult delivers the outcome of a pending request to its waiter.
// Exactly one of resp or err is set.
type callResult struct {
	resp *Response
	err  error
}

// StdioTransport communicates with an MCP server running as a
// subprocess. JSON-RPC messages are newline-delimited on stdin/stdout.
//
// A single background goroutine reads the subprocess's stdout and
// routes each parsed response to the waiter registered under its id,
// so multiple requests can be in flight concurrently and responses may
// arrive in any order. Each waiter is resolved exactly once: with its
// response, with KindTimeout when its context deadline fires, with
// KindProcessExited if the subprocess dies first, or with KindStopped
// when the transport is closed.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[int64]chan callResult
	started bool
	closed  bool
	exited  bool
	waitCh  chan struct{} // closed when cmd.Wait returns

	// writeMu serializes stdin writes separately from mu, so a write
	// blocked on a full pipe never stalls deliver or waitLoop.
	writeMu sync.Mutex
}

// NewStdioTransport creates a stdio transport for the given config.
// The subprocess is not spawned until Start is called.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:  cfg,
		logger:  logger,
		pending: make(map[int64]chan callResult),
		waitCh:  make(chan struct{}),
	}
}

// Start spawns the subprocess with stdin/stdout pipes and launches the
// background reader, stderr drain, and exit watcher.
func (t *StdioTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &TransportError{Kind: KindStopped}
	}
	if t.started {
		return nil
	}

	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	// Capture stderr for logging — not part of the protocol.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return &TransportError{Kind: KindStartupFailed, Err: fmt.Errorf("start subprocess %s: %w", t.config.Command, err)}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	go t.readLoop(stdout)
	go t.drainStderr(stderrPipe)
	go t.waitLoop()

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// readLoop reads stdout lines and routes each parsed response to the
// waiter registered under its id. Lines that are not valid JSON are
// logged at debug level and skipped — the subprocess may share stdout
// with diagnostic output. Parsed frames with no registered waiter are
// discarded as unsolicited notifications.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20) // responses can be large

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Debug("skipping non-JSON line from MCP subprocess",
				"line", string(line),
			)
			continue
		}

		t.deliver(&resp)
	}
	// EOF or read error: waitLoop handles the process exit and fails
	// any remaining waiters.
}

// deliver resolves the pending request matching the response id, if
// one is registered. The entry is removed under the lock before the
// send, so no response is ever delivered twice or to the wrong waiter.
func (t *StdioTransport) deliver(resp *Response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("skipping unmatched MCP message", "id", resp.ID)
		return
	}
	ch <- callResult{resp: resp} // buffered, never blocks
}

// drainStderr reads stderr lines and logs them at debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// waitLoop reaps the subprocess and fails all outstanding requests
// once it exits. Requests outstanding at Close resolve with
// KindStopped; an unexpected death resolves them with KindProcessExited.
func (t *StdioTransport) waitLoop() {
	err := t.cmd.Wait()

	t.mu.Lock()
	t.exited = true
	kind := KindProcessExited
	if t.closed {
		kind = KindStopped
	}
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- callResult{err: &TransportError{Kind: kind, Err: err}}
	}
	t.mu.Unlock()

	close(t.waitCh)

	if kind == KindProcessExited {
		t.logger.Warn("MCP subprocess exited", "error", err)
	}
}

// Send writes one JSON-RPC request line to the subprocess and blocks
// until the reader delivers the matching response, the context is
// done, or the subprocess terminates.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, &TransportError{Kind: KindStopped}
	}
	if t.exited {
		t.mu.Unlock()
		return nil, &TransportError{Kind: KindProcessExited}
	}
	if !t.started {
		t.mu.Unlock()
		return nil, &TransportError{Kind: KindStartupFailed, Err: errors.New("transport not started")}
	}

	// Register before writing so the reader can never race past us.
	ch := make(chan callResult, 1)
	t.pending[req.ID] = ch
	t.mu.Unlock()

	t.writeMu.Lock()
	_, werr := t.stdin.Write(append(data, '\n'))
	t.writeMu.Unlock()

	if werr != nil {
		t.unregister(req.ID)
		return nil, &TransportError{Kind: t.failureKind(), Err: fmt.Errorf("write to subprocess stdin: %w", werr)}
	}

	select {
	case <-ctx.Done():
		t.unregister(req.ID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TransportError{Kind: KindTimeout, Err: ctx.Err()}
		}
		return nil, ctx.Err()
	case res := <-ch:
		return res.resp, res.err
	}
}

// unregister removes a pending entry after a local failure. If the
// reader already claimed the entry its buffered result is simply
// dropped, preserving the exactly-once guarantee for the waiter.
func (t *StdioTransport) unregister(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// failureKind classifies a stdin write failure: KindStopped after a
// local Close, KindProcessExited otherwise.
func (t *StdioTransport) failureKind() TransportKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return KindStopped
	}
	return KindProcessExited
}

// Notify sends a JSON-RPC notification over stdin. No response is expected.
func (t *StdioTransport) Notify(_ context.Context, notif *Notification) error {
	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &TransportError{Kind: KindStopped}
	}
	if !t.started || t.exited {
		t.mu.Unlock()
		return &TransportError{Kind: KindProcessExited}
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	_, werr := t.stdin.Write(append(data, '\n'))
	t.writeMu.Unlock()

	if werr != nil {
		return &TransportError{Kind: t.failureKind(), Err: fmt.Errorf("write notification: %w", werr)}
	}
	return nil
}

// Close terminates the subprocess and fails outstanding requests with
// KindStopped. It closes stdin to request a graceful exit, waits for
// the grace period, then kills. Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	exited := t.exited
	stdin := t.stdin
	t.mu.Unlock()

	if !started {
		return nil
	}

	if t.cmd.Process != nil {
		t.logger.Info("stopping MCP subprocess", "pid", t.cmd.Process.Pid)
	}

	// Closing stdin signals the subprocess to exit.
	if stdin != nil {
		stdin.Close()
	}

	if exited {
		return nil
	}

	select {
	case <-t.waitCh:
		return nil
	case <-time.After(stopGracePeriod):
		t.logger.Warn("MCP subprocess did not exit gracefully, killing",
			"pid", t.cmd.Process.Pid,
		)
		_ = t.cmd.Process.Kill()
		<-t.waitCh
		return nil
	}
}
