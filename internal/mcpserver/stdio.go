package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single line frame, matching the client side.
const maxFrameSize = 10 << 20

// ServeStdio reads newline-delimited JSON-RPC frames from r and writes
// one response line per answered request to w. It returns when r hits
// EOF, the context is canceled, or a read error occurs. Malformed
// frames are answered or dropped per HandleRaw; they never end the
// loop.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var mu sync.Mutex
	write := func(resp *response) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		return nil
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)

		resp := s.HandleRaw(ctx, frame)
		if resp == nil {
			continue
		}
		if err := write(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}
