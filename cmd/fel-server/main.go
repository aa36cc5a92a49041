// Fel-server is a demo MCP server exposing FEL invoice tools
// (fel_validate, fel_render, fel_batch). By default it speaks
// newline-delimited JSON-RPC on stdin/stdout; with -http it serves
// one envelope per POST instead.
//
// Usage:
//
//	fel-server                 Serve on stdio
//	fel-server -http :8090     Serve over HTTP
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quetzalai/quetzal/internal/buildinfo"
	"github.com/quetzalai/quetzal/internal/fel"
	"github.com/quetzalai/quetzal/internal/mcpserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var httpAddr string
	var debug bool

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-http" && i+1 < len(args):
			httpAddr = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-http="):
			httpAddr = strings.TrimPrefix(args[i], "-http=")
		case args[i] == "-debug":
			debug = true
		case args[i] == "-version":
			fmt.Fprintln(stdout, buildinfo.String())
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	// Logs go to stderr: stdout belongs to the protocol in stdio mode.
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	server, err := mcpserver.New(mcpserver.Config{
		Name:    "fel-server",
		Version: buildinfo.Version,
		Tools:   fel.Tools(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, logger)
	}

	logger.Info("serving MCP on stdio")
	return server.ServeStdio(ctx, stdin, stdout)
}

func serveHTTP(ctx context.Context, server *mcpserver.Server, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
